package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Twist is a velocity screw (vx, vy, vz, wx, wy, wz) in m/s and rad/s.
type Twist [6]float64

// Linear returns the translational part.
func (v Twist) Linear() r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }

// Angular returns the rotational part.
func (v Twist) Angular() r3.Vec { return r3.Vec{X: v[3], Y: v[4], Z: v[5]} }

// Norm returns the Euclidean norm of all six components.
func (v Twist) Norm() float64 {
	sum := 0.0
	for _, c := range v {
		sum += c * c
	}
	return math.Sqrt(sum)
}

// Scale returns v·k.
func (v Twist) Scale(k float64) Twist {
	for i := range v {
		v[i] *= k
	}
	return v
}

// Exp integrates the twist over dt seconds and returns the displacement of the
// moved frame expressed in the original one (SE(3) exponential map).
func (v Twist) Exp(dt float64) Pose {
	u := r3.Scale(dt, v.Angular())
	d := r3.Scale(dt, v.Linear())
	theta := r3.Norm(u)
	sinc, mcosc := sincTerms(theta)
	ms := msinc(theta)

	ua := [3]float64{u.X, u.Y, u.Z}
	da := [3]float64{d.X, d.Y, d.Z}
	// V = sinc·I + msinc·uuᵀ + mcosc·[u]x
	var t [3]float64
	for i := 0; i < 3; i++ {
		t[i] = sinc * da[i]
		for j := 0; j < 3; j++ {
			t[i] += ms * ua[i] * ua[j] * da[j]
		}
	}
	cross := r3.Cross(u, d)
	t[0] += mcosc * cross.X
	t[1] += mcosc * cross.Y
	t[2] += mcosc * cross.Z

	return Pose{R: rotationFromThetaU(u), T: r3.Vec{X: t[0], Y: t[1], Z: t[2]}}
}
