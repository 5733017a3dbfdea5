package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Rotation is a 3x3 rotation matrix in row-major order.
type Rotation [3][3]float64

// Pose is the homogeneous transform cMo: a point X expressed in the object
// frame maps to R·X + T in the camera frame.
type Pose struct {
	R Rotation
	T r3.Vec
}

// Identity returns the identity transform.
func Identity() Pose {
	return Pose{R: identityRotation()}
}

// NewPose builds a pose from a translation and a theta-u rotation vector.
func NewPose(t, thetaU r3.Vec) Pose {
	return Pose{R: rotationFromThetaU(thetaU), T: t}
}

// PoseFromVector builds a pose from (tx, ty, tz, tux, tuy, tuz).
func PoseFromVector(v [6]float64) Pose {
	return NewPose(r3.Vec{X: v[0], Y: v[1], Z: v[2]}, r3.Vec{X: v[3], Y: v[4], Z: v[5]})
}

// Vector returns (tx, ty, tz, tux, tuy, tuz).
func (p Pose) Vector() [6]float64 {
	tu := p.ThetaU()
	return [6]float64{p.T.X, p.T.Y, p.T.Z, tu.X, tu.Y, tu.Z}
}

// Apply maps an object-frame point into the camera frame.
func (p Pose) Apply(x r3.Vec) r3.Vec {
	return r3.Add(p.R.MulVec(x), p.T)
}

// Mul returns the composition p·q.
func (p Pose) Mul(q Pose) Pose {
	return Pose{
		R: p.R.Mul(q.R),
		T: r3.Add(p.R.MulVec(q.T), p.T),
	}
}

// Inverse returns p⁻¹.
func (p Pose) Inverse() Pose {
	rt := p.R.Transpose()
	return Pose{R: rt, T: r3.Scale(-1, rt.MulVec(p.T))}
}

// ThetaU returns the rotation as a theta-u vector with θ in [0, π].
func (p Pose) ThetaU() r3.Vec {
	r := p.R
	s := r3.Vec{
		X: (r[2][1] - r[1][2]) / 2,
		Y: (r[0][2] - r[2][0]) / 2,
		Z: (r[1][0] - r[0][1]) / 2,
	}
	c := (r[0][0] + r[1][1] + r[2][2] - 1) / 2
	c = math.Max(-1, math.Min(1, c))
	sinTheta := r3.Norm(s)
	theta := math.Atan2(sinTheta, c)

	if sinTheta > 1e-8 {
		return r3.Scale(theta/sinTheta, s)
	}
	if c > 0 {
		return s
	}

	// theta close to pi: R = 2uuᵀ - I
	k := 0
	for i := 1; i < 3; i++ {
		if r[i][i] > r[k][k] {
			k = i
		}
	}
	var u [3]float64
	u[k] = math.Sqrt((r[k][k] + 1) / 2)
	for j := 0; j < 3; j++ {
		if j != k {
			u[j] = r[j][k] / (2 * u[k])
		}
	}
	return r3.Scale(theta, r3.Vec{X: u[0], Y: u[1], Z: u[2]})
}

// ApproxEqual reports whether both poses agree within tol on every element.
func (p Pose) ApproxEqual(q Pose, tol float64) bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(p.R[i][j]-q.R[i][j]) > tol {
				return false
			}
		}
	}
	d := r3.Sub(p.T, q.T)
	return math.Abs(d.X) <= tol && math.Abs(d.Y) <= tol && math.Abs(d.Z) <= tol
}

func (p Pose) String() string {
	v := p.Vector()
	return fmt.Sprintf("t=(%.4f, %.4f, %.4f) tu=(%.2f°, %.2f°, %.2f°)",
		v[0], v[1], v[2], Degrees(v[3]), Degrees(v[4]), Degrees(v[5]))
}

func identityRotation() Rotation {
	return Rotation{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// MulVec returns R·v.
func (r Rotation) MulVec(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: r[0][0]*v.X + r[0][1]*v.Y + r[0][2]*v.Z,
		Y: r[1][0]*v.X + r[1][1]*v.Y + r[1][2]*v.Z,
		Z: r[2][0]*v.X + r[2][1]*v.Y + r[2][2]*v.Z,
	}
}

// Mul returns r·q.
func (r Rotation) Mul(q Rotation) Rotation {
	var out Rotation
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += r[i][k] * q[k][j]
			}
		}
	}
	return out
}

// Transpose returns rᵀ, which is also r⁻¹.
func (r Rotation) Transpose() Rotation {
	var out Rotation
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = r[j][i]
		}
	}
	return out
}

// rotationFromThetaU applies the Rodrigues formula
// R = cosθ·I + sinc(θ)·[u]x + mcosc(θ)·uuᵀ.
func rotationFromThetaU(u r3.Vec) Rotation {
	theta := r3.Norm(u)
	sinc, mcosc := sincTerms(theta)
	c := math.Cos(theta)

	v := [3]float64{u.X, u.Y, u.Z}
	var r Rotation
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = mcosc * v[i] * v[j]
		}
		r[i][i] += c
	}
	r[0][1] -= sinc * u.Z
	r[0][2] += sinc * u.Y
	r[1][0] += sinc * u.Z
	r[1][2] -= sinc * u.X
	r[2][0] -= sinc * u.Y
	r[2][1] += sinc * u.X
	return r
}

// sincTerms returns sin(θ)/θ and (1-cos θ)/θ² with their series near zero.
func sincTerms(theta float64) (sinc, mcosc float64) {
	if theta < 1e-6 {
		t2 := theta * theta
		return 1 - t2/6, 0.5 - t2/24
	}
	return math.Sin(theta) / theta, (1 - math.Cos(theta)) / (theta * theta)
}

// msinc returns (θ - sin θ)/θ³.
func msinc(theta float64) float64 {
	if theta < 1e-4 {
		return 1.0/6 - theta*theta/120
	}
	return (theta - math.Sin(theta)) / (theta * theta * theta)
}

// Radians converts degrees to radians.
func Radians(deg float64) float64 { return deg * math.Pi / 180 }

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 { return rad * 180 / math.Pi }
