package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Plane holds the coefficients of aX + bY + cZ + d = 0.
type Plane struct {
	A, B, C, D float64
}

// Normal returns (a, b, c).
func (p Plane) Normal() r3.Vec { return r3.Vec{X: p.A, Y: p.B, Z: p.C} }

// ChangeFrame expresses a plane given in the object frame in the camera frame
// of cMo.
func (p Plane) ChangeFrame(cMo Pose) Plane {
	n := cMo.R.MulVec(p.Normal())
	return Plane{A: n.X, B: n.Y, C: n.Z, D: p.D - r3.Dot(cMo.T, n)}
}

func (p Plane) String() string {
	return fmt.Sprintf("(%.4g, %.4g, %.4g, %.4g)", p.A, p.B, p.C, p.D)
}

// Depth is the normalized plane model 1/Z = A·x + B·y + C.
type Depth struct {
	A, B, C float64
}

// InverseZ evaluates 1/Z at the normalized image point (x, y).
func (d Depth) InverseZ(x, y float64) float64 {
	return d.A*x + d.B*y + d.C
}

// DepthModel expresses the object-frame reference plane in the camera frame of
// pose and normalizes it by its offset. It fails with ErrDegenerateGeometry
// when the offset is within machine epsilon of zero.
func DepthModel(plane Plane, pose Pose) (Depth, error) {
	cp := plane.ChangeFrame(pose)
	if math.Abs(cp.D) < epsilon {
		return Depth{}, &PlaneError{Pose: pose, Plane: cp, Wrapped: ErrDegenerateGeometry}
	}
	return Depth{
		A: -cp.A / cp.D,
		B: -cp.B / cp.D,
		C: -cp.C / cp.D,
	}, nil
}

// epsilon is the float64 machine epsilon.
const epsilon = 2.220446049250313e-16
