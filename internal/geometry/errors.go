package geometry

import (
	"errors"
	"fmt"
)

// ErrDegenerateGeometry indicates the plane offset vanished in camera frame so
// the depth model 1/Z = Ax + By + C cannot be formed.
var ErrDegenerateGeometry = errors.New("geometry: cannot put plane in the form 1/Z=Ax+By+C")

// PlaneError carries the pose and plane that produced a degenerate depth model.
type PlaneError struct {
	Pose    Pose
	Plane   Plane
	Wrapped error
}

func (e *PlaneError) Error() string {
	return fmt.Sprintf("invalid position %v (camera-frame plane %v): %v", e.Pose, e.Plane, e.Wrapped)
}

func (e *PlaneError) Unwrap() error {
	return e.Wrapped
}
