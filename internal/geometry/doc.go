// Package geometry provides the rigid-body primitives used by the servo loop.
//
//   - [Pose]: camera-from-object transform built from a translation and a
//     theta-u rotation vector
//   - [Twist]: six-dimensional velocity screw (vx, vy, vz, wx, wy, wz)
//   - [Plane]: plane in aX + bY + cZ + d = 0 form
//   - [Depth]: normalized depth model 1/Z = A·x + B·y + C
//
// [DepthModel] is the only operation in this package that can fail; it
// reports [ErrDegenerateGeometry] when the camera centre lies in the
// reference plane.
package geometry
