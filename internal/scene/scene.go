package scene

import (
	"errors"
	"fmt"
	"image"

	"github.com/san-kum/momentservo/internal/geometry"
	"golang.org/x/image/math/f32"
	"golang.org/x/image/vector"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrBehindCamera indicates a target vertex at or behind the image plane.
var ErrBehindCamera = errors.New("scene: target vertex behind the camera")

// Intrinsics are pinhole parameters without distortion.
type Intrinsics struct {
	Px, Py float64 // focal lengths in pixels
	U0, V0 float64 // principal point
	Width  int
	Height int
}

// DefaultIntrinsics is a 640x480 camera with the principal point centred.
func DefaultIntrinsics() Intrinsics {
	return Intrinsics{Px: 640, Py: 480, U0: 320, V0: 240, Width: 640, Height: 480}
}

// ToPixel maps a normalized point to pixel coordinates.
func (c Intrinsics) ToPixel(p r2.Vec) r2.Vec {
	return r2.Vec{X: c.U0 + c.Px*p.X, Y: c.V0 + c.Py*p.Y}
}

// ToNormalized maps pixel coordinates to a normalized point.
func (c Intrinsics) ToNormalized(u, v float64) r2.Vec {
	return r2.Vec{X: (u - c.U0) / c.Px, Y: (v - c.V0) / c.Py}
}

// Validate reports unusable parameters.
func (c Intrinsics) Validate() error {
	if c.Px <= 0 || c.Py <= 0 {
		return fmt.Errorf("scene: focal lengths must be positive, got (%g, %g)", c.Px, c.Py)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("scene: image size must be positive, got %dx%d", c.Width, c.Height)
	}
	return nil
}

// Target is a planar polygon expressed in the object frame.
type Target struct {
	Vertices []r3.Vec
}

// Rectangle returns a w x h rectangle centred on the object origin in Z=0.
func Rectangle(w, h float64) Target {
	return Target{Vertices: []r3.Vec{
		{X: -w / 2, Y: -h / 2},
		{X: w / 2, Y: -h / 2},
		{X: w / 2, Y: h / 2},
		{X: -w / 2, Y: h / 2},
	}}
}

// Plane returns the supporting plane of the polygon using Newell's normal.
func (t Target) Plane() (geometry.Plane, error) {
	if len(t.Vertices) < 3 {
		return geometry.Plane{}, fmt.Errorf("scene: target needs at least 3 vertices, got %d", len(t.Vertices))
	}
	var n, centre r3.Vec
	for i, a := range t.Vertices {
		b := t.Vertices[(i+1)%len(t.Vertices)]
		n.X += (a.Y - b.Y) * (a.Z + b.Z)
		n.Y += (a.Z - b.Z) * (a.X + b.X)
		n.Z += (a.X - b.X) * (a.Y + b.Y)
		centre = r3.Add(centre, a)
	}
	if r3.Norm(n) == 0 {
		return geometry.Plane{}, errors.New("scene: target vertices are collinear")
	}
	n = r3.Unit(n)
	centre = r3.Scale(1/float64(len(t.Vertices)), centre)
	return geometry.Plane{A: n.X, B: n.Y, C: n.Z, D: -r3.Dot(n, centre)}, nil
}

// Frame is the view of the target from one pose.
type Frame struct {
	Pose    geometry.Pose
	Camera  Intrinsics
	Polygon []r2.Vec // normalized image coordinates

	raster *image.Alpha
}

// Raster draws the polygon into an anti-aliased coverage mask. The result is
// cached on the frame.
func (f *Frame) Raster() *image.Alpha {
	if f.raster != nil {
		return f.raster
	}
	w, h := f.Camera.Width, f.Camera.Height
	dst := image.NewAlpha(image.Rect(0, 0, w, h))
	f.raster = dst
	if len(f.Polygon) < 3 {
		return dst
	}
	z := vector.NewRasterizer(w, h)
	for i, p := range f.Polygon {
		px := f.Camera.ToPixel(p)
		v := f32.Vec2{float32(px.X), float32(px.Y)}
		if i == 0 {
			z.MoveTo(v[0], v[1])
		} else {
			z.LineTo(v[0], v[1])
		}
	}
	z.ClosePath()
	z.Draw(dst, dst.Bounds(), image.Opaque, image.Point{})
	return dst
}

// Renderer produces the view of the scene for a camera pose.
type Renderer interface {
	Render(pose geometry.Pose) (*Frame, error)
}

// ProjectionRenderer projects the target polygon through a pinhole camera.
type ProjectionRenderer struct {
	target Target
	camera Intrinsics
}

// NewProjectionRenderer returns a renderer for target seen by camera.
func NewProjectionRenderer(target Target, camera Intrinsics) *ProjectionRenderer {
	return &ProjectionRenderer{target: target, camera: camera}
}

// Target returns the rendered target.
func (r *ProjectionRenderer) Target() Target { return r.target }

// Render projects every vertex with x = X/Z, y = Y/Z.
func (r *ProjectionRenderer) Render(pose geometry.Pose) (*Frame, error) {
	poly := make([]r2.Vec, len(r.target.Vertices))
	for i, v := range r.target.Vertices {
		c := pose.Apply(v)
		if c.Z <= 0 {
			return nil, fmt.Errorf("%w: vertex %d at Z=%.4g", ErrBehindCamera, i, c.Z)
		}
		poly[i] = r2.Vec{X: c.X / c.Z, Y: c.Y / c.Z}
	}
	return &Frame{Pose: pose, Camera: r.camera, Polygon: poly}, nil
}
