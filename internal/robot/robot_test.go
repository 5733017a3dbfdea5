package robot

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/momentservo/internal/geometry"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestSaturate(t *testing.T) {
	tests := []struct {
		name  string
		v     geometry.Twist
		scale float64
	}{
		{"within limits", geometry.Twist{0.1, 0, 0, 0, 0, 0.5}, 1},
		{"linear bound", geometry.Twist{0.4, 0.1, 0, 0, 0, 0}, 0.5},
		{"angular bound", geometry.Twist{0, 0, 0.1, 0, 1.4, 0}, 0.5},
		{"tightest wins", geometry.Twist{0.4, 0, 0, 0, 0, 2.8}, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, scale := Saturate(tt.v, DefaultMaxLinear, DefaultMaxAngular)
			if math.Abs(scale-tt.scale) > 1e-12 {
				t.Fatalf("expected scale %v, got %v", tt.scale, scale)
			}
			for i := range got {
				if math.Abs(got[i]-tt.v[i]*tt.scale) > 1e-12 {
					t.Errorf("component %d: expected %v, got %v", i, tt.v[i]*tt.scale, got[i])
				}
			}
		})
	}
}

func TestSaturateDisabled(t *testing.T) {
	v := geometry.Twist{5, 0, 0, 0, 0, 9}
	got, scale := Saturate(v, 0, 0)
	if scale != 1 || got != v {
		t.Errorf("expected no saturation, got %v (scale %v)", got, scale)
	}
}

func TestSetVelocityTranslates(t *testing.T) {
	c := NewCamera(WithSamplingTime(0.1), WithSaturation(0, 0))
	c.SetPose(geometry.NewPose(r3.Vec{Z: 1}, r3.Vec{}))

	// Moving the camera forward brings the object closer.
	if err := c.SetVelocity(CameraFrame, geometry.Twist{0, 0, 1, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if z := c.Pose().T.Z; math.Abs(z-0.9) > 1e-12 {
		t.Errorf("expected Z = 0.9, got %v", z)
	}
}

func TestSetVelocityRotates(t *testing.T) {
	c := NewCamera(WithSamplingTime(1), WithSaturation(0, 0))
	if err := c.SetVelocity(CameraFrame, geometry.Twist{0, 0, 0, 0, 0, 0.3}); err != nil {
		t.Fatal(err)
	}
	tu := c.Pose().ThetaU()
	if math.Abs(tu.Z+0.3) > 1e-12 {
		t.Errorf("expected object rotation -0.3 about Z, got %v", tu)
	}
}

func TestSetVelocitySaturates(t *testing.T) {
	c := NewCamera(WithSamplingTime(1))
	if err := c.SetVelocity(CameraFrame, geometry.Twist{1, 0, 0, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if v := c.Velocity(); math.Abs(v[0]-DefaultMaxLinear) > 1e-12 {
		t.Errorf("expected saturated vx %v, got %v", DefaultMaxLinear, v[0])
	}
	if c.Saturations() != 1 {
		t.Errorf("expected 1 saturation, got %d", c.Saturations())
	}
}

func TestSetVelocityRejects(t *testing.T) {
	c := NewCamera()
	if err := c.SetVelocity(ReferenceFrame, geometry.Twist{}); !errors.Is(err, ErrUnsupportedFrame) {
		t.Errorf("expected ErrUnsupportedFrame, got %v", err)
	}
	if err := c.SetVelocity(CameraFrame, geometry.Twist{math.NaN()}); err == nil {
		t.Error("expected error for NaN velocity")
	}
}
