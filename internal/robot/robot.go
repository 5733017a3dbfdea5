// Package robot simulates a free-flying camera driven in velocity.
package robot

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/san-kum/momentservo/internal/geometry"
)

// Frame names the frame a velocity is expressed in.
type Frame int

const (
	CameraFrame Frame = iota
	ReferenceFrame
	ArticularFrame
)

func (f Frame) String() string {
	switch f {
	case CameraFrame:
		return "camera"
	case ReferenceFrame:
		return "reference"
	case ArticularFrame:
		return "articular"
	}
	return fmt.Sprintf("Frame(%d)", int(f))
}

var ErrUnsupportedFrame = errors.New("robot: unsupported velocity frame")

// Defaults for the free-flying camera.
const (
	DefaultSamplingTime = 0.040
	DefaultMaxLinear    = 0.2
	DefaultMaxAngular   = 0.7
)

// Camera is a free-flying camera whose pose cMo is integrated with the SE(3)
// exponential map each time a velocity is applied.
type Camera struct {
	mu         sync.Mutex
	pose       geometry.Pose
	dt         float64
	maxLinear  float64
	maxAngular float64
	last       geometry.Twist
	saturated  int
}

// Option configures a Camera.
type Option func(*Camera)

// WithSamplingTime sets the integration step in seconds.
func WithSamplingTime(dt float64) Option {
	return func(c *Camera) { c.dt = dt }
}

// WithSaturation sets the velocity limits; zero disables a limit.
func WithSaturation(linear, angular float64) Option {
	return func(c *Camera) {
		c.maxLinear = linear
		c.maxAngular = angular
	}
}

// NewCamera returns a camera at the identity pose.
func NewCamera(opts ...Option) *Camera {
	c := &Camera{
		pose:       geometry.Identity(),
		dt:         DefaultSamplingTime,
		maxLinear:  DefaultMaxLinear,
		maxAngular: DefaultMaxAngular,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pose returns cMo.
func (c *Camera) Pose() geometry.Pose {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pose
}

// SetPose places the camera.
func (c *Camera) SetPose(p geometry.Pose) {
	c.mu.Lock()
	c.pose = p
	c.mu.Unlock()
}

func (c *Camera) SamplingTime() float64 { return c.dt }

// SetVelocity saturates v and moves the camera along it for one sampling
// time: cMo ← exp(v·dt)⁻¹ · cMo.
func (c *Camera) SetVelocity(frame Frame, v geometry.Twist) error {
	if frame != CameraFrame {
		return fmt.Errorf("%w: %s", ErrUnsupportedFrame, frame)
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("robot: non-finite velocity component %d", i)
		}
	}
	sv, scale := Saturate(v, c.maxLinear, c.maxAngular)

	c.mu.Lock()
	defer c.mu.Unlock()
	if scale < 1 {
		c.saturated++
	}
	c.last = sv
	c.pose = sv.Exp(c.dt).Inverse().Mul(c.pose)
	return nil
}

// Velocity returns the last applied (saturated) velocity.
func (c *Camera) Velocity() geometry.Twist {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Saturations returns how many commands were scaled down.
func (c *Camera) Saturations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saturated
}

// Saturate scales all six components by one common factor so that no
// translational component exceeds maxLinear and no rotational one exceeds
// maxAngular. A non-positive limit is ignored. It returns the scaled twist
// and the factor applied.
func Saturate(v geometry.Twist, maxLinear, maxAngular float64) (geometry.Twist, float64) {
	scale := 1.0
	for i, x := range v {
		limit := maxLinear
		if i >= 3 {
			limit = maxAngular
		}
		if limit <= 0 {
			continue
		}
		if a := math.Abs(x); a > limit {
			scale = math.Min(scale, limit/a)
		}
	}
	if scale < 1 {
		return v.Scale(scale), scale
	}
	return v, 1
}
