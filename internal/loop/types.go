package loop

import (
	"fmt"
	"time"

	"github.com/san-kum/momentservo/internal/control"
	"github.com/san-kum/momentservo/internal/display"
	"github.com/san-kum/momentservo/internal/features"
	"github.com/san-kum/momentservo/internal/geometry"
	"github.com/san-kum/momentservo/internal/robot"
	"github.com/san-kum/momentservo/internal/scene"
	"github.com/san-kum/momentservo/internal/timeutil"
)

// State is the lifecycle of a Loop.
type State int

const (
	Idle State = iota
	Initialized
	Running
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Robot is the velocity-controlled camera carrier.
type Robot interface {
	Pose() geometry.Pose
	SetPose(p geometry.Pose)
	SetVelocity(frame robot.Frame, v geometry.Twist) error
}

// Deps are the capabilities the loop drives. Display and Clock are optional.
type Deps struct {
	Renderer  scene.Renderer
	Extractor scene.Extractor
	Robot     Robot
	Display   display.Display
	Clock     timeutil.Clock
}

// Config holds the loop parameters.
type Config struct {
	// Plane is the target plane in the object frame.
	Plane      geometry.Plane
	Iterations int
	Period     time.Duration
	// Confirm waits for the operator after the first tick and at the end.
	Confirm bool
}

// FeatureSpec selects rows of one sub-feature.
type FeatureSpec struct {
	Name string
	Mask control.Mask
}

// TaskSpec describes the servo task built at initialization.
type TaskSpec struct {
	Features  []FeatureSpec
	Gain      float64
	Policy    control.Policy
	Threshold float64
}

// DefaultTaskSpec registers every sub-feature, keeping only sx and sy of the
// invariants, with gain 1 and the current interaction matrix.
func DefaultTaskSpec() TaskSpec {
	return TaskSpec{
		Features: []FeatureSpec{
			{Name: features.Centroid, Mask: control.MaskAll},
			{Name: features.Area, Mask: control.MaskAll},
			{Name: features.Invariants, Mask: control.MaskOf(0, 1)},
			{Name: features.Orientation, Mask: control.MaskAll},
		},
		Gain:      1,
		Policy:    control.Current,
		Threshold: control.DefaultThreshold,
	}
}

// Sample is the record of one tick.
type Sample struct {
	Iteration    int
	Elapsed      time.Duration
	Pose         geometry.Pose
	Velocity     geometry.Twist
	Error        []float64
	ErrorSquared float64
	Rank         int
}

// Observer is notified after every tick.
type Observer interface {
	OnTick(s Sample)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Sample)

func (f ObserverFunc) OnTick(s Sample) { f(s) }

// Metric accumulates a scalar over a run.
type Metric interface {
	Name() string
	Observe(s Sample)
	Value() float64
	Reset()
}

// Result summarizes a run.
type Result struct {
	Iterations int
	Samples    []Sample
	FinalPose  geometry.Pose
	FinalError float64
	Metrics    map[string]float64
	Elapsed    time.Duration
	Task       string
}
