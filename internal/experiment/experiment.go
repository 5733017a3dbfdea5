package experiment

import (
	"context"
	"errors"
	"fmt"

	"github.com/san-kum/momentservo/internal/config"
	"github.com/san-kum/momentservo/internal/control"
	"github.com/san-kum/momentservo/internal/display"
	"github.com/san-kum/momentservo/internal/geometry"
	"github.com/san-kum/momentservo/internal/loop"
	"github.com/san-kum/momentservo/internal/robot"
	"github.com/san-kum/momentservo/internal/scene"
	"github.com/san-kum/momentservo/internal/timeutil"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"
)

// Experiment is one configured servo run.
type Experiment struct {
	cfg       *config.Config
	loop      *loop.Loop
	robot     *robot.Camera
	display   display.Display
	initial   geometry.Pose
	desired   geometry.Pose
	spec      loop.TaskSpec
	logger    *zap.Logger
	clock     timeutil.Clock
	observers []loop.Observer
}

type Option func(*Experiment)

func WithLogger(l *zap.Logger) Option {
	return func(e *Experiment) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithClock(c timeutil.Clock) Option {
	return func(e *Experiment) { e.clock = c }
}

func WithObserver(o loop.Observer) Option {
	return func(e *Experiment) { e.observers = append(e.observers, o) }
}

// WithDisplay overrides the display named in the configuration.
func WithDisplay(d display.Display) Option {
	return func(e *Experiment) { e.display = d }
}

// New validates cfg and assembles the renderer, extractor, robot, display
// and loop it describes.
func New(cfg *config.Config, reg *Registry, opts ...Option) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if reg == nil {
		reg = NewRegistry()
	}

	e := &Experiment{
		cfg:     cfg,
		initial: cfg.Initial.Pose(),
		desired: cfg.Desired.Pose(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	spec, err := TaskSpec(cfg.Task)
	if err != nil {
		return nil, err
	}
	e.spec = spec

	camera := scene.Intrinsics{
		Px: cfg.Camera.Px, Py: cfg.Camera.Py,
		U0: cfg.Camera.U0, V0: cfg.Camera.V0,
		Width: cfg.Camera.Width, Height: cfg.Camera.Height,
	}
	if err := camera.Validate(); err != nil {
		return nil, err
	}
	target := Target(cfg.Target)
	plane, err := target.Plane()
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}

	extractor, err := reg.GetExtractor(cfg.Extractor)
	if err != nil {
		return nil, err
	}

	e.robot = robot.NewCamera(
		robot.WithSamplingTime(cfg.Robot.SamplingTime),
		robot.WithSaturation(cfg.Robot.MaxLinear, cfg.Robot.MaxAngular),
	)

	if e.display == nil {
		title := cfg.Name
		if title == "" {
			title = "momentservo"
		}
		d, err := reg.GetDisplay(cfg.Display, title)
		if err != nil {
			return nil, err
		}
		e.display = d
	}

	loopOpts := []loop.Option{loop.WithLogger(e.logger)}
	for _, m := range reg.DefaultMetrics() {
		loopOpts = append(loopOpts, loop.WithMetric(m))
	}
	for _, o := range e.observers {
		loopOpts = append(loopOpts, loop.WithObserver(o))
	}

	l, err := loop.New(loop.Config{
		Plane:      plane,
		Iterations: cfg.Loop.Iterations,
		Period:     cfg.Loop.Period,
		Confirm:    cfg.Loop.Confirm,
	}, loop.Deps{
		Renderer:  scene.NewProjectionRenderer(target, camera),
		Extractor: extractor,
		Robot:     e.robot,
		Display:   e.display,
		Clock:     e.clock,
	}, loopOpts...)
	if err != nil {
		e.display.Close()
		return nil, err
	}
	e.loop = l
	return e, nil
}

// Run initializes the task and runs the loop, closing the display afterwards.
// The result is returned whenever the loop started, even on error.
func (e *Experiment) Run(ctx context.Context) (*loop.Result, error) {
	defer func() {
		if err := e.display.Close(); err != nil {
			e.logger.Warn("display close", zap.Error(err))
		}
	}()

	if err := e.loop.Init(e.initial, e.desired, e.spec); err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	result, err := e.loop.Run(ctx)
	if err != nil && errors.Is(err, context.Canceled) {
		e.logger.Info("servo loop cancelled", zap.Int("iterations", result.Iterations))
	}
	return result, err
}

func (e *Experiment) Config() *config.Config { return e.cfg }
func (e *Experiment) Loop() *loop.Loop       { return e.loop }
func (e *Experiment) Robot() *robot.Camera   { return e.robot }

// TaskSpec converts the task section of a configuration.
func TaskSpec(c config.TaskConfig) (loop.TaskSpec, error) {
	policy, err := control.ParsePolicy(c.Policy)
	if err != nil {
		return loop.TaskSpec{}, err
	}
	spec := loop.TaskSpec{
		Gain:      c.Gain,
		Policy:    policy,
		Threshold: c.Threshold,
	}
	for _, f := range c.Features {
		mask := control.MaskAll
		if len(f.Rows) > 0 {
			mask = control.MaskOf(f.Rows...)
		}
		spec.Features = append(spec.Features, loop.FeatureSpec{Name: f.Name, Mask: mask})
	}
	return spec, nil
}

func Target(c config.TargetConfig) scene.Target {
	t := scene.Target{Vertices: make([]r3.Vec, len(c.Vertices))}
	for i, v := range c.Vertices {
		t.Vertices[i] = r3.Vec{X: v[0], Y: v[1], Z: v[2]}
	}
	return t
}
