// Package loop runs the closed visual servo loop: observe, compute the
// control law, command the camera, wait for the next period.
package loop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/san-kum/momentservo/internal/control"
	"github.com/san-kum/momentservo/internal/display"
	"github.com/san-kum/momentservo/internal/features"
	"github.com/san-kum/momentservo/internal/geometry"
	"github.com/san-kum/momentservo/internal/moments"
	"github.com/san-kum/momentservo/internal/robot"
	"github.com/san-kum/momentservo/internal/scene"
	"github.com/san-kum/momentservo/internal/timeutil"
)

// Loop owns one servo run. It is not safe for concurrent use.
type Loop struct {
	cfg       Config
	deps      Deps
	logger    *zap.Logger
	observers []Observer
	metrics   []Metric

	state   State
	desired geometry.Pose
	desView *scene.Frame
	current *features.Composer
	target  *features.Composer
	task    *control.Task
}

// Option configures a Loop.
type Option func(*Loop)

func WithLogger(l *zap.Logger) Option {
	return func(lp *Loop) {
		if l != nil {
			lp.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(lp *Loop) { lp.observers = append(lp.observers, o) }
}

func WithMetric(m Metric) Option {
	return func(lp *Loop) { lp.metrics = append(lp.metrics, m) }
}

// New validates the capabilities and returns an idle loop.
func New(cfg Config, deps Deps, opts ...Option) (*Loop, error) {
	switch {
	case deps.Renderer == nil:
		return nil, fmt.Errorf("%w: renderer", ErrMissingCapability)
	case deps.Extractor == nil:
		return nil, fmt.Errorf("%w: extractor", ErrMissingCapability)
	case deps.Robot == nil:
		return nil, fmt.Errorf("%w: robot", ErrMissingCapability)
	}
	if cfg.Iterations <= 0 {
		return nil, fmt.Errorf("loop: iterations must be positive, got %d", cfg.Iterations)
	}
	if cfg.Period < 0 {
		return nil, fmt.Errorf("loop: period must not be negative, got %v", cfg.Period)
	}
	if deps.Display == nil {
		deps.Display = display.NewHeadless()
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	l := &Loop{cfg: cfg, deps: deps, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Loop) State() State { return l.state }

// Task returns the servo task once initialized.
func (l *Loop) Task() *control.Task { return l.task }

// Init places the robot at initial, observes the target from desired once and
// registers the features of spec. The current features are first observed by
// the first tick.
func (l *Loop) Init(initial, desired geometry.Pose, spec TaskSpec) error {
	if l.state != Idle {
		return fmt.Errorf("%w: init while %s", ErrState, l.state)
	}

	desDepth, err := geometry.DepthModel(l.cfg.Plane, desired)
	if err != nil {
		return fmt.Errorf("desired pose: %w", err)
	}
	desView, desSet, err := l.observe(desired)
	if err != nil {
		return fmt.Errorf("desired pose: %w", err)
	}

	ref := features.Reference{Area: desSet.Area(), Depth: desired.T.Z}
	target := features.NewComposer(ref)
	if err := target.UpdateMoments(desSet); err != nil {
		return fmt.Errorf("desired features: %w", err)
	}
	if err := target.UpdatePlane(desDepth); err != nil {
		return fmt.Errorf("desired features: %w", err)
	}

	l.deps.Robot.SetPose(initial)
	current := features.NewComposer(ref)

	task := control.NewTask(
		control.WithGain(spec.Gain),
		control.WithPolicy(spec.Policy),
		control.WithThreshold(spec.Threshold),
		control.WithLogger(l.logger),
	)
	for _, fs := range spec.Features {
		cur, ok := current.Feature(fs.Name)
		if !ok {
			target.Release()
			return fmt.Errorf("%w: %q", ErrUnknownFeature, fs.Name)
		}
		des, _ := target.Feature(fs.Name)
		if err := task.AddFeature(cur, des, fs.Mask); err != nil {
			return err
		}
	}

	l.desired = desired
	l.desView = desView
	l.current = current
	l.target = target
	l.task = task
	l.state = Initialized
	l.logger.Info("servo task ready",
		zap.Stringer("initial", initial),
		zap.Stringer("desired", desired),
		zap.Int("rows", task.Dim()))
	l.logger.Debug(task.String())
	return nil
}

func (l *Loop) observe(pose geometry.Pose) (*scene.Frame, *moments.Set, error) {
	frame, err := l.deps.Renderer.Render(pose)
	if err != nil {
		return nil, nil, err
	}
	set, err := l.deps.Extractor.Extract(frame)
	if err != nil {
		return nil, nil, err
	}
	return frame, set, nil
}

// Run executes the configured number of iterations. The returned result is
// valid even when an error is returned.
func (l *Loop) Run(ctx context.Context) (*Result, error) {
	if l.state != Initialized {
		return nil, fmt.Errorf("%w: run while %s", ErrState, l.state)
	}
	l.state = Running

	for _, m := range l.metrics {
		m.Reset()
	}
	result := &Result{
		Samples: make([]Sample, 0, l.cfg.Iterations),
		Metrics: make(map[string]float64),
		Task:    l.task.String(),
	}
	clock := l.deps.Clock
	start := clock.Now()

	err := l.iterate(ctx, result, start)

	l.teardown()
	result.FinalPose = l.deps.Robot.Pose()
	result.Elapsed = clock.Since(start)
	for _, m := range l.metrics {
		result.Metrics[m.Name()] = m.Value()
	}

	if err != nil {
		var te *TickError
		if errors.As(err, &te) {
			l.logger.Error("servo loop aborted",
				zap.Int("iteration", te.Iteration),
				zap.Stringer("pose", te.Pose),
				zap.Error(te.Wrapped))
		}
		return result, err
	}

	l.logger.Info("servo loop finished",
		zap.Int("iterations", result.Iterations),
		zap.Float64("error", result.FinalError),
		zap.Duration("elapsed", result.Elapsed))
	if l.cfg.Confirm {
		if err := l.deps.Display.Confirm(ctx); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (l *Loop) iterate(ctx context.Context, result *Result, start time.Time) error {
	clock := l.deps.Clock
	for iter := 1; iter <= l.cfg.Iterations; iter++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		tick := clock.Now()
		pose := l.deps.Robot.Pose()
		fail := func(err error) error {
			return &TickError{Iteration: iter, Pose: pose, Wrapped: err}
		}

		depth, err := geometry.DepthModel(l.cfg.Plane, pose)
		if err != nil {
			return fail(err)
		}
		frame, set, err := l.observe(pose)
		if err != nil {
			return fail(err)
		}
		if err := l.current.UpdateMoments(set); err != nil {
			return fail(err)
		}
		if err := l.current.UpdatePlane(depth); err != nil {
			return fail(err)
		}

		if err := l.deps.Display.Show(display.View{
			Iteration:    iter,
			Pose:         pose,
			Current:      frame,
			Desired:      l.desView,
			ErrorSquared: result.FinalError,
			Velocity:     lastVelocity(result),
		}); err != nil {
			return fail(err)
		}

		v, err := l.task.ComputeControlLaw()
		if err != nil {
			return fail(err)
		}
		e2 := l.task.ErrorSquared()

		if err := l.deps.Robot.SetVelocity(robot.CameraFrame, v); err != nil {
			return fail(err)
		}

		s := Sample{
			Iteration:    iter,
			Elapsed:      clock.Since(start),
			Pose:         pose,
			Velocity:     v,
			Error:        l.task.Error(),
			ErrorSquared: e2,
			Rank:         l.task.Conditioning().Rank,
		}
		result.Samples = append(result.Samples, s)
		result.Iterations = iter
		result.FinalError = e2
		for _, m := range l.metrics {
			m.Observe(s)
		}
		for _, o := range l.observers {
			o.OnTick(s)
		}

		if err := l.pace(ctx, tick); err != nil {
			return err
		}

		if iter == 1 && l.cfg.Confirm {
			l.logger.Info("waiting for confirmation to start")
			if err := l.deps.Display.Confirm(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// pace waits until one period has elapsed since tick. Ticks that already
// overran the period continue immediately.
func (l *Loop) pace(ctx context.Context, tick time.Time) error {
	wait := l.cfg.Period - l.deps.Clock.Since(tick)
	if wait <= 0 {
		return nil
	}
	select {
	case <-l.deps.Clock.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) teardown() {
	if err := l.task.Kill(); err != nil {
		l.logger.Warn("task teardown", zap.Error(err))
	}
	l.current.Release()
	l.target.Release()
	l.state = Terminated
}

func lastVelocity(r *Result) geometry.Twist {
	if n := len(r.Samples); n > 0 {
		return r.Samples[n-1].Velocity
	}
	return geometry.Twist{}
}
