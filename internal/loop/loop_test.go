package loop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/momentservo/internal/display"
	"github.com/san-kum/momentservo/internal/geometry"
	"github.com/san-kum/momentservo/internal/moments"
	"github.com/san-kum/momentservo/internal/robot"
	"github.com/san-kum/momentservo/internal/scene"
	"github.com/san-kum/momentservo/internal/timeutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	desiredPose = geometry.NewPose(r3.Vec{Z: 1}, r3.Vec{})
	initialPose = geometry.NewPose(
		r3.Vec{X: -0.1, Y: -0.1, Z: 1.5},
		r3.Vec{X: geometry.Radians(-20), Y: geometry.Radians(-20), Z: geometry.Radians(-30)},
	)
)

func testDeps(t *testing.T, clock timeutil.Clock) Deps {
	t.Helper()
	return Deps{
		Renderer:  scene.NewProjectionRenderer(scene.Rectangle(0.4, 0.2), scene.DefaultIntrinsics()),
		Extractor: scene.PolygonExtractor{Order: 6},
		Robot:     robot.NewCamera(robot.WithSamplingTime(0.01)),
		Clock:     clock,
	}
}

func testConfig(t *testing.T, iterations int) Config {
	t.Helper()
	plane, err := scene.Rectangle(0.4, 0.2).Plane()
	require.NoError(t, err)
	return Config{Plane: plane, Iterations: iterations, Period: 10 * time.Millisecond}
}

func newMockClock() *timeutil.MockClock {
	return timeutil.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

// slowExtractor advances a mock clock to simulate computation time.
type slowExtractor struct {
	scene.Extractor
	clock *timeutil.MockClock
	cost  time.Duration
}

func (s slowExtractor) Extract(f *scene.Frame) (*moments.Set, error) {
	s.clock.Advance(s.cost)
	return s.Extractor.Extract(f)
}

func TestNewRequiresCapabilities(t *testing.T) {
	deps := testDeps(t, nil)
	deps.Robot = nil
	_, err := New(testConfig(t, 1), deps)
	assert.ErrorIs(t, err, ErrMissingCapability)

	deps = testDeps(t, nil)
	deps.Extractor = nil
	_, err = New(testConfig(t, 1), deps)
	assert.ErrorIs(t, err, ErrMissingCapability)

	_, err = New(testConfig(t, 0), testDeps(t, nil))
	assert.Error(t, err)
}

func TestLifecycle(t *testing.T) {
	l, err := New(testConfig(t, 3), testDeps(t, newMockClock()))
	require.NoError(t, err)
	assert.Equal(t, Idle, l.State())

	_, err = l.Run(context.Background())
	assert.ErrorIs(t, err, ErrState)

	require.NoError(t, l.Init(initialPose, desiredPose, DefaultTaskSpec()))
	assert.Equal(t, Initialized, l.State())
	assert.ErrorIs(t, l.Init(initialPose, desiredPose, DefaultTaskSpec()), ErrState)

	res, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Terminated, l.State())
	assert.Equal(t, 3, res.Iterations)
	assert.Len(t, res.Samples, 3)
	assert.True(t, l.Task().Killed())

	_, err = l.Run(context.Background())
	assert.ErrorIs(t, err, ErrState)
}

func TestUnknownFeature(t *testing.T) {
	l, err := New(testConfig(t, 1), testDeps(t, newMockClock()))
	require.NoError(t, err)
	spec := DefaultTaskSpec()
	spec.Features = append(spec.Features, FeatureSpec{Name: "skew"})
	assert.ErrorIs(t, l.Init(initialPose, desiredPose, spec), ErrUnknownFeature)
}

func TestZeroCommandAtDesiredPose(t *testing.T) {
	l, err := New(testConfig(t, 1), testDeps(t, newMockClock()))
	require.NoError(t, err)
	require.NoError(t, l.Init(desiredPose, desiredPose, DefaultTaskSpec()))

	res, err := l.Run(context.Background())
	require.NoError(t, err)
	s := res.Samples[0]
	assert.Len(t, s.Error, 6)
	assert.InDelta(t, 0, s.ErrorSquared, 1e-20)
	for i, c := range s.Velocity {
		assert.InDelta(t, 0, c, 1e-9, "component %d", i)
	}
}

func TestPacingWaitsRemainderOfPeriod(t *testing.T) {
	clock := newMockClock()
	deps := testDeps(t, clock)
	deps.Extractor = slowExtractor{Extractor: deps.Extractor, clock: clock, cost: 3 * time.Millisecond}

	l, err := New(testConfig(t, 5), deps)
	require.NoError(t, err)
	require.NoError(t, l.Init(initialPose, desiredPose, DefaultTaskSpec()))
	res, err := l.Run(context.Background())
	require.NoError(t, err)

	waits := clock.Waits()
	require.Len(t, waits, 5)
	for _, w := range waits {
		assert.Equal(t, 7*time.Millisecond, w)
	}
	assert.Equal(t, 50*time.Millisecond, res.Elapsed)
}

func TestPacingNeverWaitsNegative(t *testing.T) {
	clock := newMockClock()
	deps := testDeps(t, clock)
	deps.Extractor = slowExtractor{Extractor: deps.Extractor, clock: clock, cost: 15 * time.Millisecond}

	l, err := New(testConfig(t, 4), deps)
	require.NoError(t, err)
	require.NoError(t, l.Init(initialPose, desiredPose, DefaultTaskSpec()))
	_, err = l.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, clock.Waits())
}

func TestPacingRealClock(t *testing.T) {
	if testing.Short() {
		t.Skip("real-time pacing")
	}
	cfg := testConfig(t, 5)
	cfg.Period = 20 * time.Millisecond
	l, err := New(cfg, testDeps(t, timeutil.RealClock{}))
	require.NoError(t, err)
	require.NoError(t, l.Init(initialPose, desiredPose, DefaultTaskSpec()))

	start := time.Now()
	_, err = l.Run(context.Background())
	require.NoError(t, err)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond-time.Millisecond)
	assert.Less(t, elapsed, 400*time.Millisecond)
}

func TestDegenerateGeometryAborts(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	l, err := New(testConfig(t, 10), testDeps(t, newMockClock()), WithLogger(zap.New(core)))
	require.NoError(t, err)

	// The target plane passes through the optical centre.
	inPlane := geometry.NewPose(r3.Vec{X: 0.3}, r3.Vec{})
	require.NoError(t, l.Init(inPlane, desiredPose, DefaultTaskSpec()))

	res, err := l.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, geometry.ErrDegenerateGeometry)

	var te *TickError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 1, te.Iteration)
	assert.True(t, te.Pose.ApproxEqual(inPlane, 1e-12))

	assert.Equal(t, Terminated, l.State())
	assert.True(t, l.Task().Killed())
	assert.Zero(t, res.Iterations)

	entries := logs.FilterMessage("servo loop aborted").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["pose"], "t=(0.3000")
}

func TestCancellationDuringPacing(t *testing.T) {
	clock := timeutil.NewHeldClock(time.Unix(0, 0))
	l, err := New(testConfig(t, 100), testDeps(t, clock))
	require.NoError(t, err)
	require.NoError(t, l.Init(initialPose, desiredPose, DefaultTaskSpec()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := l.Run(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool { return clock.Pending() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
	assert.Equal(t, Terminated, l.State())
}

func TestCancelledBeforeFirstTick(t *testing.T) {
	l, err := New(testConfig(t, 5), testDeps(t, newMockClock()))
	require.NoError(t, err)
	require.NoError(t, l.Init(initialPose, desiredPose, DefaultTaskSpec()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := l.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Iterations)
	assert.True(t, l.Task().Killed())
}

// gateDisplay blocks Confirm until released.
type gateDisplay struct {
	*display.Headless
	mu      sync.Mutex
	release chan struct{}
	calls   int
	waits   []int
	clock   *timeutil.MockClock
}

func (g *gateDisplay) Confirm(ctx context.Context) error {
	g.mu.Lock()
	g.calls++
	g.waits = append(g.waits, len(g.clock.Waits()))
	g.mu.Unlock()
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gateDisplay) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestFirstTickConfirmation(t *testing.T) {
	clock := newMockClock()
	gate := &gateDisplay{Headless: display.NewHeadless(), release: make(chan struct{}), clock: clock}
	deps := testDeps(t, clock)
	deps.Display = gate
	cfg := testConfig(t, 3)
	cfg.Confirm = true

	var mu sync.Mutex
	ticks := 0
	l, err := New(cfg, deps, WithObserver(ObserverFunc(func(Sample) {
		mu.Lock()
		ticks++
		mu.Unlock()
	})))
	require.NoError(t, err)
	require.NoError(t, l.Init(initialPose, desiredPose, DefaultTaskSpec()))

	done := make(chan error, 1)
	go func() {
		_, err := l.Run(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return gate.Calls() == 1 }, time.Second, time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, ticks, "loop must block after the first tick")
	mu.Unlock()

	gate.release <- struct{}{}
	require.Eventually(t, func() bool { return gate.Calls() == 2 }, time.Second, time.Millisecond)
	gate.release <- struct{}{}
	require.NoError(t, <-done)

	// The first confirmation comes after the first pacing wait.
	assert.Equal(t, []int{1, 3}, gate.waits)
	shows, _ := gate.Counts()
	assert.Equal(t, 3, shows)
}

type countingMetric struct {
	n     int
	reset int
}

func (c *countingMetric) Name() string   { return "count" }
func (c *countingMetric) Observe(Sample) { c.n++ }
func (c *countingMetric) Value() float64 { return float64(c.n) }

func (c *countingMetric) Reset() {
	c.n = 0
	c.reset++
}

func TestMetricsAndObservers(t *testing.T) {
	m := &countingMetric{}
	var seen []int
	l, err := New(testConfig(t, 4), testDeps(t, newMockClock()),
		WithMetric(m),
		WithObserver(ObserverFunc(func(s Sample) { seen = append(seen, s.Iteration) })))
	require.NoError(t, err)
	require.NoError(t, l.Init(initialPose, desiredPose, DefaultTaskSpec()))

	res, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4.0, res.Metrics["count"])
	assert.Equal(t, 1, m.reset)
	assert.Equal(t, []int{1, 2, 3, 4}, seen)
}

func TestEndToEndScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("full servo run")
	}
	l, err := New(testConfig(t, 1500), testDeps(t, newMockClock()))
	require.NoError(t, err)
	require.NoError(t, l.Init(initialPose, desiredPose, DefaultTaskSpec()))

	res, err := l.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1500, res.Iterations)

	first := res.Samples[0].ErrorSquared
	assert.Greater(t, first, 1e-2)

	reached := -1
	for i, s := range res.Samples {
		if s.ErrorSquared < 1e-3 {
			reached = i
			break
		}
	}
	require.NotEqual(t, -1, reached, "error never fell below 1e-3")
	assert.Less(t, reached, 1200, "error converged too late")

	// Block averages must decrease.
	prev := first
	for start := 0; start < 1500; start += 300 {
		sum := 0.0
		for _, s := range res.Samples[start : start+300] {
			sum += s.ErrorSquared
		}
		avg := sum / 300
		assert.Less(t, avg, prev, "block starting at %d", start)
		prev = avg
	}

	assert.Less(t, res.FinalError, 1e-6)
	assert.True(t, res.FinalPose.ApproxEqual(desiredPose, 1e-2), "final pose %v", res.FinalPose)
}
