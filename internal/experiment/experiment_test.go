package experiment

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/san-kum/momentservo/internal/config"
	"github.com/san-kum/momentservo/internal/control"
	"github.com/san-kum/momentservo/internal/display"
	"github.com/san-kum/momentservo/internal/loop"
	"github.com/san-kum/momentservo/internal/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shortConfig(iterations int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Loop.Iterations = iterations
	return cfg
}

func TestExperimentRun(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	ticks := 0
	exp, err := New(shortConfig(300), NewRegistry(),
		WithClock(clock),
		WithObserver(loop.ObserverFunc(func(loop.Sample) { ticks++ })))
	require.NoError(t, err)

	start := exp.Robot().Pose()
	result, err := exp.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 300, result.Iterations)
	assert.Equal(t, 300, ticks)
	assert.Less(t, result.FinalError, result.Samples[0].ErrorSquared)
	assert.False(t, result.FinalPose.ApproxEqual(start, 1e-6))
	assert.Contains(t, result.Metrics, "final_error")
	assert.Contains(t, result.Metrics, "convergence_iteration")
	assert.Equal(t, loop.Terminated, exp.Loop().State())
	assert.Len(t, clock.Waits(), 300)
}

func TestExperimentImageExtractor(t *testing.T) {
	cfg := shortConfig(50)
	cfg.Extractor.Kind = "image"
	exp, err := New(cfg, NewRegistry(), WithClock(timeutil.NewMockClock(time.Unix(0, 0))))
	require.NoError(t, err)

	result, err := exp.Run(context.Background())
	require.NoError(t, err)
	assert.Less(t, result.FinalError, result.Samples[0].ErrorSquared)
}

func TestExperimentDisplayOverride(t *testing.T) {
	h := display.NewHeadless()
	cfg := shortConfig(5)
	cfg.Display = "terminal"
	exp, err := New(cfg, NewRegistry(), WithDisplay(h), WithClock(timeutil.NewMockClock(time.Unix(0, 0))))
	require.NoError(t, err)

	_, err = exp.Run(context.Background())
	require.NoError(t, err)
	shows, _ := h.Counts()
	assert.Equal(t, 5, shows)
}

func TestTerminalNeedsTTY(t *testing.T) {
	out, err := os.Create(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	defer out.Close()

	reg := NewRegistry()
	reg.Out = out
	cfg := shortConfig(5)
	cfg.Display = "terminal"

	_, err = New(cfg, reg)
	assert.ErrorIs(t, err, loop.ErrMissingCapability)
	assert.ErrorIs(t, err, display.ErrNoTerminal)
}

func TestInvalidConfig(t *testing.T) {
	cfg := shortConfig(5)
	cfg.Task.Gain = -1
	_, err := New(cfg, NewRegistry())
	assert.Error(t, err)
}

func TestUnknownExtractor(t *testing.T) {
	_, err := NewRegistry().GetExtractor(config.ExtractorConfig{Kind: "lidar"})
	assert.ErrorIs(t, err, loop.ErrMissingCapability)
	_, err = NewRegistry().GetDisplay("window", "x")
	assert.ErrorIs(t, err, loop.ErrMissingCapability)
}

func TestRegistryNames(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, []string{"image", "polygon"}, reg.ListExtractors())
	assert.Equal(t, []string{"headless", "terminal"}, reg.ListDisplays())
	assert.Len(t, reg.DefaultMetrics(), 6)
}

func TestTaskSpec(t *testing.T) {
	spec, err := TaskSpec(config.DefaultConfig().Task)
	require.NoError(t, err)
	assert.Equal(t, loop.DefaultTaskSpec(), spec)

	spec, err = TaskSpec(config.TaskConfig{Policy: "mean", Features: []config.FeatureConfig{{Name: "invariants", Rows: []int{2, 3}}}})
	require.NoError(t, err)
	assert.Equal(t, control.Mean, spec.Policy)
	assert.Equal(t, control.MaskOf(2, 3), spec.Features[0].Mask)

	_, err = TaskSpec(config.TaskConfig{Policy: "median"})
	assert.Error(t, err)
}

func TestTargetConversion(t *testing.T) {
	target := Target(config.DefaultConfig().Target)
	require.Len(t, target.Vertices, 4)
	plane, err := target.Plane()
	require.NoError(t, err)
	assert.InDelta(t, 0, plane.D, 1e-12)
	assert.InDelta(t, 1, math.Abs(plane.C), 1e-12)
}
