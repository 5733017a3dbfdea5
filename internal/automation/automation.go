package automation

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/san-kum/momentservo/internal/config"
	"github.com/san-kum/momentservo/internal/experiment"
	"github.com/san-kum/momentservo/internal/loop"
	"github.com/san-kum/momentservo/internal/storage"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of servo runs.
type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Steps       []ScenarioStep `yaml:"steps"`
}

// ScenarioStep starts from a preset or a config file and applies overrides.
// Zero values leave the base configuration untouched.
type ScenarioStep struct {
	Preset     string             `yaml:"preset"`
	Config     string             `yaml:"config"`
	Iterations int                `yaml:"iterations"`
	Gain       float64            `yaml:"gain"`
	Policy     string             `yaml:"policy"`
	Extractor  string             `yaml:"extractor"`
	Initial    *config.PoseConfig `yaml:"initial"`
	Save       bool               `yaml:"save"`
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	if len(scenario.Steps) == 0 {
		return nil, fmt.Errorf("scenario %q has no steps", scenario.Name)
	}
	return &scenario, nil
}

// Resolve builds the configuration of a step.
func (s ScenarioStep) Resolve() (*config.Config, error) {
	var cfg *config.Config
	switch {
	case s.Config != "":
		c, err := config.Load(s.Config)
		if err != nil {
			return nil, err
		}
		cfg = c
	case s.Preset != "":
		cfg = config.GetPreset(s.Preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s", s.Preset)
		}
	default:
		cfg = config.DefaultConfig()
	}

	if s.Iterations > 0 {
		cfg.Loop.Iterations = s.Iterations
	}
	if s.Gain > 0 {
		cfg.Task.Gain = s.Gain
	}
	if s.Policy != "" {
		cfg.Task.Policy = s.Policy
	}
	if s.Extractor != "" {
		cfg.Extractor.Kind = s.Extractor
	}
	if s.Initial != nil {
		cfg.Initial = *s.Initial
	}
	return cfg, nil
}

// Runner executes scenarios, sweeps and Monte Carlo batches.
type Runner struct {
	Registry *experiment.Registry
	// Options are applied to every experiment, e.g. a mock clock.
	Options []experiment.Option
	// Store, when set, receives the runs marked for saving.
	Store *storage.Store
	Out   io.Writer

	mu sync.Mutex
}

func NewRunner(reg *experiment.Registry) *Runner {
	if reg == nil {
		reg = experiment.NewRegistry()
	}
	return &Runner{Registry: reg, Out: os.Stdout}
}

func (r *Runner) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Out != nil {
		fmt.Fprintf(r.Out, format, args...)
	}
}

func (r *Runner) run(ctx context.Context, cfg *config.Config) (*loop.Result, error) {
	exp, err := experiment.New(cfg, r.Registry, r.Options...)
	if err != nil {
		return nil, err
	}
	return exp.Run(ctx)
}

// StepResult is the outcome of one scenario step.
type StepResult struct {
	Name   string
	RunID  string
	Result *loop.Result
}

// RunScenario executes all steps in order and stops at the first failure.
func (r *Runner) RunScenario(ctx context.Context, scenario *Scenario) ([]StepResult, error) {
	results := make([]StepResult, 0, len(scenario.Steps))

	for i, step := range scenario.Steps {
		cfg, err := step.Resolve()
		if err != nil {
			return results, fmt.Errorf("step %d: %w", i+1, err)
		}
		r.printf("Running step %d/%d: %s\n", i+1, len(scenario.Steps), cfg.Name)

		result, err := r.run(ctx, cfg)
		if err != nil {
			return results, fmt.Errorf("step %d run: %w", i+1, err)
		}

		sr := StepResult{Name: cfg.Name, Result: result}
		if step.Save && r.Store != nil {
			id, err := r.Store.Save(cfg, result, nil)
			if err != nil {
				return results, fmt.Errorf("step %d save: %w", i+1, err)
			}
			sr.RunID = id
		}
		results = append(results, sr)
	}

	return results, nil
}

// ParameterSweep runs one configuration across a range of a task or robot
// parameter.
type ParameterSweep struct {
	Base      *config.Config
	ParamName string
	ParamMin  float64
	ParamMax  float64
	NumSteps  int
}

type SweepResult struct {
	ParamValue  float64
	FinalError  float64
	Convergence int
	Iterations  int
}

// SetParam sets a tunable task or robot parameter by name.
func SetParam(cfg *config.Config, name string, v float64) error {
	switch name {
	case "gain":
		cfg.Task.Gain = v
	case "pinv_threshold":
		cfg.Task.Threshold = v
	case "sampling_time":
		cfg.Robot.SamplingTime = v
	case "max_linear":
		cfg.Robot.MaxLinear = v
	case "max_angular":
		cfg.Robot.MaxAngular = v
	default:
		return fmt.Errorf("parameter %s is not tunable", name)
	}
	return nil
}

func (r *Runner) RunSweep(ctx context.Context, sweep *ParameterSweep) ([]SweepResult, error) {
	if sweep.NumSteps < 1 {
		return nil, fmt.Errorf("sweep needs at least one step, got %d", sweep.NumSteps)
	}
	base := sweep.Base
	if base == nil {
		base = config.DefaultConfig()
	}

	paramStep := 0.0
	if sweep.NumSteps > 1 {
		paramStep = (sweep.ParamMax - sweep.ParamMin) / float64(sweep.NumSteps-1)
	}

	results := make([]SweepResult, 0, sweep.NumSteps)
	for i := 0; i < sweep.NumSteps; i++ {
		paramVal := sweep.ParamMin + float64(i)*paramStep
		cfg := base.Clone()
		if err := SetParam(cfg, sweep.ParamName, paramVal); err != nil {
			return nil, err
		}

		result, err := r.run(ctx, cfg)
		if err != nil {
			return results, fmt.Errorf("%s=%g: %w", sweep.ParamName, paramVal, err)
		}

		results = append(results, SweepResult{
			ParamValue:  paramVal,
			FinalError:  result.FinalError,
			Convergence: int(result.Metrics["convergence_iteration"]),
			Iterations:  result.Iterations,
		})

		r.printf("Sweep %d/%d: %s=%.4f error=%.3e\n", i+1, sweep.NumSteps, sweep.ParamName, paramVal, result.FinalError)
	}

	return results, nil
}

// MonteCarloConfig perturbs the initial pose of a base configuration.
type MonteCarloConfig struct {
	Base *config.Config
	// Translation is the half-range in metres, Rotation in degrees.
	Translation float64
	Rotation    float64
	NumTrials   int
	Seed        int64
	// Workers bounds the trials running at once; 0 means one.
	Workers int
	// Threshold is the squared error a trial must reach to count as converged.
	Threshold float64
}

type MonteCarloResult struct {
	TrialID    int
	Initial    config.PoseConfig
	FinalError float64
	Converged  bool
	Err        error
}

// RunMonteCarlo runs trials from randomly perturbed initial poses. The
// perturbations depend only on the seed, not on the number of workers. A
// trial that aborts is recorded rather than stopping the batch.
func (r *Runner) RunMonteCarlo(ctx context.Context, mc *MonteCarloConfig) ([]MonteCarloResult, error) {
	base := mc.Base
	if base == nil {
		base = config.DefaultConfig()
	}
	threshold := mc.Threshold
	if threshold <= 0 {
		threshold = experiment.ConvergenceThreshold
	}

	rng := rand.New(rand.NewSource(mc.Seed))
	if mc.Seed == 0 {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	perturb := func(half float64) float64 { return (rng.Float64() - 0.5) * 2 * half }

	cfgs := make([]*config.Config, mc.NumTrials)
	for trial := range cfgs {
		cfg := base.Clone()
		for i := range cfg.Initial.Translation {
			cfg.Initial.Translation[i] += perturb(mc.Translation)
			cfg.Initial.Rotation[i] += perturb(mc.Rotation)
		}
		cfgs[trial] = cfg
	}

	results := make([]MonteCarloResult, mc.NumTrials)
	var completed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(mc.Workers, 1))
	for trial, cfg := range cfgs {
		trial, cfg := trial, cfg
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := MonteCarloResult{TrialID: trial, Initial: cfg.Initial}
			result, err := r.run(gctx, cfg)
			if result != nil {
				res.FinalError = result.FinalError
			}
			res.Err = err
			res.Converged = err == nil && res.FinalError < threshold
			results[trial] = res

			if n := completed.Add(1); n%10 == 0 {
				r.printf("Monte Carlo: %d/%d trials complete\n", n, mc.NumTrials)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func MonteCarloStats(results []MonteCarloResult) (converged int, failed int) {
	for _, r := range results {
		if r.Converged {
			converged++
		} else {
			failed++
		}
	}
	return
}
