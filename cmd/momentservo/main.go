package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"time"

	"github.com/san-kum/momentservo/internal/config"
	"github.com/san-kum/momentservo/internal/experiment"
	"github.com/san-kum/momentservo/internal/logging"
	"github.com/san-kum/momentservo/internal/loop"
	"github.com/san-kum/momentservo/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	dataDir  string
	logLevel string
	// Scenario source
	configFile string
	preset     string
	// Overrides
	iterations int
	gain       float64
	policy     string
	pinv       float64
	extractor  string
	threshold  uint8
	displayOut string
	period     time.Duration
	confirm    bool
	initial    []float64
	desired    []float64
	maxLinear  float64
	maxAngular float64
	noSave     bool
	every      int
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "momentservo",
		Short:         "image-moment visual servoing simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".momentservo", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run a servo simulation",
		Args:  cobra.NoArgs,
		RunE:  runServo,
	}
	addScenarioFlags(runCmd)
	runCmd.Flags().IntVar(&iterations, "iterations", config.DefaultIterations, "number of iterations")
	runCmd.Flags().Float64Var(&gain, "gain", config.DefaultGain, "control gain")
	runCmd.Flags().StringVar(&policy, "policy", "current", "interaction matrix (current, desired, mean)")
	runCmd.Flags().Float64Var(&pinv, "pinv", config.DefaultPinv, "pseudo-inverse singular value threshold")
	runCmd.Flags().StringVar(&extractor, "extractor", "polygon", "moment extractor (polygon, image)")
	runCmd.Flags().Uint8Var(&threshold, "threshold", config.DefaultThreshold, "binarization threshold of the image extractor")
	runCmd.Flags().StringVar(&displayOut, "display", "headless", "display (headless, terminal)")
	runCmd.Flags().DurationVar(&period, "period", config.DefaultPeriod, "loop period")
	runCmd.Flags().BoolVar(&confirm, "confirm", false, "wait for a key after the first iteration and at the end")
	runCmd.Flags().Float64SliceVar(&initial, "initial", nil, "initial pose tx,ty,tz,rx,ry,rz (metres, degrees)")
	runCmd.Flags().Float64SliceVar(&desired, "desired", nil, "desired pose tx,ty,tz,rx,ry,rz (metres, degrees)")
	runCmd.Flags().Float64Var(&maxLinear, "max-linear", config.DefaultMaxLinear, "translational velocity limit, 0 disables")
	runCmd.Flags().Float64Var(&maxAngular, "max-angular", config.DefaultMaxAngular, "rotational velocity limit, 0 disables")
	runCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")
	runCmd.Flags().IntVar(&every, "every", 100, "print progress every n iterations, 0 disables")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot the error and velocity of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze [run_id]",
		Short: "convergence rate and oscillation analysis",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeRun,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a run (json, csv, svg)",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "output format (json, csv, svg)")
	exportCmd.Flags().StringVarP(&exportPath, "output", "o", "", "output file, stdout when empty")

	presetsCmd := &cobra.Command{
		Use:   "presets [name]",
		Short: "list presets or print one as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showPresets,
	}

	batchCmd := &cobra.Command{
		Use:   "batch [scenario.yaml]",
		Short: "run a scripted batch of scenarios",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatch,
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "sweep one parameter over a range",
		Args:  cobra.NoArgs,
		RunE:  runSweep,
	}
	addScenarioFlags(sweepCmd)
	sweepCmd.Flags().StringVar(&sweepParam, "param", "gain", "parameter (gain, pinv_threshold, sampling_time, max_linear, max_angular)")
	sweepCmd.Flags().Float64Var(&sweepMin, "min", 0.25, "first value")
	sweepCmd.Flags().Float64Var(&sweepMax, "max", 2, "last value")
	sweepCmd.Flags().IntVar(&sweepSteps, "steps", 8, "number of values")
	sweepCmd.Flags().IntVar(&iterations, "iterations", 0, "iterations per run, preset value when 0")

	tuneCmd := &cobra.Command{
		Use:   "tune",
		Short: "grid search over parameters minimizing a run metric",
		Args:  cobra.NoArgs,
		RunE:  runTune,
	}
	addScenarioFlags(tuneCmd)
	tuneCmd.Flags().StringArrayVar(&tuneParams, "param", []string{"gain=0.5:2:4"}, "parameter range name=min:max:n, repeatable")
	tuneCmd.Flags().StringVar(&tuneMetric, "metric", "cumulative_error", "metric to minimize")
	tuneCmd.Flags().IntVar(&iterations, "iterations", 0, "iterations per run, preset value when 0")

	montecarloCmd := &cobra.Command{
		Use:   "montecarlo",
		Short: "run trials from randomly perturbed initial poses",
		Args:  cobra.NoArgs,
		RunE:  runMonteCarlo,
	}
	addScenarioFlags(montecarloCmd)
	montecarloCmd.Flags().IntVar(&mcTrials, "trials", 20, "number of trials")
	montecarloCmd.Flags().Int64Var(&mcSeed, "seed", 0, "random seed, time based when 0")
	montecarloCmd.Flags().Float64Var(&mcTranslation, "dtrans", 0.05, "translation perturbation half-range in metres")
	montecarloCmd.Flags().Float64Var(&mcRotation, "drot", 10, "rotation perturbation half-range in degrees")
	montecarloCmd.Flags().IntVar(&mcWorkers, "workers", runtime.NumCPU(), "trials running at once")
	montecarloCmd.Flags().IntVar(&iterations, "iterations", 0, "iterations per run, preset value when 0")

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "benchmark iterations per second of each extractor",
		Args:  cobra.NoArgs,
		RunE:  runBench,
	}

	rootCmd.AddCommand(runCmd, listCmd, plotCmd, analyzeCmd, exportCmd, presetsCmd,
		batchCmd, sweepCmd, tuneCmd, montecarloCmd, benchCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addScenarioFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
}

// loadConfig resolves the preset, then the config file, then the flags the
// user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}
	if configFile != "" {
		c, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = c
	}

	flags := cmd.Flags()
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}
	if changed("iterations") && iterations > 0 {
		cfg.Loop.Iterations = iterations
	}
	if changed("gain") {
		cfg.Task.Gain = gain
	}
	if changed("policy") {
		cfg.Task.Policy = policy
	}
	if changed("pinv") {
		cfg.Task.Threshold = pinv
	}
	if changed("extractor") {
		cfg.Extractor.Kind = extractor
	}
	if changed("threshold") {
		cfg.Extractor.Threshold = threshold
	}
	if changed("display") {
		cfg.Display = displayOut
	}
	if changed("period") {
		cfg.Loop.Period = period
	}
	if changed("confirm") {
		cfg.Loop.Confirm = confirm
	}
	if changed("max-linear") {
		cfg.Robot.MaxLinear = maxLinear
	}
	if changed("max-angular") {
		cfg.Robot.MaxAngular = maxAngular
	}
	if changed("initial") {
		p, err := poseFlag("initial", initial)
		if err != nil {
			return nil, err
		}
		cfg.Initial = p
	}
	if changed("desired") {
		p, err := poseFlag("desired", desired)
		if err != nil {
			return nil, err
		}
		cfg.Desired = p
	}
	if changed("log-level") {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func poseFlag(name string, v []float64) (config.PoseConfig, error) {
	var p config.PoseConfig
	if len(v) != 6 {
		return p, fmt.Errorf("--%s needs 6 values, got %d", name, len(v))
	}
	copy(p.Translation[:], v[:3])
	copy(p.Rotation[:], v[3:])
	return p, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level := logLevel
	if level == "" {
		level = cfg.LogLevel
	}
	return logging.New(level)
}

func runServo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	opts := []experiment.Option{experiment.WithLogger(logger)}
	if every > 0 && cfg.Display == "headless" {
		opts = append(opts, experiment.WithObserver(loop.ObserverFunc(func(s loop.Sample) {
			if s.Iteration%every == 0 {
				fmt.Printf("  iter %5d  |e|²=%.3e  v=%.4f\n", s.Iteration, s.ErrorSquared, s.Velocity.Norm())
			}
		})))
	}

	exp, err := experiment.New(cfg, experiment.NewRegistry(), opts...)
	if err != nil {
		return err
	}

	fmt.Printf("running %s servo (%d iterations, %s extractor)...\n", cfg.Name, cfg.Loop.Iterations, cfg.Extractor.Kind)
	result, runErr := exp.Run(cmd.Context())
	if result == nil {
		return runErr
	}

	var te *loop.TickError
	if errors.As(runErr, &te) {
		fmt.Printf("aborted at iteration %d\n", te.Iteration)
		fmt.Printf("pose: %s\n", te.Pose)
	}

	if !noSave {
		st := storage.New(dataDir)
		runID, err := st.Save(cfg, result, runErr)
		if err != nil {
			return err
		}
		fmt.Printf("run id: %s\n", runID)
	}

	fmt.Printf("completed %d iterations in %v\n", result.Iterations, result.Elapsed)
	fmt.Printf("final pose: %s\n", result.FinalPose)
	fmt.Printf("final error: %.6e\n", result.FinalError)
	printMetrics(result.Metrics)

	return runErr
}

func printMetrics(metrics map[string]float64) {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("\nmetrics:")
	for _, name := range names {
		fmt.Printf("  %s: %.6g\n", name, metrics[name])
	}
}
