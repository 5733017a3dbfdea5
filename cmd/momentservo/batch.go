package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/san-kum/momentservo/internal/automation"
	"github.com/san-kum/momentservo/internal/config"
	"github.com/san-kum/momentservo/internal/experiment"
	"github.com/san-kum/momentservo/internal/optim"
	"github.com/san-kum/momentservo/internal/storage"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
)

var (
	sweepParam string
	sweepMin   float64
	sweepMax   float64
	sweepSteps int
	// Grid search
	tuneParams []string
	tuneMetric string
	// Monte Carlo
	mcTrials      int
	mcSeed        int64
	mcTranslation float64
	mcRotation    float64
	mcWorkers     int
)

func newRunner(cfg *config.Config) (*automation.Runner, func(), error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	r := automation.NewRunner(experiment.NewRegistry())
	r.Options = []experiment.Option{experiment.WithLogger(logger)}
	r.Store = storage.New(dataDir)
	return r, func() { _ = logger.Sync() }, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	scenario, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}
	r, done, err := newRunner(config.DefaultConfig())
	if err != nil {
		return err
	}
	defer done()

	fmt.Printf("scenario: %s\n", scenario.Name)
	if scenario.Description != "" {
		fmt.Printf("%s\n", scenario.Description)
	}
	results, err := r.RunScenario(cmd.Context(), scenario)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nSTEP\tNAME\tITERS\tERROR\tRUN")
	for i, res := range results {
		fmt.Fprintf(w, "%d\t%s\t%d\t%.3e\t%s\n", i+1, res.Name, res.Result.Iterations, res.Result.FinalError, res.RunID)
	}
	if ferr := w.Flush(); ferr != nil {
		return ferr
	}
	return err
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	r, done, err := newRunner(cfg)
	if err != nil {
		return err
	}
	defer done()

	results, err := r.RunSweep(cmd.Context(), &automation.ParameterSweep{
		Base:      cfg,
		ParamName: sweepParam,
		ParamMin:  sweepMin,
		ParamMax:  sweepMax,
		NumSteps:  sweepSteps,
	})
	if err != nil {
		return err
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tFINAL ERROR\tCONVERGED AT\n", strings.ToUpper(sweepParam))
	for _, res := range results {
		conv := "-"
		if res.Convergence >= 0 {
			conv = strconv.Itoa(res.Convergence)
		}
		fmt.Fprintf(w, "%.4f\t%.3e\t%s\n", res.ParamValue, res.FinalError, conv)
	}
	return w.Flush()
}

// parseRange parses name=min:max:n.
func parseRange(s string) (string, []float64, error) {
	name, spec, ok := strings.Cut(s, "=")
	if !ok {
		return "", nil, fmt.Errorf("bad range %q, want name=min:max:n", s)
	}
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return "", nil, fmt.Errorf("bad range %q, want name=min:max:n", s)
	}
	lo, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return "", nil, err
	}
	hi, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return "", nil, err
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil || n < 1 {
		return "", nil, fmt.Errorf("bad count in %q", s)
	}
	if n == 1 {
		return name, []float64{lo}, nil
	}
	return name, floats.Span(make([]float64, n), lo, hi), nil
}

func runTune(cmd *cobra.Command, args []string) error {
	base, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(base)
	if err != nil {
		return err
	}
	defer logger.Sync()

	names := make([]string, 0, len(tuneParams))
	ranges := make([][]float64, 0, len(tuneParams))
	for _, p := range tuneParams {
		name, values, err := parseRange(p)
		if err != nil {
			return err
		}
		names = append(names, name)
		ranges = append(ranges, values)
	}
	search, err := optim.NewGridSearch(names, ranges)
	if err != nil {
		return err
	}

	fmt.Printf("grid search over %d combinations minimizing %s...\n", search.Size(), tuneMetric)
	build := func(params map[string]float64) (*experiment.Experiment, error) {
		cfg := base.Clone()
		for name, v := range params {
			if err := automation.SetParam(cfg, name, v); err != nil {
				return nil, err
			}
		}
		return experiment.New(cfg, nil, experiment.WithLogger(logger))
	}

	best, trials, err := search.Search(cmd.Context(), build, tuneMetric)
	failed := 0
	for _, t := range trials {
		if t.Err != nil {
			failed++
		}
	}
	if err != nil {
		return err
	}

	fmt.Printf("evaluated %d combinations (%d failed)\n", len(trials), failed)
	fmt.Printf("best %s: %.6g\n", tuneMetric, best.Value)
	for _, name := range names {
		fmt.Printf("  %s = %.4f\n", name, best.Params[name])
	}
	return nil
}

func runMonteCarlo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	r, done, err := newRunner(cfg)
	if err != nil {
		return err
	}
	defer done()

	results, err := r.RunMonteCarlo(cmd.Context(), &automation.MonteCarloConfig{
		Base:        cfg,
		Translation: mcTranslation,
		Rotation:    mcRotation,
		NumTrials:   mcTrials,
		Seed:        mcSeed,
		Workers:     mcWorkers,
	})
	if err != nil {
		return err
	}

	converged, failed := automation.MonteCarloStats(results)
	fmt.Printf("\nconverged: %d/%d\n", converged, len(results))
	if failed > 0 {
		fmt.Println("not converged:")
		for _, res := range results {
			if res.Converged {
				continue
			}
			reason := fmt.Sprintf("error %.3e", res.FinalError)
			if res.Err != nil {
				reason = res.Err.Error()
			}
			fmt.Printf("  trial %d from %v %v°: %s\n", res.TrialID, res.Initial.Translation, res.Initial.Rotation, reason)
		}
	}
	return nil
}
