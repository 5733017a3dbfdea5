package optim

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/momentservo/internal/experiment"
)

var ErrNoTrial = errors.New("optim: no trial completed")

// GridSearch evaluates every combination of parameter values and keeps the
// one minimizing a run metric.
type GridSearch struct {
	paramNames []string
	ranges     [][]float64
}

func NewGridSearch(params []string, ranges [][]float64) (*GridSearch, error) {
	if len(params) == 0 || len(params) != len(ranges) {
		return nil, fmt.Errorf("optim: %d parameters for %d ranges", len(params), len(ranges))
	}
	for i, r := range ranges {
		if len(r) == 0 {
			return nil, fmt.Errorf("optim: empty range for %s", params[i])
		}
	}
	return &GridSearch{paramNames: params, ranges: ranges}, nil
}

// Trial is one evaluated combination. Failed runs score +Inf.
type Trial struct {
	Params map[string]float64
	Value  float64
	Err    error
}

// Size is the number of combinations.
func (g *GridSearch) Size() int {
	n := 1
	for _, r := range g.ranges {
		n *= len(r)
	}
	return n
}

func (g *GridSearch) Search(
	ctx context.Context,
	buildExperiment func(params map[string]float64) (*experiment.Experiment, error),
	metricName string,
) (Trial, []Trial, error) {
	trials := make([]Trial, 0, g.Size())
	if err := g.searchRecursive(ctx, 0, make(map[string]float64), buildExperiment, metricName, &trials); err != nil {
		return Trial{}, trials, err
	}

	best := Trial{Value: math.Inf(1)}
	for _, t := range trials {
		if t.Err == nil && t.Value < best.Value {
			best = t
		}
	}
	if best.Params == nil {
		return best, trials, ErrNoTrial
	}
	return best, trials, nil
}

func (g *GridSearch) searchRecursive(
	ctx context.Context,
	depth int,
	current map[string]float64,
	buildExperiment func(map[string]float64) (*experiment.Experiment, error),
	metricName string,
	trials *[]Trial,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth == len(g.paramNames) {
		trial := Trial{Params: current, Value: math.Inf(1)}
		exp, err := buildExperiment(current)
		if err != nil {
			trial.Err = err
			*trials = append(*trials, trial)
			return nil
		}

		result, err := exp.Run(ctx)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case err != nil:
			trial.Err = err
		default:
			val, ok := result.Metrics[metricName]
			if !ok {
				return fmt.Errorf("optim: unknown metric %q", metricName)
			}
			trial.Value = val
		}
		*trials = append(*trials, trial)
		return nil
	}

	paramName := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		newParams := make(map[string]float64)
		for k, v := range current {
			newParams[k] = v
		}
		newParams[paramName] = val

		if err := g.searchRecursive(ctx, depth+1, newParams, buildExperiment, metricName, trials); err != nil {
			return err
		}
	}
	return nil
}
