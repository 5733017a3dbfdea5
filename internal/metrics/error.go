// Package metrics accumulates scalar summaries of a servo run.
package metrics

import "github.com/san-kum/momentservo/internal/loop"

// FinalError is the squared error of the last tick.
type FinalError struct {
	last float64
}

func NewFinalError() *FinalError { return &FinalError{} }

func (f *FinalError) Name() string          { return "final_error" }
func (f *FinalError) Observe(s loop.Sample) { f.last = s.ErrorSquared }
func (f *FinalError) Value() float64        { return f.last }
func (f *FinalError) Reset()                { f.last = 0 }

// CumulativeError sums the squared error over the run.
type CumulativeError struct {
	sum float64
}

func NewCumulativeError() *CumulativeError { return &CumulativeError{} }

func (c *CumulativeError) Name() string          { return "cumulative_error" }
func (c *CumulativeError) Observe(s loop.Sample) { c.sum += s.ErrorSquared }
func (c *CumulativeError) Value() float64        { return c.sum }
func (c *CumulativeError) Reset()                { c.sum = 0 }

// Convergence reports the first iteration whose squared error fell below a
// threshold, or -1.
type Convergence struct {
	threshold float64
	iteration int
}

func NewConvergence(threshold float64) *Convergence {
	return &Convergence{threshold: threshold, iteration: -1}
}

func (c *Convergence) Name() string { return "convergence_iteration" }

func (c *Convergence) Observe(s loop.Sample) {
	if c.iteration < 0 && s.ErrorSquared < c.threshold {
		c.iteration = s.Iteration
	}
}

func (c *Convergence) Value() float64 { return float64(c.iteration) }

func (c *Convergence) Reset() { c.iteration = -1 }

// RankDeficiency is the fraction of ticks whose interaction matrix lost rank
// against the number of controlled rows (at most six).
type RankDeficiency struct {
	deficient int
	samples   int
}

func NewRankDeficiency() *RankDeficiency { return &RankDeficiency{} }

func (r *RankDeficiency) Name() string { return "rank_deficient" }

func (r *RankDeficiency) Observe(s loop.Sample) {
	full := len(s.Error)
	if full > 6 {
		full = 6
	}
	if s.Rank < full {
		r.deficient++
	}
	r.samples++
}

func (r *RankDeficiency) Value() float64 {
	if r.samples == 0 {
		return 0
	}
	return float64(r.deficient) / float64(r.samples)
}

func (r *RankDeficiency) Reset() {
	r.deficient = 0
	r.samples = 0
}

// Default returns the metrics attached to every run.
func Default(convergence float64) []loop.Metric {
	return []loop.Metric{
		NewFinalError(),
		NewCumulativeError(),
		NewConvergence(convergence),
		NewControlEffort(),
		NewPeakVelocity(),
		NewRankDeficiency(),
	}
}
