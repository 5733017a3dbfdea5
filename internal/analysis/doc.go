// Package analysis characterizes recorded servo runs.
//
//   - [DecayRate]: exponential convergence rate of the squared error
//   - [Spectrum] and [DominantFrequency]: oscillation of a tick series
//
// With a constant gain λ and an exact interaction matrix the feature error
// decays as exp(-λt), so the squared error has a decay rate close to 2λ:
//
//	rate, fit, err := analysis.DecayRate(errSq, dt, 1e-12)
package analysis
