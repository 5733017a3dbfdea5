package analysis

import (
	"errors"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
)

var ErrShortSeries = errors.New("analysis: series too short")

// Spectrum returns the one-sided amplitude spectrum of a series sampled every
// dt seconds. The mean is removed first.
func Spectrum(series []float64, dt float64) (freqs, amps []float64) {
	n := len(series)
	if n < 2 || dt <= 0 {
		return nil, nil
	}
	mean := stat.Mean(series, nil)
	centred := make([]float64, n)
	for i, v := range series {
		centred[i] = v - mean
	}

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, centred)
	freqs = make([]float64, len(coeffs))
	amps = make([]float64, len(coeffs))
	for i, c := range coeffs {
		freqs[i] = fft.Freq(i) / dt
		amps[i] = cmplx.Abs(c) / float64(n)
	}
	return freqs, amps
}

// DominantFrequency returns the frequency in Hz of the largest non-DC
// component, or 0 for a flat series.
func DominantFrequency(series []float64, dt float64) float64 {
	freqs, amps := Spectrum(series, dt)
	best, idx := 0.0, 0
	for i := 1; i < len(amps); i++ {
		if amps[i] > best {
			best, idx = amps[i], i
		}
	}
	if idx == 0 {
		return 0
	}
	return freqs[idx]
}

// DecayRate fits log(e²) = a - rate·t by least squares and returns the rate
// and the coefficient of determination of the fit. Values below floor are
// clamped so that a run that reached zero error does not break the fit.
func DecayRate(errSq []float64, dt, floor float64) (rate, r2 float64, err error) {
	if len(errSq) < 3 {
		return 0, 0, ErrShortSeries
	}
	x := make([]float64, len(errSq))
	y := make([]float64, len(errSq))
	for i, e := range errSq {
		x[i] = float64(i) * dt
		y[i] = math.Log(math.Max(e, floor))
	}
	alpha, beta := stat.LinearRegression(x, y, nil, false)
	return -beta, stat.RSquared(x, y, nil, alpha, beta), nil
}
