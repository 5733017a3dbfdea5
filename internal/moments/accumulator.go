package moments

// Accumulator sums weighted monomials x^i·y^j of sample points, the discrete
// form of a dense region's moments.
type Accumulator struct {
	set    *Set
	powers []float64
}

// NewAccumulator returns an empty accumulator of the given order.
func NewAccumulator(order int) *Accumulator {
	return &Accumulator{set: NewSet(order), powers: make([]float64, order+1)}
}

// Add accumulates one sample with weight w.
func (a *Accumulator) Add(x, y, w float64) {
	order := a.set.order
	ypow := a.powers
	ypow[0] = 1
	for j := 1; j <= order; j++ {
		ypow[j] = ypow[j-1] * y
	}
	xi := w
	for i := 0; i <= order; i++ {
		for j := 0; i+j <= order; j++ {
			a.set.values[Index(i, j)] += xi * ypow[j]
		}
		xi *= x
	}
}

// Set returns the accumulated moments. It fails with ErrEmptyRegion when no
// weight was added.
func (a *Accumulator) Set() (*Set, error) {
	if a.set.Area() <= 0 {
		return nil, ErrEmptyRegion
	}
	return a.set.Clone(), nil
}
