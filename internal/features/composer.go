package features

import (
	"fmt"
	"math"

	"github.com/san-kum/momentservo/internal/geometry"
	"github.com/san-kum/momentservo/internal/moments"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// Composer computes every sub-feature from one moment set.
type Composer struct {
	ref      Reference
	set      *moments.Set
	values   []float64
	inter    *mat.Dense
	stale    bool
	released bool
	features []*Feature
}

// NewComposer returns a composer normalizing the area against ref.
func NewComposer(ref Reference) *Composer {
	c := &Composer{ref: ref}
	offset := 0
	for i := range kinds {
		k := &kinds[i]
		c.features = append(c.features, &Feature{kind: k, offset: offset, c: c})
		offset += len(k.rows)
	}
	return c
}

// Reference returns the area normalization inputs.
func (c *Composer) Reference() Reference { return c.ref }

// UpdateMoments refreshes the feature values. Interaction rows become stale
// until the next UpdatePlane.
func (c *Composer) UpdateMoments(set *moments.Set) error {
	if c.released {
		return ErrReleased
	}
	if set.Order() < MinOrder {
		return fmt.Errorf("%w: got %d", ErrLowOrder, set.Order())
	}
	s, err := describe(set)
	if err != nil {
		return fmt.Errorf("features: %w", err)
	}
	if s.mu.Get(2, 0)+s.mu.Get(0, 2) <= 0 {
		return fmt.Errorf("features: %w", moments.ErrEmptyRegion)
	}
	values := make([]float64, totalRows())
	c.evalAll(values, s)
	c.set = set.Clone()
	c.values = values
	c.stale = true
	return nil
}

// UpdatePlane recomputes the interaction rows for the last moments observed
// on a plane with depth model d.
func (c *Composer) UpdatePlane(d geometry.Depth) error {
	if c.released {
		return ErrReleased
	}
	if c.set == nil {
		return ErrNoMoments
	}

	order := c.set.Order() - 1
	count := moments.Count(order)

	lm := mat.NewDense(count, 6, nil)
	scale := make([]float64, count)
	u := make([]float64, count)

	m00 := c.set.Area()
	s, err := describe(c.set)
	if err != nil {
		return fmt.Errorf("features: %w", err)
	}
	r := math.Sqrt((s.mu.Get(2, 0) + s.mu.Get(0, 2)) / m00)

	for n := 0; n <= order; n++ {
		for j := 0; j <= n; j++ {
			i := n - j
			k := moments.Index(i, j)
			row, err := c.set.Interaction(i, j, d)
			if err != nil {
				return fmt.Errorf("features: %w", err)
			}
			lm.SetRow(k, row[:])
			scale[k] = m00 * math.Pow(r, float64(n))
			u[k] = c.set.Get(i, j) / scale[k]
		}
	}

	rows := totalRows()
	f := func(y, x []float64) {
		raw := make([]float64, len(x))
		for k := range x {
			raw[k] = x[k] * scale[k]
		}
		set, err := moments.FromVector(order, raw)
		if err == nil {
			var sh *shape
			if sh, err = describe(set); err == nil {
				c.evalAll(y, sh)
				return
			}
		}
		for i := range y {
			y[i] = math.NaN()
		}
	}
	jac := mat.NewDense(rows, count, nil)
	fd.Jacobian(jac, f, u, &fd.JacobianSettings{Formula: fd.Central})
	for k := 0; k < count; k++ {
		for i := 0; i < rows; i++ {
			jac.Set(i, k, jac.At(i, k)/scale[k])
		}
	}

	inter := mat.NewDense(rows, 6, nil)
	inter.Mul(jac, lm)
	for i := 0; i < rows; i++ {
		for k := 0; k < 6; k++ {
			if v := inter.At(i, k); math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("features: non-finite interaction row %d", i)
			}
		}
	}
	c.inter = inter
	c.stale = false
	return nil
}

func (c *Composer) evalAll(dst []float64, s *shape) {
	for _, f := range c.features {
		f.kind.eval(dst[f.offset:f.offset+len(f.kind.rows)], s, c.ref)
	}
}

// Features returns the sub-features in registration order.
func (c *Composer) Features() []*Feature {
	return append([]*Feature(nil), c.features...)
}

// Feature looks up a sub-feature by name.
func (c *Composer) Feature(name string) (*Feature, bool) {
	for _, f := range c.features {
		if f.kind.name == name {
			return f, true
		}
	}
	return nil, false
}

// Moments returns the last moment set, or nil.
func (c *Composer) Moments() *moments.Set { return c.set }

// Release drops the cached state of every sub-feature. Calling it again is a
// no-op.
func (c *Composer) Release() {
	if c.released {
		return
	}
	for _, f := range c.features {
		f.Release()
	}
	c.released = true
	c.set = nil
	c.values = nil
	c.inter = nil
}

// Feature is one sub-feature of a composer.
type Feature struct {
	kind     *kind
	offset   int
	c        *Composer
	released bool
}

func (f *Feature) Name() string { return f.kind.name }

func (f *Feature) Dim() int { return len(f.kind.rows) }

func (f *Feature) RowNames() []string { return append([]string(nil), f.kind.rows...) }

// Values returns the current values, or nil before any moments were observed.
func (f *Feature) Values() []float64 {
	if f.released || f.c.values == nil {
		return nil
	}
	out := make([]float64, f.Dim())
	copy(out, f.c.values[f.offset:])
	return out
}

// Interaction returns the Dim()x6 interaction rows.
func (f *Feature) Interaction() (*mat.Dense, error) {
	switch {
	case f.released:
		return nil, ErrReleased
	case f.c.set == nil:
		return nil, ErrNoMoments
	case f.c.stale || f.c.inter == nil:
		return nil, ErrStale
	}
	return mat.DenseCopyOf(f.c.inter.Slice(f.offset, f.offset+f.Dim(), 0, 6)), nil
}

// Diff returns the error of the current values against desired. Orientation
// differences are wrapped into (-pi/2, pi/2].
func (f *Feature) Diff(desired []float64) []float64 {
	cur := f.Values()
	out := make([]float64, len(cur))
	for i := range cur {
		out[i] = cur[i] - desired[i]
		if f.kind.wrap {
			out[i] = wrapAngle(out[i])
		}
	}
	return out
}

// Release marks the feature unusable.
func (f *Feature) Release() { f.released = true }

func (f *Feature) String() string {
	return fmt.Sprintf("%s%v", f.kind.name, f.kind.rows)
}
