// Package moments holds raw geometric moments of a planar region in
// normalized image coordinates and their interaction matrices.
package moments

import (
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/momentservo/internal/geometry"
)

var (
	// ErrOrder indicates a request beyond the order the set was built with.
	ErrOrder = errors.New("moments: order out of range")

	// ErrEmptyRegion indicates a region with no positive area.
	ErrEmptyRegion = errors.New("moments: region has no area")
)

// Set stores m_ij for i+j <= order, ordered by total degree then by j.
type Set struct {
	order  int
	values []float64
}

// NewSet returns a zeroed set of the given order.
func NewSet(order int) *Set {
	if order < 0 {
		order = 0
	}
	return &Set{order: order, values: make([]float64, Count(order))}
}

// FromVector wraps values laid out as returned by Vector.
func FromVector(order int, values []float64) (*Set, error) {
	if len(values) != Count(order) {
		return nil, fmt.Errorf("moments: %d values for order %d, want %d", len(values), order, Count(order))
	}
	s := NewSet(order)
	copy(s.values, values)
	return s, nil
}

// Count returns the number of moments of order <= order.
func Count(order int) int {
	return (order + 1) * (order + 2) / 2
}

// Index returns the position of m_ij in Vector.
func Index(i, j int) int {
	n := i + j
	return n*(n+1)/2 + j
}

// Order returns the highest i+j stored.
func (s *Set) Order() int { return s.order }

// Get returns m_ij, or zero when i or j is negative or i+j exceeds the order.
func (s *Set) Get(i, j int) float64 {
	if i < 0 || j < 0 || i+j > s.order {
		return 0
	}
	return s.values[Index(i, j)]
}

// Set assigns m_ij.
func (s *Set) Set(i, j int, v float64) {
	if i < 0 || j < 0 || i+j > s.order {
		return
	}
	s.values[Index(i, j)] = v
}

// Vector returns a copy of the stored values.
func (s *Set) Vector() []float64 {
	out := make([]float64, len(s.values))
	copy(out, s.values)
	return out
}

// Clone returns an independent copy.
func (s *Set) Clone() *Set {
	c := NewSet(s.order)
	copy(c.values, s.values)
	return c
}

// Area returns m00.
func (s *Set) Area() float64 { return s.Get(0, 0) }

// Centroid returns (m10/m00, m01/m00).
func (s *Set) Centroid() (float64, float64, error) {
	a := s.Area()
	if a <= 0 || math.IsNaN(a) {
		return 0, 0, ErrEmptyRegion
	}
	return s.Get(1, 0) / a, s.Get(0, 1) / a, nil
}

// Centered returns the central moments mu_pq of the same order.
func (s *Set) Centered() (*Set, error) {
	xg, yg, err := s.Centroid()
	if err != nil {
		return nil, err
	}
	mu := NewSet(s.order)
	for n := 0; n <= s.order; n++ {
		for q := 0; q <= n; q++ {
			p := n - q
			sum := 0.0
			for k := 0; k <= p; k++ {
				ck := binomial(p, k) * math.Pow(-xg, float64(p-k))
				for l := 0; l <= q; l++ {
					sum += ck * binomial(q, l) * math.Pow(-yg, float64(q-l)) * s.Get(k, l)
				}
			}
			mu.Set(p, q, sum)
		}
	}
	return mu, nil
}

// Interaction returns the interaction row of m_ij for a planar region whose
// depth follows d. It needs m_(i+1)j and m_i(j+1), hence i+j < order.
func (s *Set) Interaction(i, j int, d geometry.Depth) ([6]float64, error) {
	if i < 0 || j < 0 || i+j+1 > s.order {
		return [6]float64{}, fmt.Errorf("%w: m%d%d needs order %d, have %d", ErrOrder, i, j, i+j+1, s.order)
	}
	fi, fj := float64(i), float64(j)
	k := float64(i + j + 3)
	m := s.Get(i, j)
	return [6]float64{
		-fi*(d.A*m+d.B*s.Get(i-1, j+1)+d.C*s.Get(i-1, j)) - d.A*m,
		-fj*(d.A*s.Get(i+1, j-1)+d.B*m+d.C*s.Get(i, j-1)) - d.B*m,
		k*(d.A*s.Get(i+1, j)+d.B*s.Get(i, j+1)+d.C*m) - d.C*m,
		k*s.Get(i, j+1) + fj*s.Get(i, j-1),
		-k*s.Get(i+1, j) - fi*s.Get(i-1, j),
		fi*s.Get(i-1, j+1) - fj*s.Get(i+1, j-1),
	}, nil
}

func (s *Set) String() string {
	return fmt.Sprintf("moments(order=%d, m00=%.6g)", s.order, s.Area())
}

func binomial(n, k int) float64 {
	if k < 0 || k > n {
		return 0
	}
	r := 1.0
	for i := 1; i <= k; i++ {
		r = r * float64(n-k+i) / float64(i)
	}
	return r
}
