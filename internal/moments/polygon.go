package moments

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"
)

// FromPolygon returns the exact moments of the region enclosed by a simple
// polygon. Vertices may be given in either winding order.
func FromPolygon(vertices []r2.Vec, order int) (*Set, error) {
	if len(vertices) < 3 {
		return nil, fmt.Errorf("moments: polygon needs at least 3 vertices, got %d", len(vertices))
	}
	s := NewSet(order)
	n := len(vertices)
	for q := 0; q <= order; q++ {
		for p := 0; p+q <= order; p++ {
			norm := float64((p+q+2)*(p+q+1)) * binomial(p+q, p)
			sum := 0.0
			for k := 0; k < n; k++ {
				a, b := vertices[k], vertices[(k+1)%n]
				cross := a.X*b.Y - b.X*a.Y
				if cross == 0 {
					continue
				}
				sum += cross * edgeTerm(a, b, p, q)
			}
			s.Set(p, q, sum/norm)
		}
	}
	if s.Area() < 0 {
		for i := range s.values {
			s.values[i] = -s.values[i]
		}
	}
	if s.Area() == 0 {
		return nil, ErrEmptyRegion
	}
	return s, nil
}

// edgeTerm is the Green's theorem contribution of edge a->b to m_pq.
func edgeTerm(a, b r2.Vec, p, q int) float64 {
	sum := 0.0
	for i := 0; i <= p; i++ {
		xi := ipow(a.X, i) * ipow(b.X, p-i)
		for j := 0; j <= q; j++ {
			sum += binomial(i+j, i) * binomial(p+q-i-j, q-j) * xi * ipow(a.Y, j) * ipow(b.Y, q-j)
		}
	}
	return sum
}

func ipow(x float64, n int) float64 {
	r := 1.0
	for ; n > 0; n-- {
		r *= x
	}
	return r
}
