package features

import (
	"errors"
	"math"
	"math/cmplx"

	"github.com/san-kum/momentservo/internal/moments"
)

// MinOrder is the lowest moment order a composer accepts. The invariants use
// fifth-order moments whose interaction rows need one order more.
const MinOrder = 6

// Sub-feature names.
const (
	Centroid    = "centroid"
	Area        = "area"
	Invariants  = "invariants"
	Orientation = "orientation"
)

var (
	ErrNoMoments = errors.New("features: no moments observed yet")
	ErrStale     = errors.New("features: interaction rows are stale, update the plane")
	ErrReleased  = errors.New("features: feature released")
	ErrLowOrder  = errors.New("features: moment order must be at least 6")
)

// Reference carries the desired normalized area inputs: the desired m00 and
// the desired depth.
type Reference struct {
	Area  float64
	Depth float64
}

type kind struct {
	name string
	rows []string
	eval func(dst []float64, s *shape, ref Reference)
	wrap bool
}

var kinds = []kind{
	{name: Centroid, rows: []string{"xn", "yn"}, eval: evalCentroid},
	{name: Area, rows: []string{"an"}, eval: evalArea},
	{name: Invariants, rows: []string{"sx", "sy", "px", "py", "qx", "qy"}, eval: evalInvariants},
	{name: Orientation, rows: []string{"alpha"}, eval: evalOrientation, wrap: true},
}

// Names lists the sub-features in registration order.
func Names() []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = k.name
	}
	return out
}

// RowNames returns the row names of a sub-feature.
func RowNames(name string) ([]string, bool) {
	for _, k := range kinds {
		if k.name == name {
			return append([]string(nil), k.rows...), true
		}
	}
	return nil, false
}

func totalRows() int {
	n := 0
	for _, k := range kinds {
		n += len(k.rows)
	}
	return n
}

// shape collects the quantities every feature is built from.
type shape struct {
	area   float64
	xg, yg float64
	mu     *moments.Set
	alpha  float64
}

func describe(m *moments.Set) (*shape, error) {
	xg, yg, err := m.Centroid()
	if err != nil {
		return nil, err
	}
	mu, err := m.Centered()
	if err != nil {
		return nil, err
	}
	return &shape{
		area:  m.Area(),
		xg:    xg,
		yg:    yg,
		mu:    mu,
		alpha: 0.5 * math.Atan2(2*mu.Get(1, 1), mu.Get(2, 0)-mu.Get(0, 2)),
	}, nil
}

func normalizedArea(s *shape, ref Reference) float64 {
	return ref.Depth * math.Sqrt(ref.Area/s.area)
}

func evalCentroid(dst []float64, s *shape, ref Reference) {
	an := normalizedArea(s, ref)
	dst[0] = an * s.xg
	dst[1] = an * s.yg
}

func evalArea(dst []float64, s *shape, ref Reference) {
	dst[0] = normalizedArea(s, ref)
}

func evalOrientation(dst []float64, s *shape, _ Reference) {
	dst[0] = s.alpha
}

func evalInvariants(dst []float64, s *shape, _ Reference) {
	mu := s.mu.Get
	n := mu(2, 0) + mu(0, 2)
	rot := cmplx.Rect(1, -s.alpha)

	z20 := complex(mu(2, 0)-mu(0, 2), 2*mu(1, 1))
	z21 := complex(mu(3, 0)+mu(1, 2), mu(2, 1)+mu(0, 3))
	z30 := complex(mu(3, 0)-3*mu(1, 2), 3*mu(2, 1)-mu(0, 3))
	z32 := complex(mu(5, 0)+2*mu(3, 2)+mu(1, 4), mu(4, 1)+2*mu(2, 3)+mu(0, 5))

	put := func(i int, z complex128, p float64) {
		z = z * rot / complex(math.Pow(n, p), 0)
		dst[i], dst[i+1] = real(z), imag(z)
	}
	put(0, z21, 5.0/4)
	put(2, z30*cmplx.Conj(z20), 9.0/4)
	put(4, z32, 7.0/4)
}

// wrapAngle maps an orientation difference into (-pi/2, pi/2].
func wrapAngle(d float64) float64 {
	d = math.Mod(d, math.Pi)
	if d > math.Pi/2 {
		d -= math.Pi
	} else if d <= -math.Pi/2 {
		d += math.Pi
	}
	return d
}
