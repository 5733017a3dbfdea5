package moments

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/momentservo/internal/geometry"
	"gonum.org/v1/gonum/spatial/r2"
)

func rect(x0, y0, x1, y1 float64) []r2.Vec {
	return []r2.Vec{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}}
}

func TestIndexLayout(t *testing.T) {
	seen := make(map[int]bool)
	for n := 0; n <= 6; n++ {
		for j := 0; j <= n; j++ {
			idx := Index(n-j, j)
			if seen[idx] {
				t.Fatalf("index %d reused", idx)
			}
			seen[idx] = true
		}
	}
	if len(seen) != Count(6) {
		t.Errorf("expected %d indices, got %d", Count(6), len(seen))
	}
}

func TestFromPolygonUnitSquare(t *testing.T) {
	tests := []struct {
		i, j int
		want float64
	}{
		{0, 0, 1},
		{1, 0, 0.5},
		{0, 1, 0.5},
		{2, 0, 1.0 / 3},
		{1, 1, 0.25},
		{0, 2, 1.0 / 3},
		{3, 0, 0.25},
		{2, 1, 1.0 / 6},
		{3, 2, 1.0 / 12},
	}

	for _, winding := range []string{"ccw", "cw"} {
		poly := rect(0, 0, 1, 1)
		if winding == "cw" {
			poly = []r2.Vec{poly[3], poly[2], poly[1], poly[0]}
		}
		s, err := FromPolygon(poly, 6)
		if err != nil {
			t.Fatalf("%s: %v", winding, err)
		}
		for _, tt := range tests {
			if got := s.Get(tt.i, tt.j); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("%s m%d%d = %v, want %v", winding, tt.i, tt.j, got, tt.want)
			}
		}
	}
}

func TestFromPolygonDegenerate(t *testing.T) {
	if _, err := FromPolygon(rect(0, 0, 1, 1)[:2], 3); err == nil {
		t.Error("expected error for two vertices")
	}
	line := []r2.Vec{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}}
	if _, err := FromPolygon(line, 3); !errors.Is(err, ErrEmptyRegion) {
		t.Errorf("expected ErrEmptyRegion, got %v", err)
	}
}

func TestCentered(t *testing.T) {
	w, h := 0.4, 0.2
	s, err := FromPolygon(rect(1-w/2, 2-h/2, 1+w/2, 2+h/2), 4)
	if err != nil {
		t.Fatal(err)
	}
	mu, err := s.Centered()
	if err != nil {
		t.Fatal(err)
	}

	checks := map[[2]int]float64{
		{0, 0}: w * h,
		{1, 0}: 0,
		{0, 1}: 0,
		{2, 0}: w * w * w * h / 12,
		{0, 2}: w * h * h * h / 12,
		{1, 1}: 0,
		{3, 0}: 0,
		{1, 2}: 0,
	}
	for ij, want := range checks {
		if got := mu.Get(ij[0], ij[1]); math.Abs(got-want) > 1e-12 {
			t.Errorf("mu%d%d = %v, want %v", ij[0], ij[1], got, want)
		}
	}
}

func TestAccumulatorApproximatesPolygon(t *testing.T) {
	exact, err := FromPolygon(rect(-0.2, -0.1, 0.3, 0.15), 3)
	if err != nil {
		t.Fatal(err)
	}

	const step = 0.001
	acc := NewAccumulator(3)
	for y := -0.1 + step/2; y < 0.15; y += step {
		for x := -0.2 + step/2; x < 0.3; x += step {
			acc.Add(x, y, step*step)
		}
	}
	dense, err := acc.Set()
	if err != nil {
		t.Fatal(err)
	}

	for n := 0; n <= 3; n++ {
		for j := 0; j <= n; j++ {
			want, got := exact.Get(n-j, j), dense.Get(n-j, j)
			if math.Abs(got-want) > 1e-3*math.Abs(exact.Area()) {
				t.Errorf("m%d%d: dense %v, exact %v", n-j, j, got, want)
			}
		}
	}

	if _, err := NewAccumulator(2).Set(); !errors.Is(err, ErrEmptyRegion) {
		t.Errorf("expected ErrEmptyRegion for empty accumulator, got %v", err)
	}
}

func TestInteractionFrontoParallel(t *testing.T) {
	s, err := FromPolygon(rect(-0.2, -0.1, 0.2, 0.1), 3)
	if err != nil {
		t.Fatal(err)
	}
	d := geometry.Depth{C: 1}

	l, err := s.Interaction(0, 0, d)
	if err != nil {
		t.Fatal(err)
	}
	a := s.Area()
	want := [6]float64{0, 0, 2 * a, 3 * s.Get(0, 1), -3 * s.Get(1, 0), 0}
	for k := range want {
		if math.Abs(l[k]-want[k]) > 1e-12 {
			t.Errorf("L_m00[%d] = %v, want %v", k, l[k], want[k])
		}
	}

	l, err = s.Interaction(1, 0, d)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(l[0]+a) > 1e-12 {
		t.Errorf("L_m10 vx = %v, want %v", l[0], -a)
	}

	if _, err := s.Interaction(2, 1, d); !errors.Is(err, ErrOrder) {
		t.Errorf("expected ErrOrder for m21 at order 3, got %v", err)
	}
}

func TestFromVector(t *testing.T) {
	s, err := FromPolygon(rect(0, 0, 1, 2), 2)
	if err != nil {
		t.Fatal(err)
	}
	back, err := FromVector(2, s.Vector())
	if err != nil {
		t.Fatal(err)
	}
	if back.Get(1, 1) != s.Get(1, 1) {
		t.Errorf("expected m11 %v, got %v", s.Get(1, 1), back.Get(1, 1))
	}
	if _, err := FromVector(2, []float64{1}); err == nil {
		t.Error("expected error for short vector")
	}
}
