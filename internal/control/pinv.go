package control

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// pseudoInverse holds L⁺ and the singular spectrum of L.
type pseudoInverse struct {
	inv    *mat.Dense
	values []float64
	rank   int
}

// pinv computes the Moore-Penrose inverse of l by SVD, discarding singular
// values at or below threshold·σmax.
func pinv(l mat.Matrix, threshold float64) (pseudoInverse, error) {
	var svd mat.SVD
	if ok := svd.Factorize(l, mat.SVDThin); !ok {
		return pseudoInverse{}, errors.New("control: SVD of the interaction matrix did not converge")
	}
	values := svd.Values(nil)
	rows, cols := l.Dims()
	out := mat.NewDense(cols, rows, nil)
	if len(values) == 0 || values[0] == 0 {
		return pseudoInverse{inv: out, values: values}, nil
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	rank := 0
	for k, s := range values {
		if s <= threshold*values[0] {
			continue
		}
		rank++
		var term mat.Dense
		term.Outer(1/s, v.ColView(k), u.ColView(k))
		out.Add(out, &term)
	}
	return pseudoInverse{inv: out, values: values, rank: rank}, nil
}

// PseudoInverse returns the Moore-Penrose inverse of l the way the control law
// computes it.
func PseudoInverse(l mat.Matrix, threshold float64) (*mat.Dense, error) {
	p, err := pinv(l, threshold)
	if err != nil {
		return nil, err
	}
	return p.inv, nil
}
