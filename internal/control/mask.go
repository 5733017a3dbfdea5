package control

import (
	"fmt"
	"strings"
)

// Mask selects feature rows: bit i enables row i.
type Mask uint64

// MaskAll selects every row.
const MaskAll = ^Mask(0)

// MaskOf returns the mask enabling the given rows.
func MaskOf(rows ...int) Mask {
	var m Mask
	for _, r := range rows {
		if r >= 0 && r < 64 {
			m |= 1 << uint(r)
		}
	}
	return m
}

// Has reports whether row i is enabled.
func (m Mask) Has(i int) bool {
	return i >= 0 && i < 64 && m&(1<<uint(i)) != 0
}

// Rows returns the enabled rows below dim, in increasing order.
func (m Mask) Rows(dim int) []int {
	var out []int
	for i := 0; i < dim; i++ {
		if m.Has(i) {
			out = append(out, i)
		}
	}
	return out
}

func (m Mask) String() string {
	if m == MaskAll {
		return "all"
	}
	var parts []string
	for i := 0; i < 64; i++ {
		if m.Has(i) {
			parts = append(parts, fmt.Sprint(i))
		}
	}
	return "{" + strings.Join(parts, ",") + "}"
}
