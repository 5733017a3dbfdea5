package control

import (
	"fmt"
	"strings"
)

// Policy selects which interaction matrix the control law inverts.
type Policy int

const (
	// Current uses the rows computed at the current pose.
	Current Policy = iota
	// Desired uses the rows computed once at the desired pose.
	Desired
	// Mean uses the element-wise average of both.
	Mean
)

func (p Policy) String() string {
	switch p {
	case Current:
		return "current"
	case Desired:
		return "desired"
	case Mean:
		return "mean"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy accepts current, desired or mean in any case.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "current", "":
		return Current, nil
	case "desired":
		return Desired, nil
	case "mean":
		return Mean, nil
	}
	return 0, fmt.Errorf("control: unknown interaction policy %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Policy) UnmarshalText(b []byte) error {
	v, err := ParsePolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
