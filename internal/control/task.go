package control

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/momentservo/internal/geometry"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrKilled         = errors.New("control: task killed")
	ErrNoFeatures     = errors.New("control: no features registered")
	ErrDimMismatch    = errors.New("control: current and desired features differ in dimension")
	ErrEmptySelection = errors.New("control: mask selects no rows")
	ErrNoValues       = errors.New("control: feature has no values")
)

// DefaultThreshold is the relative singular value cut-off of the
// pseudo-inverse.
const DefaultThreshold = 1e-6

// Feature is one visual feature as seen by the task.
type Feature interface {
	Name() string
	Dim() int
	Values() []float64
	Interaction() (*mat.Dense, error)
}

// Differ is implemented by features whose error is not a plain difference.
type Differ interface {
	Diff(desired []float64) []float64
}

type releaser interface {
	Release()
}

type rowNamer interface {
	RowNames() []string
}

type entry struct {
	current Feature
	desired Feature
	mask    Mask
	rows    []int
}

// Conditioning summarizes the stacked interaction matrix of the last control
// law and counts ill-conditioned ones.
type Conditioning struct {
	Rank           int
	Condition      float64
	Singular       []float64
	IllConditioned int
}

// Option configures a Task.
type Option func(*Task)

func WithGain(lambda float64) Option { return func(t *Task) { t.gain = lambda } }

func WithPolicy(p Policy) Option { return func(t *Task) { t.policy = p } }

func WithThreshold(th float64) Option { return func(t *Task) { t.threshold = th } }

func WithLogger(l *zap.Logger) Option {
	return func(t *Task) {
		if l != nil {
			t.logger = l
		}
	}
}

// Task is an eye-in-hand servo task over registered feature pairs.
type Task struct {
	gain      float64
	policy    Policy
	threshold float64
	logger    *zap.Logger

	entries []entry
	err     []float64
	l       *mat.Dense
	cond    Conditioning
	killed  bool
}

// NewTask returns an empty task with gain 1, the current policy and the
// default pseudo-inverse threshold.
func NewTask(opts ...Option) *Task {
	t := &Task{
		gain:      1,
		policy:    Current,
		threshold: DefaultThreshold,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Task) Gain() float64 { return t.gain }

func (t *Task) Policy() Policy { return t.policy }

func (t *Task) SetGain(l float64) { t.gain = l }

// SetPolicy changes the interaction policy for later control laws.
func (t *Task) SetPolicy(p Policy) { t.policy = p }

// AddFeature registers a (current, desired) pair. Without a mask every row is
// used; several masks are combined.
func (t *Task) AddFeature(current, desired Feature, mask ...Mask) error {
	if t.killed {
		return ErrKilled
	}
	if current.Dim() != desired.Dim() {
		return fmt.Errorf("%w: %s has %d rows, %s has %d",
			ErrDimMismatch, current.Name(), current.Dim(), desired.Name(), desired.Dim())
	}
	m := MaskAll
	if len(mask) > 0 {
		m = 0
		for _, x := range mask {
			m |= x
		}
	}
	rows := m.Rows(current.Dim())
	if len(rows) == 0 {
		return fmt.Errorf("%w: %s with mask %v", ErrEmptySelection, current.Name(), m)
	}
	t.entries = append(t.entries, entry{current: current, desired: desired, mask: m, rows: rows})
	return nil
}

// Dim returns the number of selected rows.
func (t *Task) Dim() int {
	n := 0
	for _, e := range t.entries {
		n += len(e.rows)
	}
	return n
}

// ComputeControlLaw returns the camera velocity -λ·L⁺·e for the current
// feature values.
func (t *Task) ComputeControlLaw() (geometry.Twist, error) {
	if t.killed {
		return geometry.Twist{}, ErrKilled
	}
	if len(t.entries) == 0 {
		return geometry.Twist{}, ErrNoFeatures
	}

	n := t.Dim()
	e := make([]float64, 0, n)
	l := mat.NewDense(n, 6, nil)
	row := 0
	for _, en := range t.entries {
		diff, err := featureError(en.current, en.desired)
		if err != nil {
			return geometry.Twist{}, err
		}
		li, err := t.interaction(en)
		if err != nil {
			return geometry.Twist{}, err
		}
		for _, r := range en.rows {
			e = append(e, diff[r])
			l.SetRow(row, li.RawRowView(r))
			row++
		}
	}

	p, err := pinv(l, t.threshold)
	if err != nil {
		return geometry.Twist{}, err
	}
	t.err = e
	t.l = l
	t.observe(p, n)

	var x mat.VecDense
	x.MulVec(p.inv, mat.NewVecDense(n, e))
	var v geometry.Twist
	for i := range v {
		v[i] = -t.gain * x.AtVec(i)
	}
	return v, nil
}

func featureError(cur, des Feature) ([]float64, error) {
	s, sd := cur.Values(), des.Values()
	if len(s) != cur.Dim() {
		return nil, fmt.Errorf("%w: %s", ErrNoValues, cur.Name())
	}
	if len(sd) != des.Dim() {
		return nil, fmt.Errorf("%w: desired %s", ErrNoValues, des.Name())
	}
	if d, ok := cur.(Differ); ok {
		return d.Diff(sd), nil
	}
	out := make([]float64, len(s))
	for i := range s {
		out[i] = s[i] - sd[i]
	}
	return out, nil
}

func (t *Task) interaction(en entry) (*mat.Dense, error) {
	switch t.policy {
	case Desired:
		return wrapInteraction(en.desired)
	case Mean:
		lc, err := wrapInteraction(en.current)
		if err != nil {
			return nil, err
		}
		ld, err := wrapInteraction(en.desired)
		if err != nil {
			return nil, err
		}
		var m mat.Dense
		m.Add(lc, ld)
		m.Scale(0.5, &m)
		return &m, nil
	default:
		return wrapInteraction(en.current)
	}
}

func wrapInteraction(f Feature) (*mat.Dense, error) {
	l, err := f.Interaction()
	if err != nil {
		return nil, fmt.Errorf("control: interaction of %s: %w", f.Name(), err)
	}
	return l, nil
}

func (t *Task) observe(p pseudoInverse, n int) {
	full := n
	if full > 6 {
		full = 6
	}
	t.cond.Rank = p.rank
	t.cond.Singular = p.values
	t.cond.Condition = math.Inf(1)
	if last := len(p.values) - 1; last >= 0 && p.values[last] > 0 {
		t.cond.Condition = p.values[0] / p.values[last]
	}
	if p.rank < full {
		t.cond.IllConditioned++
		t.logger.Warn("ill-conditioned interaction matrix",
			zap.Int("rank", p.rank),
			zap.Int("rows", n),
			zap.Float64("condition", t.cond.Condition))
	}
}

// Error returns the last stacked error vector.
func (t *Task) Error() []float64 {
	return append([]float64(nil), t.err...)
}

// ErrorSquared returns the squared norm of the last error vector.
func (t *Task) ErrorSquared() float64 {
	sum := 0.0
	for _, v := range t.err {
		sum += v * v
	}
	return sum
}

// Interaction returns a copy of the last stacked interaction matrix, or nil.
func (t *Task) Interaction() *mat.Dense {
	if t.l == nil {
		return nil
	}
	return mat.DenseCopyOf(t.l)
}

func (t *Task) Conditioning() Conditioning {
	c := t.cond
	c.Singular = append([]float64(nil), c.Singular...)
	return c
}

// Killed reports whether Kill was called.
func (t *Task) Killed() bool { return t.killed }

// Kill releases every registered feature. Calling it again does nothing and
// returns nil.
func (t *Task) Kill() error {
	if t.killed {
		return nil
	}
	for _, en := range t.entries {
		for _, f := range []Feature{en.current, en.desired} {
			if r, ok := f.(releaser); ok {
				r.Release()
			}
		}
	}
	t.entries = nil
	t.killed = true
	return nil
}

// String describes the task: policy, gain and every selected row.
func (t *Task) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "visual servo task (eye-in-hand, camera frame)\n")
	fmt.Fprintf(&b, "  interaction: %s  gain: %g  pinv threshold: %g\n", t.policy, t.gain, t.threshold)
	for _, en := range t.entries {
		names := make([]string, 0, len(en.rows))
		var all []string
		if rn, ok := en.current.(rowNamer); ok {
			all = rn.RowNames()
		}
		for _, r := range en.rows {
			if r < len(all) {
				names = append(names, all[r])
			} else {
				names = append(names, fmt.Sprint(r))
			}
		}
		fmt.Fprintf(&b, "  %-12s %d/%d rows [%s]\n", en.current.Name(), len(en.rows), en.current.Dim(), strings.Join(names, " "))
	}
	fmt.Fprintf(&b, "  total: %d rows", t.Dim())
	return b.String()
}
