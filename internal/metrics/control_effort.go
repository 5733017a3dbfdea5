package metrics

import (
	"math"

	"github.com/san-kum/momentservo/internal/loop"
)

// ControlEffort is the mean L1 norm of the commanded velocity.
type ControlEffort struct {
	name    string
	sum     float64
	samples int
}

func NewControlEffort() *ControlEffort {
	return &ControlEffort{
		name: "control_effort",
	}
}

func (c *ControlEffort) Name() string {
	return c.name
}

func (c *ControlEffort) Observe(s loop.Sample) {
	for _, val := range s.Velocity {
		c.sum += math.Abs(val)
	}
	c.samples++
}

func (c *ControlEffort) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return c.sum / float64(c.samples)
}

func (c *ControlEffort) Reset() {
	c.sum = 0
	c.samples = 0
}

// PeakVelocity is the largest commanded velocity norm.
type PeakVelocity struct {
	peak float64
}

func NewPeakVelocity() *PeakVelocity { return &PeakVelocity{} }

func (p *PeakVelocity) Name() string { return "peak_velocity" }

func (p *PeakVelocity) Observe(s loop.Sample) {
	p.peak = math.Max(p.peak, s.Velocity.Norm())
}

func (p *PeakVelocity) Value() float64 { return p.peak }

func (p *PeakVelocity) Reset() { p.peak = 0 }
