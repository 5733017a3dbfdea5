package control_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/momentservo/internal/control"
)

type stubFeature struct {
	name     string
	values   []float64
	l        *mat.Dense
	released bool
}

func (s *stubFeature) Name() string     { return s.name }
func (s *stubFeature) Dim() int          { return len(s.values) }
func (s *stubFeature) Values() []float64 { return s.values }
func (s *stubFeature) Release()          { s.released = true }

func (s *stubFeature) RowNames() []string {
	out := make([]string, len(s.values))
	for i := range out {
		out[i] = s.name + string(rune('a'+i))
	}
	return out
}

func (s *stubFeature) Interaction() (*mat.Dense, error) {
	return mat.DenseCopyOf(s.l), nil
}

func scaledIdentity(n int, k float64) *mat.Dense {
	m := mat.NewDense(n, 6, nil)
	for i := 0; i < n && i < 6; i++ {
		m.Set(i, i, k)
	}
	return m
}

func pair(cur, des []float64, lc, ld float64) (*stubFeature, *stubFeature) {
	return &stubFeature{name: "s", values: cur, l: scaledIdentity(len(cur), lc)},
		&stubFeature{name: "s", values: des, l: scaledIdentity(len(des), ld)}
}

var _ = Describe("Task", func() {
	var task *control.Task

	BeforeEach(func() {
		task = control.NewTask(control.WithGain(0.5))
	})

	It("commands zero velocity at the desired features", func() {
		cur, des := pair([]float64{1, 2, 3, 4, 5, 6}, []float64{1, 2, 3, 4, 5, 6}, -1, -1)
		Expect(task.AddFeature(cur, des)).To(Succeed())

		v, err := task.ComputeControlLaw()
		Expect(err).NotTo(HaveOccurred())
		for _, c := range v {
			Expect(c).To(BeNumerically("~", 0, 1e-15))
		}
		Expect(task.ErrorSquared()).To(BeZero())
	})

	It("computes -gain times the pseudo-inverse times the error", func() {
		cur, des := pair([]float64{0.2, 0, 0, 0, 0, -0.4}, make([]float64, 6), -1, -1)
		Expect(task.AddFeature(cur, des)).To(Succeed())

		v, err := task.ComputeControlLaw()
		Expect(err).NotTo(HaveOccurred())
		Expect(v[0]).To(BeNumerically("~", 0.1, 1e-12))
		Expect(v[5]).To(BeNumerically("~", -0.2, 1e-12))
		Expect(task.Error()).To(Equal([]float64{0.2, 0, 0, 0, 0, -0.4}))
		Expect(task.ErrorSquared()).To(BeNumerically("~", 0.2, 1e-12))
	})

	It("ignores rows excluded by the mask", func() {
		cur, des := pair([]float64{0.1, 1e3}, []float64{0, 0}, -1, -1)
		Expect(task.AddFeature(cur, des, control.MaskOf(0))).To(Succeed())
		Expect(task.Dim()).To(Equal(1))

		v, err := task.ComputeControlLaw()
		Expect(err).NotTo(HaveOccurred())
		Expect(v[0]).To(BeNumerically("~", 0.05, 1e-12))
		Expect(v[1]).To(BeNumerically("~", 0, 1e-12))
		Expect(task.Error()).To(HaveLen(1))
	})

	It("stacks features in registration order", func() {
		a, ad := pair([]float64{1}, []float64{0}, 1, 1)
		b := &stubFeature{name: "b", values: []float64{2}, l: mat.NewDense(1, 6, []float64{0, 1, 0, 0, 0, 0})}
		bd := &stubFeature{name: "b", values: []float64{0}, l: mat.NewDense(1, 6, nil)}
		Expect(task.AddFeature(a, ad)).To(Succeed())
		Expect(task.AddFeature(b, bd)).To(Succeed())

		_, err := task.ComputeControlLaw()
		Expect(err).NotTo(HaveOccurred())
		Expect(task.Error()).To(Equal([]float64{1, 2}))
		l := task.Interaction()
		Expect(l.At(0, 0)).To(Equal(1.0))
		Expect(l.At(1, 1)).To(Equal(1.0))
	})

	DescribeTable("interaction policies",
		func(p control.Policy, want float64) {
			task.SetPolicy(p)
			cur, des := pair([]float64{1.2, 0, 0, 0, 0, 0}, make([]float64, 6), 2, 4)
			Expect(task.AddFeature(cur, des)).To(Succeed())
			v, err := task.ComputeControlLaw()
			Expect(err).NotTo(HaveOccurred())
			Expect(v[0]).To(BeNumerically("~", want, 1e-12))
		},
		Entry("current", control.Current, -0.5*1.2/2),
		Entry("desired", control.Desired, -0.5*1.2/4),
		Entry("mean", control.Mean, -0.5*1.2/3),
	)

	It("rejects mismatched dimensions and empty selections", func() {
		cur, _ := pair([]float64{1, 2}, []float64{0, 0}, 1, 1)
		_, des := pair([]float64{1}, []float64{0}, 1, 1)
		Expect(task.AddFeature(cur, des)).To(MatchError(control.ErrDimMismatch))

		cur, des = pair([]float64{1, 2}, []float64{0, 0}, 1, 1)
		Expect(task.AddFeature(cur, des, control.MaskOf(5))).To(MatchError(control.ErrEmptySelection))
	})

	It("fails without features", func() {
		_, err := task.ComputeControlLaw()
		Expect(err).To(MatchError(control.ErrNoFeatures))
	})

	It("counts rank-deficient interaction matrices without failing", func() {
		core, logs := observer.New(zap.WarnLevel)
		task = control.NewTask(control.WithLogger(zap.New(core)))
		cur, des := pair([]float64{1, 1, 1, 1, 1, 1}, make([]float64, 6), 1, 1)
		cur.l.Set(5, 5, 0)
		Expect(task.AddFeature(cur, des)).To(Succeed())

		v, err := task.ComputeControlLaw()
		Expect(err).NotTo(HaveOccurred())
		Expect(v[5]).To(BeZero())
		c := task.Conditioning()
		Expect(c.Rank).To(Equal(5))
		Expect(c.IllConditioned).To(Equal(1))
		Expect(c.Condition).To(BeNumerically(">", 1e12))
		Expect(logs.FilterMessage("ill-conditioned interaction matrix").Len()).To(Equal(1))
	})

	Describe("Kill", func() {
		It("releases features once and rejects later use", func() {
			cur, des := pair([]float64{1}, []float64{0}, 1, 1)
			Expect(task.AddFeature(cur, des)).To(Succeed())

			Expect(task.Kill()).To(Succeed())
			Expect(cur.released).To(BeTrue())
			Expect(des.released).To(BeTrue())
			Expect(task.Kill()).To(Succeed())
			Expect(task.Killed()).To(BeTrue())

			_, err := task.ComputeControlLaw()
			Expect(err).To(MatchError(control.ErrKilled))
			Expect(task.AddFeature(cur, des)).To(MatchError(control.ErrKilled))
		})
	})

	It("describes its rows", func() {
		cur, des := pair([]float64{1, 2, 3}, []float64{0, 0, 0}, 1, 1)
		Expect(task.AddFeature(cur, des, control.MaskOf(0, 2))).To(Succeed())
		s := task.String()
		Expect(s).To(ContainSubstring("2/3 rows [sa sc]"))
		Expect(s).To(ContainSubstring("gain: 0.5"))
	})
})

var _ = Describe("PseudoInverse", func() {
	It("satisfies A·A⁺·A = A", func() {
		a := mat.NewDense(4, 6, []float64{
			1, 2, 0, 0, 1, 0,
			0, 1, 3, 0, 0, 1,
			2, 0, 1, 1, 0, 0,
			1, 3, 3, 0, 1, 1,
		})
		p, err := control.PseudoInverse(a, control.DefaultThreshold)
		Expect(err).NotTo(HaveOccurred())

		var ap, apa mat.Dense
		ap.Mul(a, p)
		apa.Mul(&ap, a)
		Expect(mat.EqualApprox(&apa, a, 1e-10)).To(BeTrue())
	})
})

var _ = Describe("Policy", func() {
	It("parses its names", func() {
		for _, p := range []control.Policy{control.Current, control.Desired, control.Mean} {
			got, err := control.ParsePolicy(p.String())
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(p))
		}
		_, err := control.ParsePolicy("average")
		Expect(err).To(HaveOccurred())
	})
})
