package opt_test

import (
	"context"
	"math"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tsevine/SU2/internal/opt"
)

// funcProblem adapts plain functions to the evaluation surface.
type funcProblem struct {
	f     func(x []float64) float64
	g     func(x []float64) []float64
	calls int
}

func (p *funcProblem) Objective(ctx context.Context, x []float64) (float64, error) {
	p.calls++
	return p.f(x), nil
}

func (p *funcProblem) Gradient(ctx context.Context, x []float64) ([]float64, error) {
	return p.g(x), nil
}

func quadratic(center []float64) *funcProblem {
	return &funcProblem{
		f: func(x []float64) float64 {
			sum := 0.0
			for i, v := range x {
				d := v - center[i]
				sum += d * d
			}
			return sum
		},
		g: func(x []float64) []float64 {
			grad := make([]float64, len(x))
			for i, v := range x {
				grad[i] = 2 * (v - center[i])
			}
			return grad
		},
	}
}

var _ = Describe("SLSQP", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("minimizes a shifted quadratic from a zero start", func() {
		prob := quadratic([]float64{3.0, -1.5})

		res, err := opt.SLSQP(ctx, prob, []float64{0, 0}, nil, 100)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Converged).To(BeTrue())
		Expect(res.X[0]).To(BeNumerically("~", 3.0, 1e-6))
		Expect(res.X[1]).To(BeNumerically("~", -1.5, 1e-6))
		Expect(res.Objective).To(BeNumerically("<", 1e-10))
	})

	It("minimizes a banana-valley function", func() {
		prob := &funcProblem{
			f: func(x []float64) float64 {
				a := 1 - x[0]
				b := x[1] - x[0]*x[0]
				return a*a + 10*b*b
			},
			g: func(x []float64) []float64 {
				a := 1 - x[0]
				b := x[1] - x[0]*x[0]
				return []float64{-2*a - 40*b*x[0], 20 * b}
			},
		}

		res, err := opt.SLSQP(ctx, prob, []float64{-1, 1}, nil, 200)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Converged).To(BeTrue())
		Expect(res.X[0]).To(BeNumerically("~", 1.0, 1e-4))
		Expect(res.X[1]).To(BeNumerically("~", 1.0, 1e-4))
	})

	It("respects box bounds", func() {
		prob := quadratic([]float64{5.0})
		bounds := []opt.Bound{{Lower: -1, Upper: 2}}

		res, err := opt.SLSQP(ctx, prob, []float64{0}, bounds, 100)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Converged).To(BeTrue())
		Expect(res.X[0]).To(BeNumerically("<=", 2.0))
		Expect(res.X[0]).To(BeNumerically("~", 2.0, 1e-6))
	})

	It("stops at the iteration cap without convergence", func() {
		// Gradient pointing away from any minimum keeps the search busy.
		prob := &funcProblem{
			f: func(x []float64) float64 { return x[0] },
			g: func(x []float64) []float64 { return []float64{1} },
		}

		res, err := opt.SLSQP(ctx, prob, []float64{0}, nil, 3)
		Expect(err).To(MatchError(opt.ErrMaxIterations))
		Expect(res.Converged).To(BeFalse())
		Expect(res.Iterations).To(Equal(3))
	})

	It("records history and invokes hooks per accepted iteration", func() {
		prob := quadratic([]float64{2.0, 2.0})
		var seen []opt.Iteration

		res, err := opt.SLSQP(ctx, prob, []float64{0, 0}, nil, 100, func(it opt.Iteration) {
			seen = append(seen, it)
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.History).To(HaveLen(len(seen)))
		Expect(seen).NotTo(BeEmpty())
		Expect(seen[0].K).To(Equal(1))
		last := seen[len(seen)-1]
		Expect(last.Objective).To(BeNumerically("<=", seen[0].Objective))
	})

	It("rejects malformed inputs", func() {
		prob := quadratic([]float64{0})

		_, err := opt.SLSQP(ctx, prob, nil, nil, 100)
		Expect(err).To(HaveOccurred())

		_, err = opt.SLSQP(ctx, prob, []float64{0}, []opt.Bound{{}, {}}, 100)
		Expect(err).To(HaveOccurred())

		_, err = opt.SLSQP(ctx, prob, []float64{0}, nil, 0)
		Expect(err).To(HaveOccurred())
	})

	It("aborts on context cancellation", func() {
		prob := quadratic([]float64{math.Pi})
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := opt.SLSQP(cancelled, prob, []float64{0}, nil, 100)
		Expect(err).To(MatchError(context.Canceled))
	})
})

var _ = Describe("Settings", func() {
	It("loads bounds and iteration cap from yaml", func() {
		path := filepath.Join(GinkgoT().TempDir(), "opt.yaml")
		text := "max_iterations: 25\nbounds:\n  - lower: -0.05\n    upper: 0.05\n  - lower: -0.1\n    upper: 0.1\n"
		Expect(os.WriteFile(path, []byte(text), 0644)).To(Succeed())

		s, err := opt.LoadSettings(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.MaxIterations).To(Equal(25))
		Expect(s.Bounds).To(HaveLen(2))
		Expect(s.Bounds[1].Upper).To(Equal(0.1))
	})

	It("rejects inverted bounds", func() {
		path := filepath.Join(GinkgoT().TempDir(), "opt.yaml")
		Expect(os.WriteFile(path, []byte("bounds:\n  - lower: 1\n    upper: -1\n"), 0644)).To(Succeed())

		_, err := opt.LoadSettings(path)
		Expect(err).To(HaveOccurred())
	})

	It("fails for a missing file", func() {
		_, err := opt.LoadSettings(filepath.Join(GinkgoT().TempDir(), "none.yaml"))
		Expect(err).To(HaveOccurred())
	})
})
