// Package opt implements the sequential least-squares minimizer that
// drives a project through repeated objective and gradient evaluations.
package opt

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrMaxIterations reports that the iteration cap was reached before the
// convergence criteria were met.
var ErrMaxIterations = errors.New("maximum iterations reached without convergence")

// ErrLineSearch reports that no acceptable step could be found along the
// current search direction.
var ErrLineSearch = errors.New("line search failed to find an acceptable step")

const (
	defaultGradTol = 1e-8
	defaultStepTol = 1e-10
	armijoC1       = 1e-4
	maxBacktracks  = 30
)

// Problem is the evaluation surface the minimizer drives. *project.Project
// satisfies it.
type Problem interface {
	Objective(ctx context.Context, x []float64) (float64, error)
	Gradient(ctx context.Context, x []float64) ([]float64, error)
}

// Bound is a simple box constraint on one design variable.
type Bound struct {
	Lower float64 `yaml:"lower"`
	Upper float64 `yaml:"upper"`
}

// Iteration is one accepted step of the minimizer.
type Iteration struct {
	K         int
	X         []float64
	Objective float64
	GradNorm  float64
	StepSize  float64
}

// Result summarizes a finished minimization.
type Result struct {
	X          []float64
	Objective  float64
	Iterations int
	Converged  bool
	History    []Iteration
}

// SLSQP minimizes the problem objective starting from x0, subject to
// optional box bounds, stopping after at most maxIter accepted iterations.
// Each hook is invoked after every accepted iteration. The descent
// direction comes from a BFGS inverse-curvature approximation with a
// backtracking Armijo line search; directions and iterates are projected
// into the bounds.
func SLSQP(ctx context.Context, prob Problem, x0 []float64, bounds []Bound, maxIter int, hooks ...func(Iteration)) (*Result, error) {
	n := len(x0)
	if n == 0 {
		return nil, fmt.Errorf("empty design vector")
	}
	if len(bounds) != 0 && len(bounds) != n {
		return nil, fmt.Errorf("got %d bounds for %d variables", len(bounds), n)
	}
	if maxIter < 1 {
		return nil, fmt.Errorf("iteration cap must be positive, got %d", maxIter)
	}

	x := project(clone(x0), bounds)
	f, err := prob.Objective(ctx, x)
	if err != nil {
		return nil, err
	}
	g, err := prob.Gradient(ctx, x)
	if err != nil {
		return nil, err
	}

	h := identity(n)
	res := &Result{X: clone(x), Objective: f}

	for k := 1; k <= maxIter; k++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		gnorm := norm(g)
		if gnorm < defaultGradTol {
			res.Converged = true
			return res, nil
		}

		d := neg(matvec(h, g))
		if dot(g, d) >= 0 {
			// Curvature approximation went bad; restart steepest descent.
			h = identity(n)
			d = neg(g)
		}

		alpha, xNew, fNew, err := backtrack(ctx, prob, x, f, g, d, bounds)
		if err != nil {
			// A stalled search at the bounds, or one whose remaining
			// steps are below tolerance, is a constrained optimum.
			if errors.Is(err, errNoProgress) || (errors.Is(err, ErrLineSearch) && gnorm < math.Sqrt(defaultGradTol)) {
				res.Converged = true
				return res, nil
			}
			return res, err
		}

		s := sub(xNew, x)
		step := norm(s)

		gNew, err := prob.Gradient(ctx, xNew)
		if err != nil {
			return res, err
		}

		y := sub(gNew, g)
		if sy := dot(s, y); sy > 1e-12 {
			bfgsUpdate(h, s, y, sy)
		}

		x, f, g = xNew, fNew, gNew
		res.X = clone(x)
		res.Objective = f
		res.Iterations = k

		it := Iteration{K: k, X: clone(x), Objective: f, GradNorm: norm(g), StepSize: alpha}
		res.History = append(res.History, it)
		for _, hook := range hooks {
			hook(it)
		}

		if step < defaultStepTol {
			res.Converged = true
			return res, nil
		}
	}

	return res, ErrMaxIterations
}

// errNoProgress reports that bound projection swallowed every trial step.
var errNoProgress = errors.New("projected step made no progress")

// backtrack halves the step until the Armijo condition holds.
func backtrack(ctx context.Context, prob Problem, x []float64, f float64, g, d []float64, bounds []Bound) (float64, []float64, float64, error) {
	slope := dot(g, d)
	alpha := 1.0
	moved := false
	for i := 0; i < maxBacktracks; i++ {
		trial := project(axpy(alpha, d, x), bounds)
		if norm(sub(trial, x)) == 0 {
			alpha *= 0.5
			continue
		}
		moved = true
		fTrial, err := prob.Objective(ctx, trial)
		if err != nil {
			return 0, nil, 0, err
		}
		if fTrial <= f+armijoC1*alpha*slope {
			return alpha, trial, fTrial, nil
		}
		alpha *= 0.5
	}
	if !moved {
		return 0, nil, 0, errNoProgress
	}
	return 0, nil, 0, ErrLineSearch
}

func bfgsUpdate(h [][]float64, s, y []float64, sy float64) {
	n := len(s)
	hy := matvec(h, y)
	yhy := dot(y, hy)
	c1 := (sy + yhy) / (sy * sy)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			h[i][j] += c1*s[i]*s[j] - (hy[i]*s[j]+s[i]*hy[j])/sy
		}
	}
}

func identity(n int) [][]float64 {
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
		m[i][i] = 1
	}
	return m
}

func matvec(m [][]float64, v []float64) []float64 {
	out := make([]float64, len(v))
	for i := range m {
		sum := 0.0
		for j := range v {
			sum += m[i][j] * v[j]
		}
		out[i] = sum
	}
	return out
}

func project(x []float64, bounds []Bound) []float64 {
	if len(bounds) == 0 {
		return x
	}
	for i := range x {
		if x[i] < bounds[i].Lower {
			x[i] = bounds[i].Lower
		}
		if x[i] > bounds[i].Upper {
			x[i] = bounds[i].Upper
		}
	}
	return x
}

func clone(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	return out
}

func neg(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = -v
	}
	return out
}

func sub(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

func axpy(a float64, x, y []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		out[i] = y[i] + a*x[i]
	}
	return out
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func norm(x []float64) float64 {
	return math.Sqrt(dot(x, x))
}
