package solver

import (
	"context"
	"fmt"
)

// ObjectiveFunc is the minimal surface finite differencing needs.
type ObjectiveFunc interface {
	Objective(ctx context.Context, x []float64) (float64, error)
}

// FinDiff approximates gradients with forward differences over any
// objective evaluator. It is the FINDIFF gradient-method backend; the
// driver does not dispatch to it yet.
type FinDiff struct {
	Inner ObjectiveFunc
	Step  float64
}

func NewFinDiff(inner ObjectiveFunc, step float64) *FinDiff {
	return &FinDiff{Inner: inner, Step: step}
}

func (f *FinDiff) Objective(ctx context.Context, x []float64) (float64, error) {
	return f.Inner.Objective(ctx, x)
}

func (f *FinDiff) Gradient(ctx context.Context, x []float64) ([]float64, error) {
	if f.Step <= 0 {
		return nil, fmt.Errorf("finite-difference step must be positive, got %g", f.Step)
	}
	base, err := f.Inner.Objective(ctx, x)
	if err != nil {
		return nil, err
	}
	grad := make([]float64, len(x))
	xp := make([]float64, len(x))
	copy(xp, x)
	for i := range x {
		xp[i] = x[i] + f.Step
		fp, err := f.Inner.Objective(ctx, xp)
		if err != nil {
			return nil, err
		}
		grad[i] = (fp - base) / f.Step
		xp[i] = x[i]
	}
	return grad, nil
}
