package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tsevine/SU2/internal/config"
	"github.com/tsevine/SU2/internal/state"
)

const testCfg = "OBJECTIVE_FUNCTION= DRAG\n" +
	"DEFINITION_DV= ( HICKS_HENNE, 0.001 | airfoil | 0, 0.25 ); ( HICKS_HENNE, 0.001 | airfoil | 0, 0.75 )\n"

type quadEvaluator struct {
	objCalls  int
	gradCalls int
}

func (e *quadEvaluator) Objective(ctx context.Context, x []float64) (float64, error) {
	e.objCalls++
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return sum, nil
}

func (e *quadEvaluator) Gradient(ctx context.Context, x []float64) ([]float64, error) {
	e.gradCalls++
	grad := make([]float64, len(x))
	for i, v := range x {
		grad[i] = 2 * v
	}
	return grad, nil
}

func testProject(t *testing.T) (*Project, *quadEvaluator, string) {
	t.Helper()
	cfg, err := config.Parse(testCfg)
	if err != nil {
		t.Fatalf("parse cfg: %v", err)
	}
	artifact := filepath.Join(t.TempDir(), "project.json")
	eval := &quadEvaluator{}
	p := New(cfg, state.New(), WithEvaluator(eval), WithArtifactPath(artifact))
	return p, eval, artifact
}

func TestNewIsConstructed(t *testing.T) {
	p, _, _ := testProject(t)
	if p.Source != Constructed {
		t.Errorf("expected constructed source, got %q", p.Source)
	}
}

func TestObjectiveRecordsAndAutosaves(t *testing.T) {
	p, eval, artifact := testProject(t)

	obj, err := p.Objective(context.Background(), []float64{1.0, 2.0})
	if err != nil {
		t.Fatalf("objective failed: %v", err)
	}
	if obj != 5.0 {
		t.Errorf("expected 5.0, got %g", obj)
	}
	if eval.objCalls != 1 {
		t.Errorf("expected 1 evaluator call, got %d", eval.objCalls)
	}
	if len(p.Designs) != 1 || !p.Designs[0].Evaluated {
		t.Errorf("design not recorded: %+v", p.Designs)
	}
	if _, err := os.Stat(artifact); err != nil {
		t.Errorf("artifact not autosaved: %v", err)
	}
}

func TestGradientAttachesToDesign(t *testing.T) {
	p, _, _ := testProject(t)
	ctx := context.Background()

	x := []float64{1.0, -1.0}
	if _, err := p.Objective(ctx, x); err != nil {
		t.Fatalf("objective failed: %v", err)
	}
	grad, err := p.Gradient(ctx, x)
	if err != nil {
		t.Fatalf("gradient failed: %v", err)
	}
	if grad[0] != 2.0 || grad[1] != -2.0 {
		t.Errorf("gradient: got %v", grad)
	}
	if len(p.Designs) != 1 {
		t.Fatalf("expected gradient attached to existing design, got %d designs", len(p.Designs))
	}
	if p.Designs[0].Gradient == nil {
		t.Error("gradient not attached")
	}
}

func TestDimensionMismatch(t *testing.T) {
	p, _, _ := testProject(t)
	if _, err := p.Objective(context.Background(), []float64{1.0}); err == nil {
		t.Error("expected dimension error for short vector")
	}
	if _, err := p.Gradient(context.Background(), []float64{1, 2, 3}); err == nil {
		t.Error("expected dimension error for long vector")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	p, _, artifact := testProject(t)
	p.Name = "wing"
	ctx := context.Background()

	if _, err := p.Objective(ctx, []float64{0.5, 0.5}); err != nil {
		t.Fatalf("objective failed: %v", err)
	}

	loaded, err := Load(artifact, WithEvaluator(&quadEvaluator{}))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if loaded.Source != Loaded {
		t.Errorf("expected loaded source, got %q", loaded.Source)
	}
	if loaded.Name != "wing" {
		t.Errorf("name lost: got %q", loaded.Name)
	}
	if loaded.Config.NDV() != 2 {
		t.Errorf("config lost: ndv %d", loaded.Config.NDV())
	}
	if len(loaded.Designs) != 1 || loaded.Designs[0].Objective != 0.5 {
		t.Errorf("designs lost: %+v", loaded.Designs)
	}
}

func TestLoadCorruptArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("not json{"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for corrupt artifact")
	}
}

func TestLoadMissingArtifact(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing artifact")
	}
}

func TestBest(t *testing.T) {
	p, _, _ := testProject(t)
	ctx := context.Background()

	for _, x := range [][]float64{{2, 2}, {1, 0}, {1, 1}} {
		if _, err := p.Objective(ctx, x); err != nil {
			t.Fatalf("objective failed: %v", err)
		}
	}

	best := p.Best()
	if best == nil {
		t.Fatal("expected a best design")
	}
	if best.Objective != 1.0 {
		t.Errorf("expected best objective 1.0, got %g", best.Objective)
	}
}

func TestNoEvaluator(t *testing.T) {
	cfg, err := config.Parse(testCfg)
	if err != nil {
		t.Fatalf("parse cfg: %v", err)
	}
	p := New(cfg, state.New(), WithArtifactPath(""))
	if _, err := p.Objective(context.Background(), []float64{0, 0}); err == nil {
		t.Error("expected error without evaluator")
	}
}
