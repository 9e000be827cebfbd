// Package project bundles the configuration, discovered solver state, and
// evaluation history for one shape-optimization run into a single handle
// that the optimizer drives. The handle persists itself as a JSON artifact
// after every recorded evaluation, so a run can be resumed from disk.
package project

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tsevine/SU2/internal/config"
	"github.com/tsevine/SU2/internal/state"
)

// DefaultArtifact is the conventional path the project saves itself to
// during optimization. The driver renames it afterwards when the user
// supplied a project name.
const DefaultArtifact = "project.json"

// Source tags how the active project came to be.
type Source string

const (
	Constructed Source = "constructed"
	Loaded      Source = "loaded"
)

// Evaluator computes the objective and its gradient for a design vector.
// The production implementation shells out to the external CFD binaries;
// tests inject analytic functions.
type Evaluator interface {
	Objective(ctx context.Context, x []float64) (float64, error)
	Gradient(ctx context.Context, x []float64) ([]float64, error)
}

// Design is one recorded evaluation. Evaluated marks designs whose
// objective was actually computed, as opposed to gradient-only records.
type Design struct {
	ID        string    `json:"id"`
	X         []float64 `json:"x"`
	Objective float64   `json:"objective"`
	Evaluated bool      `json:"evaluated"`
	Gradient  []float64 `json:"gradient,omitempty"`
	Stamp     time.Time `json:"stamp"`
}

// Project is the optimizable handle for one run.
type Project struct {
	Name    string
	Config  *config.Config
	State   *state.State
	Designs []Design

	// Source distinguishes a freshly built project from one resumed
	// from a saved artifact. Not persisted.
	Source Source

	artifact  string
	evaluator Evaluator
}

// Option configures a project at construction or load time.
type Option func(*Project)

// WithEvaluator overrides the evaluator the project calls into.
func WithEvaluator(e Evaluator) Option {
	return func(p *Project) { p.evaluator = e }
}

// WithArtifactPath overrides where the project autosaves itself.
func WithArtifactPath(path string) Option {
	return func(p *Project) { p.artifact = path }
}

// New constructs a fresh project from a configuration and discovered state.
func New(cfg *config.Config, st *state.State, opts ...Option) *Project {
	p := &Project{
		Config:   cfg,
		State:    st,
		Source:   Constructed,
		artifact: DefaultArtifact,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// artifactData is the on-disk shape of a project. The configuration is
// stored as cfg text so the artifact stays readable next to the case files.
type artifactData struct {
	Name       string       `json:"name"`
	ConfigText string       `json:"config"`
	State      *state.State `json:"state"`
	Designs    []Design     `json:"designs"`
}

// Load reads a project artifact back from disk. The returned project is
// tagged Loaded.
func Load(path string, opts ...Option) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var art artifactData
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("%s: corrupt project artifact: %w", path, err)
	}
	cfg, err := config.Parse(art.ConfigText)
	if err != nil {
		return nil, fmt.Errorf("%s: corrupt project configuration: %w", path, err)
	}
	p := &Project{
		Name:     art.Name,
		Config:   cfg,
		State:    art.State,
		Designs:  art.Designs,
		Source:   Loaded,
		artifact: DefaultArtifact,
	}
	if p.State == nil {
		p.State = state.New()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Save writes the project artifact to the given path.
func (p *Project) Save(path string) error {
	art := artifactData{
		Name:       p.Name,
		ConfigText: p.Config.Dump(),
		State:      p.State,
		Designs:    p.Designs,
	}
	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ArtifactPath returns where the project autosaves itself.
func (p *Project) ArtifactPath() string { return p.artifact }

// Objective evaluates and records the objective at x, then autosaves.
func (p *Project) Objective(ctx context.Context, x []float64) (float64, error) {
	if p.evaluator == nil {
		return 0, fmt.Errorf("project has no evaluator")
	}
	if err := p.checkDim(x); err != nil {
		return 0, err
	}
	obj, err := p.evaluator.Objective(ctx, x)
	if err != nil {
		return 0, err
	}
	p.Designs = append(p.Designs, Design{
		ID:        uuid.NewString(),
		X:         clone(x),
		Objective: obj,
		Evaluated: true,
		Stamp:     time.Now(),
	})
	if err := p.autosave(); err != nil {
		return 0, err
	}
	return obj, nil
}

// Gradient evaluates the gradient at x and attaches it to the most recent
// design with matching variables, then autosaves.
func (p *Project) Gradient(ctx context.Context, x []float64) ([]float64, error) {
	if p.evaluator == nil {
		return nil, fmt.Errorf("project has no evaluator")
	}
	if err := p.checkDim(x); err != nil {
		return nil, err
	}
	grad, err := p.evaluator.Gradient(ctx, x)
	if err != nil {
		return nil, err
	}
	if len(grad) != len(x) {
		return nil, fmt.Errorf("evaluator returned gradient of length %d for %d variables", len(grad), len(x))
	}

	if i := p.findDesign(x); i >= 0 {
		p.Designs[i].Gradient = clone(grad)
	} else {
		p.Designs = append(p.Designs, Design{
			ID:       uuid.NewString(),
			X:        clone(x),
			Gradient: clone(grad),
			Stamp:    time.Now(),
		})
	}
	if err := p.autosave(); err != nil {
		return nil, err
	}
	return grad, nil
}

// Best returns the recorded design with the lowest objective, nil when no
// evaluations have happened yet.
func (p *Project) Best() *Design {
	var best *Design
	for i := range p.Designs {
		d := &p.Designs[i]
		if !d.Evaluated {
			continue
		}
		if best == nil || d.Objective < best.Objective {
			best = d
		}
	}
	return best
}

func (p *Project) checkDim(x []float64) error {
	if n := p.Config.NDV(); len(x) != n {
		return fmt.Errorf("design vector has length %d, config defines %d variables", len(x), n)
	}
	return nil
}

func (p *Project) findDesign(x []float64) int {
	for i := len(p.Designs) - 1; i >= 0; i-- {
		if equal(p.Designs[i].X, x) {
			return i
		}
	}
	return -1
}

func (p *Project) autosave() error {
	if p.artifact == "" {
		return nil
	}
	return p.Save(p.artifact)
}

func clone(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	return out
}

func equal(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
