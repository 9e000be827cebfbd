// Package driver wires one shape-optimization run together: it loads and
// mutates the case configuration, discovers solver state on disk, builds
// or resumes the project, hands it to the optimizer, and finally moves
// the project artifact to its requested name.
package driver

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/tsevine/SU2/internal/config"
	"github.com/tsevine/SU2/internal/opt"
	"github.com/tsevine/SU2/internal/project"
	"github.com/tsevine/SU2/internal/solver"
	"github.com/tsevine/SU2/internal/state"
)

// Gradient methods accepted on the command line. Both are threaded into
// the configuration; the optimizer itself is not dispatched on them yet.
const (
	GradientAdjoint = "ADJOINT"
	GradientFinDiff = "FINDIFF"
)

// DefaultMaxIterations is the optimizer iteration cap when neither the
// options nor the settings file override it.
const DefaultMaxIterations = 100

// Options is the immutable record of one driver invocation.
type Options struct {
	Filename       string
	ProjectName    string
	Partitions     int
	GradientMethod string
	Quiet          bool
	Cycles         int
	Step           float64

	// Previously implicit constants, promoted to overridable fields.
	MaxIterations int
	ArtifactPath  string

	// SettingsPath optionally names a yaml file with design bounds and
	// an iteration cap.
	SettingsPath string

	// Evaluator overrides the exec-backed solver evaluator. Tests use
	// this to inject analytic objectives.
	Evaluator project.Evaluator

	// OnIteration is invoked after each accepted optimizer iteration.
	OnIteration func(opt.Iteration)

	Logger *zap.Logger
}

// Validate checks the option ranges before a run starts.
func (o Options) Validate() error {
	if o.Filename == "" {
		return fmt.Errorf("configuration file is required")
	}
	if o.Partitions < 1 {
		return fmt.Errorf("partitions must be >= 1, got %d", o.Partitions)
	}
	switch normalizeGradient(o.GradientMethod) {
	case GradientAdjoint, GradientFinDiff:
	default:
		return fmt.Errorf("gradient method must be %s or %s, got %q", GradientAdjoint, GradientFinDiff, o.GradientMethod)
	}
	if o.Cycles < 0 {
		return fmt.Errorf("cycle count must be non-negative, got %d", o.Cycles)
	}
	if o.Step <= 0 {
		return fmt.Errorf("finite-difference step must be positive, got %g", o.Step)
	}
	if o.MaxIterations < 0 {
		return fmt.Errorf("iteration cap must be non-negative, got %d", o.MaxIterations)
	}
	return nil
}

func normalizeGradient(g string) string {
	return strings.ToUpper(strings.TrimSpace(g))
}

// Run performs one complete shape-optimization run and returns the
// project, whose artifact has been moved to Options.ProjectName when one
// was supplied. All failures carry the stage they happened in.
func Run(ctx context.Context, opts Options) (*project.Project, error) {
	if err := opts.Validate(); err != nil {
		return nil, &Error{Stage: StageOptions, Err: err}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	cfg, err := config.Load(opts.Filename)
	if err != nil {
		return nil, &Error{Stage: StageConfig, Err: err}
	}
	cfg.NumberPart = opts.Partitions
	if opts.Quiet {
		cfg.Console = config.QuietConsole
	}
	cfg.GradientMethod = normalizeGradient(opts.GradientMethod)
	cfg.FinDiffStep = opts.Step

	nDV := cfg.NDV()
	if nDV == 0 {
		return nil, &Error{Stage: StageConfig, Err: fmt.Errorf("%s: configuration defines no design variables", opts.Filename)}
	}
	x0 := make([]float64, nDV)

	bounds, its, err := optimizerSettings(opts, nDV)
	if err != nil {
		return nil, &Error{Stage: StageOptions, Err: err}
	}

	st := state.New()
	if err := st.FindFiles(cfg); err != nil {
		return nil, &Error{Stage: StageConfig, Err: err}
	}
	log.Info("state discovered",
		zap.Strings("roles", st.Roles()),
		zap.Int("n_dv", nDV),
		zap.Int("partitions", cfg.NumberPart))

	artifact := opts.ArtifactPath
	if artifact == "" {
		artifact = project.DefaultArtifact
	}
	evaluator := opts.Evaluator
	if evaluator == nil {
		evaluator = solver.NewExec(cfg, st, ".", log)
	}
	popts := []project.Option{
		project.WithEvaluator(evaluator),
		project.WithArtifactPath(artifact),
	}

	var proj *project.Project
	if opts.ProjectName != "" && exists(opts.ProjectName) {
		proj, err = project.Load(opts.ProjectName, popts...)
		if err != nil {
			return nil, &Error{Stage: StageProjectLoad, Err: err}
		}
		proj.Config = cfg
		log.Info("project resumed", zap.String("path", opts.ProjectName), zap.Int("designs", len(proj.Designs)))
	} else {
		proj = project.New(cfg, st, popts...)
		proj.Name = opts.ProjectName
		log.Info("project constructed")
	}

	var hooks []func(opt.Iteration)
	hooks = append(hooks, func(it opt.Iteration) {
		log.Info("iteration",
			zap.Int("k", it.K),
			zap.Float64("objective", it.Objective),
			zap.Float64("grad_norm", it.GradNorm))
	})
	if opts.OnIteration != nil {
		hooks = append(hooks, opts.OnIteration)
	}

	res, err := opt.SLSQP(ctx, proj, x0, bounds, its, hooks...)
	if err != nil {
		return nil, &Error{Stage: StageOptimize, Err: err}
	}
	log.Info("optimization finished",
		zap.Int("iterations", res.Iterations),
		zap.Bool("converged", res.Converged),
		zap.Float64("objective", res.Objective))

	if opts.ProjectName != "" {
		if err := os.Rename(artifact, opts.ProjectName); err != nil {
			return proj, &Error{Stage: StageRename, Err: err}
		}
	}
	return proj, nil
}

func optimizerSettings(opts Options, nDV int) ([]opt.Bound, int, error) {
	its := opts.MaxIterations
	var bounds []opt.Bound
	if opts.SettingsPath != "" {
		s, err := opt.LoadSettings(opts.SettingsPath)
		if err != nil {
			return nil, 0, err
		}
		if len(s.Bounds) != 0 && len(s.Bounds) != nDV {
			return nil, 0, fmt.Errorf("%s: %d bounds for %d design variables", opts.SettingsPath, len(s.Bounds), nDV)
		}
		bounds = s.Bounds
		if its == 0 {
			its = s.MaxIterations
		}
	}
	if its == 0 {
		its = DefaultMaxIterations
	}
	return bounds, its, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
