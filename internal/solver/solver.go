// Package solver launches the external CFD binaries for objective and
// gradient evaluations. Each evaluation runs in its own staged working
// directory seeded with the mesh and solution files discovered for the
// case; results are read back from the solver's CSV outputs.
package solver

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tsevine/SU2/internal/config"
	"github.com/tsevine/SU2/internal/state"
)

const (
	defaultHistory = "history.csv"
	gradientFile   = "of_grad.csv"
	stagedConfig   = "config.cfg"
	solverLogName  = "solver.log"
)

// Exec evaluates designs by running the configured solver commands.
type Exec struct {
	cfg      *config.Config
	st       *state.State
	log      *zap.Logger
	workRoot string
	counter  int
}

// NewExec builds an exec-backed evaluator. Working directories for each
// design are created under workRoot.
func NewExec(cfg *config.Config, st *state.State, workRoot string, log *zap.Logger) *Exec {
	if log == nil {
		log = zap.NewNop()
	}
	return &Exec{cfg: cfg, st: st, log: log, workRoot: workRoot}
}

// Objective stages a design directory, runs the direct solve, and reads
// the objective value from the history file.
func (e *Exec) Objective(ctx context.Context, x []float64) (float64, error) {
	if e.cfg.SolverCommand == "" {
		return 0, fmt.Errorf("no SOLVER_COMMAND configured")
	}
	dir, err := e.stage(x)
	if err != nil {
		return 0, err
	}
	e.log.Info("direct solve",
		zap.String("dir", dir),
		zap.Int("partitions", e.cfg.NumberPart),
		zap.Float64s("x", x))

	if err := e.run(ctx, dir, e.cfg.SolverCommand); err != nil {
		return 0, fmt.Errorf("direct solve: %w", err)
	}

	history := e.cfg.ConvFilename
	if history == "" {
		history = defaultHistory
	}
	obj, err := ParseHistory(filepath.Join(dir, history), e.cfg.ObjectiveFunction)
	if err != nil {
		return 0, err
	}
	e.log.Info("objective", zap.Float64("value", obj), zap.String("dir", dir))
	return obj, nil
}

// Gradient runs the adjoint solve in a staged directory and reads one
// sensitivity per design variable from the gradient file.
func (e *Exec) Gradient(ctx context.Context, x []float64) ([]float64, error) {
	if e.cfg.AdjointCommand == "" {
		return nil, fmt.Errorf("no ADJOINT_COMMAND configured")
	}
	dir, err := e.stage(x)
	if err != nil {
		return nil, err
	}
	e.log.Info("adjoint solve", zap.String("dir", dir), zap.Float64s("x", x))

	if err := e.run(ctx, dir, e.cfg.AdjointCommand); err != nil {
		return nil, fmt.Errorf("adjoint solve: %w", err)
	}

	grad, err := ParseGradient(filepath.Join(dir, gradientFile), len(x))
	if err != nil {
		return nil, err
	}
	return grad, nil
}

// stage creates the next design directory, seeds it with the discovered
// case files, and writes a config carrying the design-variable values.
func (e *Exec) stage(x []float64) (string, error) {
	e.counter++
	name := fmt.Sprintf("DSN_%03d_%s", e.counter, uuid.NewString()[:8])
	dir := filepath.Join(e.workRoot, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	for _, role := range e.st.Roles() {
		src := e.st.Path(role)
		if err := copyFile(src, filepath.Join(dir, filepath.Base(src))); err != nil {
			return "", fmt.Errorf("staging %s: %w", role, err)
		}
	}

	staged := *e.cfg
	staged.Extra = make(map[string]string, len(e.cfg.Extra)+1)
	for k, v := range e.cfg.Extra {
		staged.Extra[k] = v
	}
	staged.Extra["DV_VALUE"] = joinFloats(x)
	if err := config.Save(filepath.Join(dir, stagedConfig), &staged); err != nil {
		return "", err
	}
	return dir, nil
}

// run executes the command line in dir, prefixing mpirun when the case is
// partitioned. Solver output goes to a log file in the design directory.
func (e *Exec) run(ctx context.Context, dir, command string) error {
	args := strings.Fields(command)
	if len(args) == 0 {
		return fmt.Errorf("empty command")
	}
	if e.cfg.NumberPart > 1 {
		args = append([]string{"mpirun", "-n", fmt.Sprint(e.cfg.NumberPart)}, args...)
	}
	args = append(args, stagedConfig)

	logFile, err := os.Create(filepath.Join(dir, solverLogName))
	if err != nil {
		return err
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	return nil
}

// CommandLine reports the argv that run would execute, for logging and
// tests.
func (e *Exec) CommandLine(command string) []string {
	args := strings.Fields(command)
	if e.cfg.NumberPart > 1 {
		args = append([]string{"mpirun", "-n", fmt.Sprint(e.cfg.NumberPart)}, args...)
	}
	return append(args, stagedConfig)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func joinFloats(x []float64) string {
	parts := make([]string, len(x))
	for i, v := range x {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "( " + strings.Join(parts, ", ") + " )"
}
