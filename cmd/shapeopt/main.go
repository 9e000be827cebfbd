package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tsevine/SU2/internal/config"
	"github.com/tsevine/SU2/internal/driver"
	"github.com/tsevine/SU2/internal/monitor"
	"github.com/tsevine/SU2/internal/project"
	"github.com/tsevine/SU2/internal/state"
	"github.com/tsevine/SU2/internal/viz"
)

var (
	configFile  string
	projectName string
	partitions  int
	gradient    string
	quiet       bool
	cycles      int
	step        float64
	iterations  int
	artifact    string
	optConfig   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "shapeopt",
		Short: "aerodynamic shape optimization driver",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run a shape optimization",
		RunE:  runOptimization,
	}
	addRunFlags(runCmd)

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "run a shape optimization with a live progress view",
		RunE:  runLive,
	}
	addRunFlags(liveCmd)

	plotCmd := &cobra.Command{
		Use:   "plot [project]",
		Short: "plot the objective history of a saved project",
		Args:  cobra.ExactArgs(1),
		RunE:  plotProject,
	}

	filesCmd := &cobra.Command{
		Use:   "files",
		Short: "list the solver files discovered for a configuration",
		RunE:  listFiles,
	}
	filesCmd.Flags().StringVarP(&configFile, "file", "f", "", "configuration file path")
	filesCmd.MarkFlagRequired("file")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "parse and dump a configuration file",
		RunE:  dumpConfig,
	}
	configCmd.Flags().StringVarP(&configFile, "file", "f", "", "configuration file path")
	configCmd.MarkFlagRequired("file")

	watchCmd := &cobra.Command{
		Use:   "watch [history file]",
		Short: "tail a solver history file from an in-flight run",
		Args:  cobra.ExactArgs(1),
		RunE:  watchHistory,
	}

	rootCmd.AddCommand(runCmd, liveCmd, plotCmd, filesCmd, configCmd, watchCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&configFile, "file", "f", "", "configuration file path")
	cmd.Flags().StringVarP(&projectName, "name", "n", "", "project artifact name")
	cmd.Flags().IntVarP(&partitions, "partitions", "p", 1, "number of partitions")
	cmd.Flags().StringVarP(&gradient, "gradient", "g", driver.GradientAdjoint, "gradient method (ADJOINT or FINDIFF)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress solver console output")
	cmd.Flags().IntVarP(&cycles, "cycle", "c", 0, "number of mesh adaptation cycles")
	cmd.Flags().Float64VarP(&step, "step", "s", 1e-4, "finite difference step")
	cmd.Flags().IntVar(&iterations, "iterations", 0, "optimizer iteration cap (default 100)")
	cmd.Flags().StringVar(&artifact, "artifact", project.DefaultArtifact, "default project artifact path")
	cmd.Flags().StringVar(&optConfig, "opt-config", "", "optimizer settings file (yaml)")
	cmd.MarkFlagRequired("file")
}

func driverOptions() driver.Options {
	return driver.Options{
		Filename:       configFile,
		ProjectName:    projectName,
		Partitions:     partitions,
		GradientMethod: gradient,
		Quiet:          quiet,
		Cycles:         cycles,
		Step:           step,
		MaxIterations:  iterations,
		ArtifactPath:   artifact,
		SettingsPath:   optConfig,
	}
}

func newLogger(quiet bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if quiet {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	}
	return cfg.Build()
}

func runOptimization(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(quiet)
	if err != nil {
		return err
	}
	defer logger.Sync()

	opts := driverOptions()
	opts.Logger = logger

	proj, err := driver.Run(context.Background(), opts)
	if err != nil {
		return err
	}

	fmt.Println("optimization complete")
	fmt.Printf("evaluations: %d\n", len(proj.Designs))
	if best := proj.Best(); best != nil {
		fmt.Printf("best objective: %.8f\n", best.Objective)
		fmt.Printf("best design: %v\n", best.X)
	}
	if projectName != "" {
		fmt.Printf("project saved: %s\n", projectName)
	} else {
		fmt.Printf("project saved: %s\n", proj.ArtifactPath())
	}
	return nil
}

func runLive(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := driverOptions()
	// Solver logs would tear the TUI; route them nowhere.
	opts.Logger = zap.NewNop()

	updates := make(chan tea.Msg, 64)
	opts.OnIteration = viz.Forward(ctx, updates)

	runErr := make(chan error, 1)
	go func() {
		_, err := driver.Run(ctx, opts)
		select {
		case updates <- viz.DoneMsg{Err: err}:
		case <-ctx.Done():
		}
		runErr <- err
	}()

	m := viz.NewModel(filepath.Base(configFile), updates)
	_, uiErr := tea.NewProgram(m).Run()

	// Quitting the view cancels an in-flight run and unblocks its hook.
	cancel()
	err := <-runErr
	if uiErr != nil {
		return uiErr
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func plotProject(cmd *cobra.Command, args []string) error {
	proj, err := project.Load(args[0])
	if err != nil {
		return fmt.Errorf("project load failed: %w", err)
	}

	var objectives []float64
	for _, d := range proj.Designs {
		if d.Evaluated {
			objectives = append(objectives, d.Objective)
		}
	}

	fmt.Printf("project: %s\n", args[0])
	fmt.Printf("evaluations: %d\n\n", len(objectives))
	fmt.Println(viz.RenderObjective(objectives))
	if best := proj.Best(); best != nil {
		fmt.Printf("\nbest objective: %.8f\n", best.Objective)
		fmt.Printf("best design: %v\n", best.X)
	}
	return nil
}

func listFiles(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	st := state.New()
	if err := st.FindFiles(cfg); err != nil {
		return err
	}

	if len(st.Files) == 0 {
		fmt.Println("no solver files found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROLE\tPATH")
	for _, role := range st.Roles() {
		fmt.Fprintf(w, "%s\t%s\n", role, st.Path(role))
	}
	return w.Flush()
}

func watchHistory(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	records, err := monitor.New(args[0], nil).Tail(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("watching %s (ctrl+c to stop)\n", args[0])
	for rec := range records {
		keys := make([]string, 0, len(rec.Values))
		for k := range rec.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Printf("iter %d:", rec.Iter)
		for _, k := range keys {
			fmt.Printf("  %s=%.6g", k, rec.Values[k])
		}
		fmt.Println()
	}
	return nil
}

func dumpConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	fmt.Printf("design variables: %d\n", cfg.NDV())
	fmt.Printf("unrecognized keys: %d\n\n", len(cfg.Extra))
	fmt.Print(cfg.Dump())
	return nil
}
