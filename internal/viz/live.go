// Package viz renders optimization progress in the terminal: a live
// bubbletea view fed by optimizer iterations, and plain asciigraph plots
// for saved histories.
package viz

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/tsevine/SU2/internal/opt"
)

const (
	graphWidth  = 70
	graphHeight = 12
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true).MarginBottom(1)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	graphStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("49")).Padding(1, 0)
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)
)

// IterationMsg carries one accepted optimizer iteration into the view.
type IterationMsg opt.Iteration

// DoneMsg signals the end of the run, with its error if it failed.
type DoneMsg struct {
	Err error
}

// Forward returns an iteration hook that sends IterationMsg values on
// updates. The send is abandoned once ctx is cancelled, so a hook can
// never block the run after the view has gone away.
func Forward(ctx context.Context, updates chan<- tea.Msg) func(opt.Iteration) {
	return func(it opt.Iteration) {
		select {
		case updates <- IterationMsg(it):
		case <-ctx.Done():
		}
	}
}

// Model is the live optimization view.
type Model struct {
	caption string
	updates <-chan tea.Msg
	iters   []opt.Iteration
	done    bool
	err     error
}

// NewModel builds a live view reading iteration and completion messages
// from updates.
func NewModel(caption string, updates <-chan tea.Msg) Model {
	return Model{caption: caption, updates: updates}
}

func (m Model) Init() tea.Cmd {
	return m.wait()
}

func (m Model) wait() tea.Cmd {
	return func() tea.Msg {
		return <-m.updates
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case IterationMsg:
		m.iters = append(m.iters, opt.Iteration(msg))
		return m, m.wait()
	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("shape optimization: " + m.caption))
	b.WriteString("\n")

	if len(m.iters) == 0 {
		b.WriteString(valueStyle.Render("waiting for first iteration..."))
		b.WriteString("\n")
	} else {
		objectives := make([]float64, len(m.iters))
		for i, it := range m.iters {
			objectives[i] = it.Objective
		}
		b.WriteString(graphStyle.Render(RenderObjective(objectives)))
		b.WriteString("\n")

		last := m.iters[len(m.iters)-1]
		b.WriteString(row("iteration", fmt.Sprintf("%d", last.K)))
		b.WriteString(row("objective", fmt.Sprintf("%.8f", last.Objective)))
		b.WriteString(row("grad norm", fmt.Sprintf("%.3e", last.GradNorm)))
		b.WriteString(row("step", fmt.Sprintf("%.3e", last.StepSize)))
		b.WriteString(row("design", formatVector(last.X)))
	}

	if m.done {
		if m.err != nil {
			b.WriteString(failStyle.Render("failed: " + m.err.Error()))
		} else {
			b.WriteString(doneStyle.Render("optimization complete"))
		}
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("q: quit"))
	b.WriteString("\n")
	return b.String()
}

func row(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value) + "\n"
}

func formatVector(x []float64) string {
	const maxShown = 8
	parts := make([]string, 0, maxShown+1)
	for i, v := range x {
		if i == maxShown {
			parts = append(parts, fmt.Sprintf("... (%d total)", len(x)))
			break
		}
		parts = append(parts, fmt.Sprintf("%.5f", v))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// RenderObjective plots an objective series as an ascii graph.
func RenderObjective(objectives []float64) string {
	if len(objectives) == 0 {
		return "no evaluations recorded"
	}
	if len(objectives) == 1 {
		// asciigraph needs at least two samples to draw a line.
		objectives = append(objectives, objectives[0])
	}
	return asciigraph.Plot(objectives,
		asciigraph.Height(graphHeight),
		asciigraph.Width(graphWidth),
		asciigraph.Caption("objective vs iteration"),
	)
}
