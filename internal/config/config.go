package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	DefaultConsole     = "VERBOSE"
	QuietConsole       = "QUIET"
	DefaultFinDiffStep = 1e-4
	DefaultNumberPart  = 1
)

// Config holds the settings parsed from an SU2-style configuration file.
// Known keys are promoted to typed fields; everything else is preserved
// verbatim in Extra so a round-trip through Save keeps the file usable by
// the external solver.
type Config struct {
	MeshFilename         string
	SolutionFlowFilename string
	SolutionAdjFilename  string
	RestartFlowFilename  string
	RestartAdjFilename   string
	ConvFilename         string
	ObjectiveFunction    string
	GradientMethod       string
	FinDiffStep          float64
	NumberPart           int
	Console              string
	SolverCommand        string
	AdjointCommand       string
	DefinitionDV         DVDefinition

	// Extra holds unrecognized keys for forward compatibility.
	Extra map[string]string

	order []string
	path  string
}

// DVDefinition describes the design-variable set, one entry per variable.
type DVDefinition struct {
	Kind    []string
	Scale   []float64
	Markers [][]string
	Params  [][]float64
}

// NDV returns the number of design variables.
func (d DVDefinition) NDV() int {
	return len(d.Kind)
}

func Default() *Config {
	return &Config{
		Console:     DefaultConsole,
		NumberPart:  DefaultNumberPart,
		FinDiffStep: DefaultFinDiffStep,
		Extra:       make(map[string]string),
	}
}

// Load reads and parses a configuration file. Lines are KEY= VALUE pairs;
// '%' starts a comment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	cfg.path = path
	if err := cfg.parse(string(data)); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse builds a configuration from cfg text held in memory.
func Parse(text string) (*Config, error) {
	cfg := Default()
	if err := cfg.parse(text); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the location the config was loaded from, empty for a
// config built in memory.
func (c *Config) Path() string { return c.path }

// NDV returns the design-variable count for this configuration.
func (c *Config) NDV() int { return c.DefinitionDV.NDV() }

func (c *Config) parse(text string) error {
	for i, raw := range strings.Split(text, "\n") {
		line := raw
		if idx := strings.Index(line, "%"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		eq := strings.Index(line, "=")
		if eq < 0 {
			return fmt.Errorf("line %d: expected KEY= VALUE, got %q", i+1, line)
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" {
			return fmt.Errorf("line %d: empty key", i+1)
		}
		if err := c.set(key, val); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
		c.order = append(c.order, key)
	}
	return nil
}

func (c *Config) set(key, val string) error {
	switch key {
	case "MESH_FILENAME":
		c.MeshFilename = val
	case "SOLUTION_FLOW_FILENAME":
		c.SolutionFlowFilename = val
	case "SOLUTION_ADJ_FILENAME":
		c.SolutionAdjFilename = val
	case "RESTART_FLOW_FILENAME":
		c.RestartFlowFilename = val
	case "RESTART_ADJ_FILENAME":
		c.RestartAdjFilename = val
	case "CONV_FILENAME":
		c.ConvFilename = val
	case "OBJECTIVE_FUNCTION":
		c.ObjectiveFunction = val
	case "GRADIENT_METHOD":
		c.GradientMethod = strings.ToUpper(val)
	case "CONSOLE":
		c.Console = strings.ToUpper(val)
	case "SOLVER_COMMAND":
		c.SolverCommand = val
	case "ADJOINT_COMMAND":
		c.AdjointCommand = val
	case "FIN_DIFF_STEP":
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("FIN_DIFF_STEP: %w", err)
		}
		if f <= 0 {
			return fmt.Errorf("FIN_DIFF_STEP must be positive, got %g", f)
		}
		c.FinDiffStep = f
	case "NUMBER_PART":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("NUMBER_PART: %w", err)
		}
		if n < 1 {
			return fmt.Errorf("NUMBER_PART must be >= 1, got %d", n)
		}
		c.NumberPart = n
	case "DEFINITION_DV":
		dv, err := parseDV(val)
		if err != nil {
			return fmt.Errorf("DEFINITION_DV: %w", err)
		}
		c.DefinitionDV = dv
	default:
		c.Extra[key] = val
	}
	return nil
}

// parseDV parses a design-variable definition of the form
//
//	( KIND, SCALE | MARKER, ... | PARAM, ... ); ( ... )
func parseDV(val string) (DVDefinition, error) {
	var dv DVDefinition
	for _, entry := range strings.Split(val, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.HasPrefix(entry, "(") || !strings.HasSuffix(entry, ")") {
			return dv, fmt.Errorf("entry %q is not parenthesized", entry)
		}
		inner := entry[1 : len(entry)-1]
		sections := strings.Split(inner, "|")
		if len(sections) > 3 {
			return dv, fmt.Errorf("entry %q has %d sections, want at most 3", entry, len(sections))
		}

		head := splitCSV(sections[0])
		if len(head) == 0 {
			return dv, fmt.Errorf("entry %q has no kind", entry)
		}
		kind := head[0]
		scale := 1.0
		if len(head) > 1 {
			f, err := strconv.ParseFloat(head[1], 64)
			if err != nil {
				return dv, fmt.Errorf("entry %q: bad scale: %w", entry, err)
			}
			scale = f
		}

		var markers []string
		if len(sections) > 1 {
			markers = splitCSV(sections[1])
		}

		var params []float64
		if len(sections) > 2 {
			for _, p := range splitCSV(sections[2]) {
				f, err := strconv.ParseFloat(p, 64)
				if err != nil {
					return dv, fmt.Errorf("entry %q: bad param %q: %w", entry, p, err)
				}
				params = append(params, f)
			}
		}

		dv.Kind = append(dv.Kind, kind)
		dv.Scale = append(dv.Scale, scale)
		dv.Markers = append(dv.Markers, markers)
		dv.Params = append(dv.Params, params)
	}
	if dv.NDV() == 0 {
		return dv, fmt.Errorf("no design variables defined")
	}
	return dv, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Save writes the configuration back out in KEY= VALUE form, keeping the
// original key order and appending keys set after load.
func Save(path string, cfg *Config) error {
	return os.WriteFile(path, []byte(cfg.Dump()), 0644)
}

// Dump renders the configuration as cfg text.
func (c *Config) Dump() string {
	var b strings.Builder
	seen := make(map[string]bool)
	for _, key := range c.order {
		if seen[key] {
			continue
		}
		seen[key] = true
		fmt.Fprintf(&b, "%s= %s\n", key, c.value(key))
	}
	for _, key := range knownKeys {
		if !seen[key] && c.value(key) != "" {
			seen[key] = true
			fmt.Fprintf(&b, "%s= %s\n", key, c.value(key))
		}
	}
	for key, val := range c.Extra {
		if !seen[key] {
			fmt.Fprintf(&b, "%s= %s\n", key, val)
		}
	}
	return b.String()
}

var knownKeys = []string{
	"MESH_FILENAME", "SOLUTION_FLOW_FILENAME", "SOLUTION_ADJ_FILENAME",
	"RESTART_FLOW_FILENAME", "RESTART_ADJ_FILENAME", "CONV_FILENAME",
	"OBJECTIVE_FUNCTION", "GRADIENT_METHOD", "FIN_DIFF_STEP",
	"NUMBER_PART", "CONSOLE", "SOLVER_COMMAND", "ADJOINT_COMMAND",
	"DEFINITION_DV",
}

func (c *Config) value(key string) string {
	switch key {
	case "MESH_FILENAME":
		return c.MeshFilename
	case "SOLUTION_FLOW_FILENAME":
		return c.SolutionFlowFilename
	case "SOLUTION_ADJ_FILENAME":
		return c.SolutionAdjFilename
	case "RESTART_FLOW_FILENAME":
		return c.RestartFlowFilename
	case "RESTART_ADJ_FILENAME":
		return c.RestartAdjFilename
	case "CONV_FILENAME":
		return c.ConvFilename
	case "OBJECTIVE_FUNCTION":
		return c.ObjectiveFunction
	case "GRADIENT_METHOD":
		return c.GradientMethod
	case "FIN_DIFF_STEP":
		return strconv.FormatFloat(c.FinDiffStep, 'g', -1, 64)
	case "NUMBER_PART":
		return strconv.Itoa(c.NumberPart)
	case "CONSOLE":
		return c.Console
	case "SOLVER_COMMAND":
		return c.SolverCommand
	case "ADJOINT_COMMAND":
		return c.AdjointCommand
	case "DEFINITION_DV":
		return c.DefinitionDV.String()
	default:
		return c.Extra[key]
	}
}

// String renders the definition back into cfg syntax.
func (d DVDefinition) String() string {
	var entries []string
	for i := range d.Kind {
		var parts []string
		parts = append(parts, fmt.Sprintf("%s, %g", d.Kind[i], d.Scale[i]))
		parts = append(parts, strings.Join(d.Markers[i], ", "))
		var ps []string
		for _, p := range d.Params[i] {
			ps = append(ps, strconv.FormatFloat(p, 'g', -1, 64))
		}
		parts = append(parts, strings.Join(ps, ", "))
		entries = append(entries, "( "+strings.Join(parts, " | ")+" )")
	}
	return strings.Join(entries, "; ")
}
