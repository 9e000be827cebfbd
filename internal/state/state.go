// Package state records the solver-produced files present on disk for a
// given configuration: the mesh, prior flow and adjoint solutions, and
// restart files. Discovery is best effort; absent files are simply not
// recorded.
package state

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/tsevine/SU2/internal/config"
)

// Roles under which files are recorded.
const (
	RoleMesh        = "MESH"
	RoleSolution    = "SOLUTION_FLOW"
	RoleAdjoint     = "SOLUTION_ADJ"
	RoleRestart     = "RESTART_FLOW"
	RoleRestartAdj  = "RESTART_ADJ"
	RoleConvHistory = "HISTORY"
)

// State maps file roles to the paths discovered for them.
type State struct {
	Files map[string]string `json:"files"`
}

func New() *State {
	return &State{Files: make(map[string]string)}
}

// FindFiles scans the directory of the configuration file (or the current
// directory for an in-memory config) for the files the configuration
// names, and records those that exist and are readable.
func (s *State) FindFiles(cfg *config.Config) error {
	dir := "."
	if cfg.Path() != "" {
		dir = filepath.Dir(cfg.Path())
	}

	candidates := map[string]string{
		RoleMesh:        cfg.MeshFilename,
		RoleSolution:    cfg.SolutionFlowFilename,
		RoleAdjoint:     cfg.SolutionAdjFilename,
		RoleRestart:     cfg.RestartFlowFilename,
		RoleRestartAdj:  cfg.RestartAdjFilename,
		RoleConvHistory: cfg.ConvFilename,
	}

	for role, name := range candidates {
		if name == "" {
			continue
		}
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, name)
		}
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		f.Close()
		s.Files[role] = path
	}
	return nil
}

// Has reports whether a file was discovered for the given role.
func (s *State) Has(role string) bool {
	_, ok := s.Files[role]
	return ok
}

// Path returns the discovered path for a role, empty if none.
func (s *State) Path(role string) string {
	return s.Files[role]
}

// Roles returns the discovered roles in sorted order.
func (s *State) Roles() []string {
	roles := make([]string, 0, len(s.Files))
	for role := range s.Files {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}
