package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tsevine/SU2/internal/config"
)

func TestFindFiles(t *testing.T) {
	dir := t.TempDir()

	cfgText := "MESH_FILENAME= mesh.su2\n" +
		"SOLUTION_FLOW_FILENAME= solution_flow.dat\n" +
		"RESTART_FLOW_FILENAME= restart_flow.dat\n" +
		"DEFINITION_DV= ( HICKS_HENNE, 0.001 | airfoil | 0, 0.5 )\n"
	cfgPath := filepath.Join(dir, "case.cfg")
	if err := os.WriteFile(cfgPath, []byte(cfgText), 0644); err != nil {
		t.Fatalf("write cfg: %v", err)
	}

	// Only the mesh and solution exist on disk.
	for _, name := range []string{"mesh.su2", "solution_flow.dat"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("data"), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("load cfg: %v", err)
	}

	st := New()
	if err := st.FindFiles(cfg); err != nil {
		t.Fatalf("find files: %v", err)
	}

	if !st.Has(RoleMesh) {
		t.Error("mesh not discovered")
	}
	if !st.Has(RoleSolution) {
		t.Error("solution not discovered")
	}
	if st.Has(RoleRestart) {
		t.Error("missing restart file should not be recorded")
	}
	if got := st.Path(RoleMesh); got != filepath.Join(dir, "mesh.su2") {
		t.Errorf("mesh path: got %q", got)
	}
}

func TestFindFilesEmptyConfig(t *testing.T) {
	st := New()
	if err := st.FindFiles(config.Default()); err != nil {
		t.Fatalf("find files: %v", err)
	}
	if len(st.Files) != 0 {
		t.Errorf("expected no discoveries, got %v", st.Files)
	}
}

func TestRolesSorted(t *testing.T) {
	st := New()
	st.Files[RoleSolution] = "b"
	st.Files[RoleMesh] = "a"

	roles := st.Roles()
	if len(roles) != 2 || roles[0] != RoleMesh {
		t.Errorf("roles not sorted: %v", roles)
	}
}
