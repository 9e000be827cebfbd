package solver

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// objectiveAliases maps configuration objective names to the column
// headers the solver writes.
var objectiveAliases = map[string]string{
	"DRAG":       "CD",
	"LIFT":       "CL",
	"SIDEFORCE":  "CSF",
	"MOMENT_X":   "CMx",
	"MOMENT_Y":   "CMy",
	"MOMENT_Z":   "CMz",
	"EFFICIENCY": "CEff",
}

// ParseHistory reads a solver history CSV and returns the final value of
// the objective column.
func ParseHistory(path, objective string) (float64, error) {
	rows, err := readCSV(path)
	if err != nil {
		return 0, err
	}
	if len(rows) < 2 {
		return 0, fmt.Errorf("%s: no iteration records", path)
	}

	col := findColumn(rows[0], objective)
	if col < 0 {
		return 0, fmt.Errorf("%s: objective column %q not found", path, objective)
	}

	last := rows[len(rows)-1]
	if col >= len(last) {
		return 0, fmt.Errorf("%s: final record has no column %d", path, col)
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(last[col]), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: bad objective value %q: %w", path, last[col], err)
	}
	return val, nil
}

// ParseGradient reads the adjoint gradient CSV and returns exactly ndv
// sensitivities from its GRADIENT column (the last column when unnamed).
func ParseGradient(path string, ndv int) ([]float64, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s: no gradient records", path)
	}

	col := findColumn(rows[0], "GRADIENT")
	if col < 0 {
		col = len(rows[0]) - 1
	}

	var grad []float64
	for _, row := range rows[1:] {
		if col >= len(row) {
			continue
		}
		val, err := strconv.ParseFloat(strings.TrimSpace(row[col]), 64)
		if err != nil {
			return nil, fmt.Errorf("%s: bad gradient value %q: %w", path, row[col], err)
		}
		grad = append(grad, val)
	}
	if len(grad) != ndv {
		return nil, fmt.Errorf("%s: got %d sensitivities for %d design variables", path, len(grad), ndv)
	}
	return grad, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// findColumn locates a header cell matching name, case-insensitively and
// ignoring surrounding quotes, trying the solver's alias for it as well.
func findColumn(header []string, name string) int {
	want := strings.ToUpper(strings.TrimSpace(name))
	alias := strings.ToUpper(objectiveAliases[want])
	for i, cell := range header {
		got := strings.ToUpper(strings.Trim(strings.TrimSpace(cell), `"`))
		if got == want || (alias != "" && got == alias) {
			return i
		}
	}
	return -1
}
