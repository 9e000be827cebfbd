package opt

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Settings carries externally supplied optimizer parameters: an iteration
// cap override and per-variable design bounds.
type Settings struct {
	MaxIterations int     `yaml:"max_iterations"`
	Bounds        []Bound `yaml:"bounds"`
}

// LoadSettings reads optimizer settings from a yaml file.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.MaxIterations < 0 {
		return nil, fmt.Errorf("%s: max_iterations must be non-negative", path)
	}
	for i, b := range s.Bounds {
		if b.Lower > b.Upper {
			return nil, fmt.Errorf("%s: bound %d has lower %g above upper %g", path, i, b.Lower, b.Upper)
		}
	}
	return &s, nil
}
