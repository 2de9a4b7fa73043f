package workflow

import (
	"embed"
	"fmt"
	"path"
	"sort"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Builtins returns the workflows shipped with warden, sorted by name.
func Builtins() ([]*Definition, error) {
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil, fmt.Errorf("failed to read builtin workflows: %w", err)
	}

	defs := make([]*Definition, 0, len(entries))
	for _, entry := range entries {
		data, err := builtinFS.ReadFile(path.Join("builtin", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		def, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("builtin %s: %w", entry.Name(), err)
		}
		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// Builtin returns the shipped workflow with the given name.
func Builtin(name string) (*Definition, bool) {
	defs, err := Builtins()
	if err != nil {
		return nil, false
	}
	for _, d := range defs {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}
