// Package tasksource loads the ordered task list a buffet is created from.
//
// A task file is YAML (or JSON, which YAML accepts) and declares either an
// explicit list:
//
//	tasks:
//	  - id: resize-small
//	    command: ./resize.sh 64
//	  - command: ./resize.sh 128   # id defaults to task-2
//
// or a parameter grid expanded into one task per combination:
//
//	grid:
//	  command: ./train.sh
//	  mesh: true
//	  params:
//	    - name: lr
//	      values: [0.1, 0.01]
//	    - name: depth
//	      values: [2, 4, 8]
//
// With mesh the Cartesian product is built with the first parameter varying
// fastest. Without mesh every value list must have the same length and task
// i takes the i-th value of each.
package tasksource

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/taskbuffet/buffet/internal/buffet"
	"github.com/taskbuffet/buffet/internal/errors"
)

// File is the decoded form of a task file.
type File struct {
	Tasks []TaskEntry `yaml:"tasks"`
	Grid  *Grid       `yaml:"grid"`
}

// TaskEntry is one explicit task.
type TaskEntry struct {
	ID      string         `yaml:"id"`
	Command string         `yaml:"command"`
	Params  map[string]any `yaml:"params"`
}

// Grid describes a parameter sweep.
type Grid struct {
	Command string      `yaml:"command"`
	Mesh    bool        `yaml:"mesh"`
	Params  []GridParam `yaml:"params"`
}

// GridParam is one axis of a grid.
type GridParam struct {
	Name   string `yaml:"name"`
	Values []any  `yaml:"values"`
}

// FromFile returns a seed that reads path each time it is called.
func FromFile(path string) buffet.Seed {
	return func() ([]buffet.Spec, error) {
		return Load(path)
	}
}

// Load reads and expands the task file at path.
func Load(path string) ([]buffet.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	specs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return specs, nil
}

// Parse decodes task file content and expands it into specs.
func Parse(data []byte) ([]buffet.Spec, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse task file: %v", errors.ErrInvalidInput, err)
	}
	return f.Specs()
}

// Specs expands the file into an ordered task list.
func (f *File) Specs() ([]buffet.Spec, error) {
	var specs []buffet.Spec
	switch {
	case f.Grid != nil && len(f.Tasks) > 0:
		return nil, fmt.Errorf("%w: task file declares both tasks and grid", errors.ErrInvalidInput)
	case f.Grid != nil:
		var err error
		if specs, err = f.Grid.Specs(); err != nil {
			return nil, err
		}
	default:
		specs = make([]buffet.Spec, 0, len(f.Tasks))
		for i, e := range f.Tasks {
			params, err := stringParams(e.Params)
			if err != nil {
				return nil, fmt.Errorf("%w: task %d: %v", errors.ErrInvalidInput, i+1, err)
			}
			id := e.ID
			if id == "" {
				id = fmt.Sprintf("task-%d", i+1)
			}
			specs = append(specs, buffet.Spec{
				ID:      id,
				Payload: buffet.Payload{Command: e.Command, Params: params},
			})
		}
	}

	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if seen[s.ID] {
			return nil, fmt.Errorf("%w: duplicate task id %q", errors.ErrInvalidInput, s.ID)
		}
		seen[s.ID] = true
	}
	return specs, nil
}

// Specs expands the grid into one spec per parameter combination.
func (g *Grid) Specs() ([]buffet.Spec, error) {
	if len(g.Params) == 0 {
		return nil, fmt.Errorf("%w: grid has no params", errors.ErrInvalidInput)
	}

	axes := make([][]string, len(g.Params))
	for i, p := range g.Params {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: grid param %d has no name", errors.ErrInvalidInput, i+1)
		}
		if len(p.Values) == 0 {
			return nil, fmt.Errorf("%w: grid param %s has no values", errors.ErrInvalidInput, p.Name)
		}
		axes[i] = make([]string, len(p.Values))
		for j, v := range p.Values {
			s, err := cast.ToStringE(v)
			if err != nil {
				return nil, fmt.Errorf("%w: grid param %s value %d: %v", errors.ErrInvalidInput, p.Name, j+1, err)
			}
			axes[i][j] = s
		}
	}

	var combos [][]string
	if g.Mesh {
		combos = mesh(axes)
	} else {
		n := len(axes[0])
		for i, a := range axes {
			if len(a) != n {
				return nil, fmt.Errorf("%w: grid param %s has %d values, want %d (set mesh for a product)",
					errors.ErrInvalidInput, g.Params[i].Name, len(a), n)
			}
		}
		combos = make([][]string, n)
		for row := range combos {
			combos[row] = make([]string, len(axes))
			for col := range axes {
				combos[row][col] = axes[col][row]
			}
		}
	}

	specs := make([]buffet.Spec, len(combos))
	for i, combo := range combos {
		params := make(map[string]string, len(combo))
		idParts := make([]string, len(combo))
		for j, v := range combo {
			params[g.Params[j].Name] = v
			idParts[j] = g.Params[j].Name + "=" + v
		}
		specs[i] = buffet.Spec{
			ID:      strings.Join(idParts, ","),
			Payload: buffet.Payload{Command: g.Command, Params: params},
		}
	}
	return specs, nil
}

// mesh returns the Cartesian product of axes with the first axis varying
// fastest.
func mesh(axes [][]string) [][]string {
	total := 1
	for _, a := range axes {
		total *= len(a)
	}

	combos := make([][]string, total)
	for i := range combos {
		combo := make([]string, len(axes))
		rest := i
		for j, a := range axes {
			combo[j] = a[rest%len(a)]
			rest /= len(a)
		}
		combos[i] = combo
	}
	return combos
}

func stringParams(in map[string]any) (map[string]string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", k, err)
		}
		out[k] = s
	}
	return out, nil
}
