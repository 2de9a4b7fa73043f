// Package workflow runs declarative, multi-step command sequences with
// per-step conditions, retries and variable substitution.
package workflow

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/warden/internal/errors"
)

// Condition decides whether a step runs, based on the outcome of the
// previous executed step.
type Condition string

const (
	ConditionAlways    Condition = "always"
	ConditionOnSuccess Condition = "on_success"
	ConditionOnFailure Condition = "on_failure"
)

// Valid reports whether c is a known condition. The empty condition is
// valid and behaves like ConditionAlways.
func (c Condition) Valid() bool {
	switch c {
	case "", ConditionAlways, ConditionOnSuccess, ConditionOnFailure:
		return true
	default:
		return false
	}
}

// Met reports whether a step with this condition runs after a step whose
// final outcome was prevSucceeded.
func (c Condition) Met(prevSucceeded bool) bool {
	switch c {
	case ConditionOnSuccess:
		return prevSucceeded
	case ConditionOnFailure:
		return !prevSucceeded
	default:
		return true
	}
}

func (c Condition) String() string {
	if c == "" {
		return string(ConditionAlways)
	}
	return string(c)
}

// Duration is a time.Duration that reads from YAML either as a Go duration
// string ("90s", "5m") or as an integer number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	if value.Tag == "!!int" {
		secs, err := strconv.ParseInt(value.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, value.Value)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Step is one command in a workflow.
type Step struct {
	Name      string    `yaml:"name"`
	Command   string    `yaml:"command"`
	Condition Condition `yaml:"condition,omitempty"`
	// Retry is the number of extra attempts after the first failure.
	Retry int `yaml:"retry,omitempty"`
	// Timeout overrides the classifier-derived timeout when non-zero.
	Timeout         Duration          `yaml:"timeout,omitempty"`
	ContinueOnError bool              `yaml:"continue_on_error,omitempty"`
	Variables       map[string]string `yaml:"variables,omitempty"`
	// Hosts runs the step on remote hosts instead of locally.
	Hosts []string `yaml:"hosts,omitempty"`
	// Register names a variable that receives the step's trimmed stdout.
	Register string `yaml:"register,omitempty"`
}

// Definition is a named, ordered list of steps. It is never modified by a run.
type Definition struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Category    string            `yaml:"category,omitempty"`
	Variables   map[string]string `yaml:"variables,omitempty"`
	// Timeout bounds the whole run when non-zero.
	Timeout Duration `yaml:"timeout,omitempty"`
	Steps   []Step   `yaml:"steps"`
}

// Parse decodes and validates a YAML workflow definition.
func Parse(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, errors.NewWorkflowInvalidError(err.Error())
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadFile reads and validates a workflow definition from path.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Validate checks structural rules: a name, at least one step, unique
// non-empty step names, known conditions and non-negative retries.
func (d *Definition) Validate() error {
	var problems []string

	if strings.TrimSpace(d.Name) == "" {
		problems = append(problems, "name is required")
	}
	if d.Timeout < 0 {
		problems = append(problems, "timeout must not be negative")
	}
	if len(d.Steps) == 0 {
		problems = append(problems, "at least one step is required")
	}

	seen := make(map[string]bool, len(d.Steps))
	for i, s := range d.Steps {
		label := fmt.Sprintf("step %d", i+1)
		if s.Name != "" {
			label = fmt.Sprintf("step %q", s.Name)
		}

		switch {
		case strings.TrimSpace(s.Name) == "":
			problems = append(problems, label+": name is required")
		case seen[s.Name]:
			problems = append(problems, label+": duplicate name")
		}
		seen[s.Name] = true

		if strings.TrimSpace(s.Command) == "" {
			problems = append(problems, label+": command is required")
		}
		if !s.Condition.Valid() {
			problems = append(problems, fmt.Sprintf("%s: unknown condition %q", label, s.Condition))
		}
		if s.Retry < 0 {
			problems = append(problems, label+": retry must not be negative")
		}
		if s.Timeout < 0 {
			problems = append(problems, label+": timeout must not be negative")
		}
		if s.Register != "" && !validName(s.Register) {
			problems = append(problems, fmt.Sprintf("%s: invalid register name %q", label, s.Register))
		}
	}

	if len(problems) > 0 {
		return errors.NewWorkflowInvalidError(strings.Join(problems, "; "))
	}
	return nil
}

// Placeholders returns the distinct variable names referenced by any step,
// in order of first appearance.
func (d *Definition) Placeholders() []string {
	var names []string
	seen := make(map[string]bool)
	for _, s := range d.Steps {
		for _, name := range Placeholders(s.Command) {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// Unbound returns the placeholders no source can provide before the run
// starts: not in overrides, the step's or the workflow's variables, an
// earlier step's register, or the run's own last_* variables.
func (d *Definition) Unbound(overrides map[string]string) []string {
	var names []string
	seen := make(map[string]bool)
	registered := make(map[string]bool)
	for _, s := range d.Steps {
		for _, name := range Placeholders(s.Command) {
			if seen[name] || registered[name] || name == VarLastExitCode || name == VarLastStep {
				continue
			}
			if _, ok := overrides[name]; ok {
				continue
			}
			if _, ok := s.Variables[name]; ok {
				continue
			}
			if _, ok := d.Variables[name]; ok {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
		if s.Register != "" {
			registered[s.Register] = true
		}
	}
	return names
}
