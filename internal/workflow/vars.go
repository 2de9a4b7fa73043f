package workflow

import (
	"regexp"
	"strconv"

	"github.com/felixgeelhaar/warden/internal/errors"
)

// Variables the engine sets on the run context after each executed step.
const (
	VarLastExitCode = "last_exit_code"
	VarLastStep     = "last_step"
)

var (
	placeholderRe = regexp.MustCompile(`\$?\$\{([A-Za-z_][A-Za-z0-9_.-]*)\}`)
	nameRe        = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)
)

func validName(s string) bool { return nameRe.MatchString(s) }

// RunContext is the variable scope of a single workflow run. It is seeded
// from caller overrides and discarded when the run ends.
type RunContext struct {
	vars map[string]string
}

// NewRunContext returns a context holding a copy of overrides.
func NewRunContext(overrides map[string]string) *RunContext {
	vars := make(map[string]string, len(overrides)+2)
	for k, v := range overrides {
		vars[k] = v
	}
	return &RunContext{vars: vars}
}

// Get returns the value of name.
func (c *RunContext) Get(name string) (string, bool) {
	v, ok := c.vars[name]
	return v, ok
}

// Set assigns name.
func (c *RunContext) Set(name, value string) {
	c.vars[name] = value
}

// SetExitCode records the exit code of the last executed step.
func (c *RunContext) SetExitCode(code int) {
	c.vars[VarLastExitCode] = strconv.Itoa(code)
}

// Snapshot returns a copy of all variables.
func (c *RunContext) Snapshot() map[string]string {
	out := make(map[string]string, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

// Resolve substitutes every ${name} in template. Names are looked up in the
// run context, then the step's variables, then the workflow's variables.
// "$${name}" is an escape that yields the literal "${name}".
func (c *RunContext) Resolve(template, step string, stepVars, workflowVars map[string]string) (string, error) {
	return Substitute(template, func(name string) (string, bool) {
		if v, ok := c.Get(name); ok {
			return v, true
		}
		if v, ok := stepVars[name]; ok {
			return v, true
		}
		v, ok := workflowVars[name]
		return v, ok
	}, step)
}

// Substitute replaces ${name} placeholders using lookup. The first name with
// no value fails the whole substitution with an UnboundVariableError.
func Substitute(template string, lookup func(string) (string, bool), step string) (string, error) {
	var missing string
	out := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		if m[1] == '$' {
			return m[1:]
		}
		name := m[2 : len(m)-1]
		if v, ok := lookup(name); ok {
			return v
		}
		if missing == "" {
			missing = name
		}
		return m
	})
	if missing != "" {
		return "", errors.NewUnboundVariableError(step, missing)
	}
	return out, nil
}

// Placeholders returns the variable names referenced by template, excluding
// escaped ones.
func Placeholders(template string) []string {
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(template, -1) {
		if m[0][1] == '$' {
			continue
		}
		names = append(names, m[1])
	}
	return names
}
