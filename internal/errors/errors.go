package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error codes
const (
	// Command preparation errors
	ErrCodeValidation ErrorCode = "VALIDATION-001"
	ErrCodeCapability ErrorCode = "CAPABILITY-001"

	// Confirmation gate errors
	ErrCodeRejected ErrorCode = "GATE-001"

	// Execution errors
	ErrCodeExecFailed    ErrorCode = "EXEC-001"
	ErrCodeExecCancelled ErrorCode = "EXEC-002"
	ErrCodeTimeout       ErrorCode = "TIMEOUT-001"

	// Remote errors
	ErrCodeConnection  ErrorCode = "CONNECTION-001"
	ErrCodeUnknownHost ErrorCode = "CONNECTION-002"

	// Workflow errors
	ErrCodeUnboundVariable ErrorCode = "WORKFLOW-001"
	ErrCodeWorkflowInvalid ErrorCode = "WORKFLOW-002"
	ErrCodeWorkflowFailed  ErrorCode = "WORKFLOW-003"

	// Configuration errors
	ErrCodeConfigInvalid ErrorCode = "CONFIG-001"
)

// Kind groups error codes into the categories callers branch on.
type Kind string

const (
	KindUnknown         Kind = "unknown"
	KindValidation      Kind = "validation"
	KindCapability      Kind = "capability"
	KindConnection      Kind = "connection"
	KindTimeout         Kind = "timeout"
	KindExecution       Kind = "execution"
	KindUnboundVariable Kind = "unbound_variable"
	KindRejected        Kind = "rejected"
	KindCancelled       Kind = "cancelled"
	KindWorkflow        Kind = "workflow"
	KindConfig          Kind = "config"
)

// Retryable reports whether a step may be re-attempted after an error of this kind.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindExecution, KindConnection:
		return true
	default:
		return false
	}
}

// WardenError is a coded error carrying the identity of the command, step or
// host it originated from.
type WardenError struct {
	Kind        Kind
	Code        ErrorCode
	Message     string
	Command     string
	Step        string
	Host        string
	ExitCode    int
	StderrTail  string
	Suggestions []string
	Cause       error
}

// Error implements the error interface
func (e *WardenError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	var where []string
	if e.Step != "" {
		where = append(where, fmt.Sprintf("step %q", e.Step))
	}
	if e.Host != "" {
		where = append(where, fmt.Sprintf("host %q", e.Host))
	}
	if len(where) > 0 {
		b.WriteString(" (" + strings.Join(where, ", ") + ")")
	}

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if e.StderrTail != "" {
		b.WriteString("\n\nstderr:\n")
		b.WriteString(strings.TrimRight(e.StderrTail, "\n"))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *WardenError) Unwrap() error {
	return e.Cause
}

// Is matches another WardenError by code, so sentinel comparisons work
// regardless of identity fields.
func (e *WardenError) Is(target error) bool {
	t, ok := target.(*WardenError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates a new WardenError
func New(kind Kind, code ErrorCode, message string) *WardenError {
	return &WardenError{
		Kind:    kind,
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new WardenError wrapping an existing error
func Wrap(kind Kind, code ErrorCode, message string, cause error) *WardenError {
	return &WardenError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithCommand records the command text the error originated from
func (e *WardenError) WithCommand(command string) *WardenError {
	e.Command = command
	return e
}

// WithStep records the workflow step the error originated from
func (e *WardenError) WithStep(step string) *WardenError {
	e.Step = step
	return e
}

// WithHost records the host the error originated from
func (e *WardenError) WithHost(host string) *WardenError {
	e.Host = host
	return e
}

// WithSuggestion adds a suggestion to the error
func (e *WardenError) WithSuggestion(suggestion string) *WardenError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// Retryable reports whether the error permits another attempt
func (e *WardenError) Retryable() bool {
	return e.Kind.Retryable()
}

// As finds the first WardenError in err's chain.
func As(err error) (*WardenError, bool) {
	var we *WardenError
	if stderrors.As(err, &we) {
		return we, true
	}
	return nil, false
}

// KindOf returns the kind of the first WardenError in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if we, ok := As(err); ok {
		return we.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether err permits another attempt of the same step.
// Errors that are not WardenErrors are treated as terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	we, ok := As(err)
	return ok && we.Retryable()
}

// NewValidationError reports the first unmatched token found in a command
func NewValidationError(command, token string, offset int) *WardenError {
	msg := fmt.Sprintf("unmatched %s at offset %d", token, offset)
	if token == "" {
		msg = "empty command"
	}
	return New(KindValidation, ErrCodeValidation, msg).
		WithCommand(command).
		WithSuggestion("Check quoting and bracket balance before running the command")
}

// NewCapabilityError reports an interactive command with no interactive frontend
func NewCapabilityError(command string) *WardenError {
	return New(KindCapability, ErrCodeCapability, "interactive command requires a terminal frontend").
		WithCommand(command).
		WithSuggestion("Run the command from an interactive terminal").
		WithSuggestion("Use a non-interactive equivalent (for example 'cat' instead of 'less')")
}

// NewRejectedError reports a command declined by the user or by policy
func NewRejectedError(command, reason string) *WardenError {
	msg := "execution rejected"
	if reason != "" {
		msg += ": " + reason
	}
	return New(KindRejected, ErrCodeRejected, msg).WithCommand(command)
}

// NewTimeoutError reports a command that exceeded its allotted duration
func NewTimeoutError(command string, timeout time.Duration) *WardenError {
	return New(KindTimeout, ErrCodeTimeout, fmt.Sprintf("command exceeded timeout of %s", timeout)).
		WithCommand(command).
		WithSuggestion("Increase the timeout or split the command into smaller steps")
}

// NewExecutionError reports a non-zero exit, carrying the captured stderr tail
func NewExecutionError(command string, exitCode int, stderrTail string) *WardenError {
	e := New(KindExecution, ErrCodeExecFailed, fmt.Sprintf("command exited with status %d", exitCode)).
		WithCommand(command)
	e.ExitCode = exitCode
	e.StderrTail = stderrTail
	return e
}

// NewSpawnError reports a process that could not be started
func NewSpawnError(command string, cause error) *WardenError {
	e := Wrap(KindExecution, ErrCodeExecFailed, "failed to start command", cause).WithCommand(command)
	e.ExitCode = 127
	return e
}

// NewCancelledError reports an execution terminated by an external cancel
func NewCancelledError(command string) *WardenError {
	return New(KindCancelled, ErrCodeExecCancelled, "execution cancelled").WithCommand(command)
}

// NewConnectionError reports a transport or authentication failure for a host
func NewConnectionError(host string, cause error) *WardenError {
	return Wrap(KindConnection, ErrCodeConnection, "unable to connect", cause).
		WithHost(host).
		WithSuggestion("Verify the host address, port and credentials in the host registry")
}

// NewUnknownHostError reports a host name missing from the registry
func NewUnknownHostError(host string) *WardenError {
	return New(KindConnection, ErrCodeUnknownHost, "host not found in registry").
		WithHost(host).
		WithSuggestion("Run 'warden remote hosts' to list configured hosts")
}

// NewUnboundVariableError reports a workflow placeholder with no value
func NewUnboundVariableError(step, name string) *WardenError {
	return New(KindUnboundVariable, ErrCodeUnboundVariable, fmt.Sprintf("variable %q has no value", name)).
		WithStep(step).
		WithSuggestion(fmt.Sprintf("Pass --var %s=<value> or declare a default in the workflow", name))
}

// NewWorkflowInvalidError reports a malformed workflow definition
func NewWorkflowInvalidError(details string) *WardenError {
	return New(KindWorkflow, ErrCodeWorkflowInvalid, fmt.Sprintf("invalid workflow: %s", details)).
		WithSuggestion("Run 'warden workflow validate <file>' to check the definition")
}

// NewWorkflowFailedError reports a workflow that reached its Failed state
func NewWorkflowFailedError(workflow, step string, cause error) *WardenError {
	return Wrap(KindWorkflow, ErrCodeWorkflowFailed, fmt.Sprintf("workflow %q failed", workflow), cause).
		WithStep(step)
}

// NewConfigInvalidError reports an unusable configuration file
func NewConfigInvalidError(path string, cause error) *WardenError {
	return Wrap(KindConfig, ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", path), cause).
		WithSuggestion("Check the file against the documented configuration keys")
}
