package exitcode

import (
	"os"
	"strings"

	"github.com/felixgeelhaar/warden/internal/errors"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates successful execution
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid usage: bad flags, malformed commands,
	// invalid workflows or configuration
	UsageError = 2

	// Rejected indicates the command was declined at confirmation
	Rejected = 3

	// CapabilityError indicates an interactive command without a terminal
	CapabilityError = 4

	// WorkflowFailed indicates a workflow reached its failed state
	WorkflowFailed = 5

	// NetworkError indicates a remote host could not be reached
	NetworkError = 6

	// Timeout matches the convention of timeout(1)
	Timeout = 124

	// CommandNotFound indicates the command could not be started
	CommandNotFound = 127

	// Interrupted indicates cancellation by SIGINT
	Interrupted = 130
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	if err == nil {
		Exit(Success)
		return
	}

	code := DetermineExitCode(err)
	Exit(code)
}

// DetermineExitCode maps an error to the process exit code. A failed
// command's own exit status is passed through so warden is transparent in
// scripts.
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	if we, ok := errors.As(err); ok {
		switch we.Kind {
		case errors.KindValidation, errors.KindUnboundVariable, errors.KindConfig:
			return UsageError
		case errors.KindRejected:
			return Rejected
		case errors.KindCapability:
			return CapabilityError
		case errors.KindConnection:
			return NetworkError
		case errors.KindTimeout:
			return Timeout
		case errors.KindCancelled:
			return Interrupted
		case errors.KindExecution:
			if we.ExitCode > 0 && we.ExitCode < 256 {
				return we.ExitCode
			}
			return GeneralError
		case errors.KindWorkflow:
			if we.Code == errors.ErrCodeWorkflowInvalid {
				return UsageError
			}
			return WorkflowFailed
		}
	}

	errMsg := strings.ToLower(err.Error())

	// Usage errors reported by cobra
	if strings.Contains(errMsg, "unknown flag") || strings.Contains(errMsg, "unknown command") {
		return UsageError
	}
	if strings.Contains(errMsg, "required flag") || strings.Contains(errMsg, "accepts") && strings.Contains(errMsg, "arg(s)") {
		return UsageError
	}
	if strings.Contains(errMsg, "invalid argument") {
		return UsageError
	}

	// Default to general error
	return GeneralError
}

// GetExitCodeDescription returns a human-readable description of an exit code
func GetExitCodeDescription(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case UsageError:
		return "Usage error (invalid flags, arguments, command syntax or configuration)"
	case Rejected:
		return "Command rejected at confirmation"
	case CapabilityError:
		return "Interactive command requires a terminal"
	case WorkflowFailed:
		return "Workflow failed"
	case NetworkError:
		return "Remote host unreachable"
	case Timeout:
		return "Command timed out"
	case CommandNotFound:
		return "Command could not be started"
	case Interrupted:
		return "Interrupted"
	default:
		return "Command exited with this status"
	}
}
