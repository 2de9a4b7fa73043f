package exitcode

import (
	"errors"
	"fmt"
	"testing"
	"time"

	werrors "github.com/felixgeelhaar/warden/internal/errors"
)

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		expected int
	}{
		{"Success", Success, 0},
		{"GeneralError", GeneralError, 1},
		{"UsageError", UsageError, 2},
		{"Rejected", Rejected, 3},
		{"CapabilityError", CapabilityError, 4},
		{"WorkflowFailed", WorkflowFailed, 5},
		{"NetworkError", NetworkError, 6},
		{"Timeout", Timeout, 124},
		{"CommandNotFound", CommandNotFound, 127},
		{"Interrupted", Interrupted, 130},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code != tt.expected {
				t.Errorf("Exit code %s = %d, want %d", tt.name, tt.code, tt.expected)
			}
		})
	}
}

func TestDetermineExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error returns success", nil, Success},
		{"validation", werrors.NewValidationError("echo '", "'", 5), UsageError},
		{"unbound variable", werrors.NewUnboundVariableError("s", "v"), UsageError},
		{"config", werrors.NewConfigInvalidError("/x", errors.New("bad")), UsageError},
		{"invalid workflow", werrors.NewWorkflowInvalidError("no steps"), UsageError},
		{"rejected", werrors.NewRejectedError("rm -rf /", "declined"), Rejected},
		{"capability", werrors.NewCapabilityError("vim"), CapabilityError},
		{"workflow failed", werrors.NewWorkflowFailedError("wf", "s", errors.New("x")), WorkflowFailed},
		{"connection", werrors.NewConnectionError("h", errors.New("refused")), NetworkError},
		{"timeout", werrors.NewTimeoutError("sleep 9", time.Second), Timeout},
		{"cancelled", werrors.NewCancelledError("sleep 9"), Interrupted},
		{"execution passes exit status", werrors.NewExecutionError("grep x", 2, ""), 2},
		{"spawn failure", werrors.NewSpawnError("nope", errors.New("not found")), CommandNotFound},
		{"signal exit", werrors.NewExecutionError("x", 137, ""), 137},
		{"out of range exit", werrors.NewExecutionError("x", -1, ""), GeneralError},
		{"wrapped", fmt.Errorf("run: %w", werrors.NewTimeoutError("x", time.Second)), Timeout},
		{"cobra unknown flag", errors.New("unknown flag: --foo"), UsageError},
		{"cobra args", errors.New("accepts 1 arg(s), received 0"), UsageError},
		{"generic error", errors.New("something went wrong"), GeneralError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetermineExitCode(tt.err)
			if got != tt.expected {
				t.Errorf("DetermineExitCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestGetExitCodeDescription(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{Success, "Success"},
		{GeneralError, "General error"},
		{Rejected, "Command rejected at confirmation"},
		{Timeout, "Command timed out"},
		{42, "Command exited with this status"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := GetExitCodeDescription(tt.code); got != tt.expected {
				t.Errorf("GetExitCodeDescription(%d) = %q, want %q", tt.code, got, tt.expected)
			}
		})
	}
}
