package tui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/felixgeelhaar/warden/internal/workflow"
)

// StepReporter prints one line per settled workflow step. Its Report
// method is meant for workflow.WithStepHook.
type StepReporter struct {
	mu     sync.Mutex
	out    io.Writer
	styles Styles
	total  int
	seen   int
}

// NewStepReporter returns a reporter for a workflow of total steps.
func NewStepReporter(out io.Writer, total int) *StepReporter {
	return &StepReporter{out: out, styles: DefaultStyles(), total: total}
}

// Report writes the outcome of one step.
func (r *StepReporter) Report(o *workflow.StepOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen++

	icon, style := "✓", r.styles.Success
	switch {
	case o.Status == workflow.StepSkipped:
		icon, style = "-", r.styles.Muted
	case o.Status == workflow.StepPlanned:
		icon, style = "·", r.styles.Muted
	case o.AllowedFailure:
		icon, style = "!", r.styles.Warning
	case o.Status == workflow.StepFailed:
		icon, style = "✗", r.styles.Error
	}

	line := fmt.Sprintf("%s [%d/%d] %s", style.Render(icon), r.seen, r.total, o.Name)
	switch {
	case o.Status == workflow.StepSkipped || o.Status == workflow.StepPlanned:
		line += r.styles.Muted.Render(" " + o.Reason)
		if o.Status == workflow.StepPlanned {
			line += "\n    " + r.styles.Command.Render(o.Command)
		}
	case o.Attempts > 1:
		line += r.styles.Muted.Render(fmt.Sprintf(" (%d attempts)", o.Attempts))
	}
	if o.Err != nil && o.Status == workflow.StepFailed {
		line += "\n    " + r.styles.Error.Render(firstLine(o.Err.Error()))
	}
	_, _ = fmt.Fprintln(r.out, line)
}

// Summary writes the terminal state of a run.
func (r *StepReporter) Summary(run *workflow.RunResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	style := r.styles.Success
	if !run.Succeeded() {
		style = r.styles.Error
	}
	_, _ = fmt.Fprintf(r.out, "%s %s %s in %s (%d/%d steps executed)\n",
		r.styles.Title.Render(run.Workflow),
		style.Render(string(run.State)),
		r.styles.Muted.Render(run.ID),
		run.Duration().Round(time.Millisecond),
		run.Executed(), len(run.Steps))
}
