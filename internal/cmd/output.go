package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"mvdan.cc/sh/v3/syntax"

	"github.com/felixgeelhaar/warden/internal/command"
	"github.com/felixgeelhaar/warden/internal/remote"
	"github.com/felixgeelhaar/warden/internal/tui"
)

var styles = tui.DefaultStyles()

// commandLine turns positional args back into one command line. A single
// arg is taken as written, so it may carry pipes and other operators. Several
// args are re-quoted so each stays one word, as the invoking shell split them.
func commandLine(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	words := make([]string, len(args))
	for i, arg := range args {
		q, err := syntax.Quote(arg, syntax.LangBash)
		if err != nil {
			q = arg
		}
		words[i] = q
	}
	return strings.Join(words, " ")
}

// newHostWriters tags remote output with a styled host label.
func newHostWriters(stdout, stderr io.Writer) *remote.HostWriters {
	return remote.NewHostWriters(stdout, stderr, hostTag)
}

func hostTag(host string) string {
	return lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Render("["+host+"]") + " "
}

// printHostSummary writes one status line per host in target order.
func printHostSummary(out io.Writer, agg *remote.Aggregate) {
	for _, res := range agg.Results {
		_, _ = fmt.Fprintln(out, hostStatus(res))
	}
	style := styles.Success
	switch agg.Summary {
	case remote.SummaryPartialFailure:
		style = styles.Warning
	case remote.SummaryAllFailed:
		style = styles.Error
	}
	_, _ = fmt.Fprintf(out, "%s %d/%d hosts succeeded\n",
		style.Render(string(agg.Summary)), len(agg.Results)-len(agg.Failed()), len(agg.Results))
}

func hostStatus(res *command.Result) string {
	if res.Success {
		return fmt.Sprintf("%s %s %s", styles.Success.Render("✓"), res.Host,
			styles.Muted.Render(res.Duration().Round(time.Millisecond).String()))
	}
	detail := "failed"
	if res.Err != nil {
		detail = firstLine(res.Err.Error())
	}
	return fmt.Sprintf("%s %s %s", styles.Error.Render("✗"), res.Host, detail)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
