package tui

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/felixgeelhaar/warden/internal/gate"
)

// confirmKeys defines the keyboard shortcuts of the confirmation prompt
type confirmKeys struct {
	Yes    key.Binding
	No     key.Binding
	Toggle key.Binding
	Submit key.Binding
	Quit   key.Binding
}

var defaultConfirmKeys = confirmKeys{
	Yes: key.NewBinding(
		key.WithKeys("y", "Y"),
		key.WithHelp("y", "run"),
	),
	No: key.NewBinding(
		key.WithKeys("n", "N", "esc"),
		key.WithHelp("n", "cancel"),
	),
	Toggle: key.NewBinding(
		key.WithKeys("left", "right", "tab", "h", "l"),
		key.WithHelp("←/→", "choose"),
	),
	Submit: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "confirm"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c"),
		key.WithHelp("ctrl+c", "abort"),
	),
}

// confirmModel is the BubbleTea model for a single yes/no decision.
// The highlighted choice starts on "no".
type confirmModel struct {
	req     gate.Request
	keys    confirmKeys
	styles  Styles
	yes     bool
	done    bool
	aborted bool
}

func newConfirmModel(req gate.Request) confirmModel {
	return confirmModel{req: req, keys: defaultConfirmKeys, styles: DefaultStyles()}
}

// Init initializes the model
func (m confirmModel) Init() tea.Cmd {
	return nil
}

// Update handles key presses
func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch {
	case key.Matches(km, m.keys.Quit):
		m.yes, m.aborted, m.done = false, true, true
		return m, tea.Quit
	case key.Matches(km, m.keys.Yes):
		m.yes, m.done = true, true
		return m, tea.Quit
	case key.Matches(km, m.keys.No):
		m.yes, m.done = false, true
		return m, tea.Quit
	case key.Matches(km, m.keys.Toggle):
		m.yes = !m.yes
	case key.Matches(km, m.keys.Submit):
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

// View renders the prompt
func (m confirmModel) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder

	spec := m.req.Spec
	b.WriteString(m.styles.Title.Render("Confirm command") + " " + m.styles.TierBadge(spec.Tier))
	b.WriteString("\n\n")
	b.WriteString(m.styles.Border.BorderForeground(TierColor(spec.Tier)).Render(m.styles.Command.Render(spec.Text())))
	b.WriteString("\n")

	if m.req.Reason != "" {
		b.WriteString(m.styles.Muted.Render("Reason: ") + m.req.Reason + "\n")
	}
	if len(m.req.Hosts) > 0 {
		b.WriteString(m.styles.Muted.Render("Hosts:  ") + strings.Join(m.req.Hosts, ", ") + "\n")
	}
	if m.req.Warning != nil {
		b.WriteString(m.styles.Warning.Render("Warning: ") + firstLine(m.req.Warning.Error()) + "\n")
	}
	b.WriteString("\n")

	yes, no := m.styles.Choice, m.styles.Chosen
	if m.yes {
		yes, no = m.styles.Chosen, m.styles.Choice
	}
	b.WriteString(yes.Render("Run") + "  " + no.Render("Cancel"))
	b.WriteString("\n\n")
	b.WriteString(m.help())
	return b.String()
}

func (m confirmModel) help() string {
	bindings := []key.Binding{m.keys.Yes, m.keys.No, m.keys.Toggle, m.keys.Submit}
	parts := make([]string, len(bindings))
	for i, kb := range bindings {
		h := kb.Help()
		parts[i] = m.styles.Key.Render(h.Key) + " " + m.styles.KeyDesc.Render(h.Desc)
	}
	return strings.Join(parts, m.styles.Muted.Render(" • "))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// ErrAborted is returned when the user aborts a prompt with ctrl+c.
var ErrAborted = stderrors.New("prompt aborted")

// Confirmer asks for confirmation on a terminal. It implements gate.Prompter.
type Confirmer struct {
	In  io.Reader
	Out io.Writer
}

// NewConfirmer returns a Confirmer bound to the process's terminal.
func NewConfirmer() *Confirmer {
	return &Confirmer{In: os.Stdin, Out: os.Stderr}
}

// Confirm implements gate.Prompter.
func (c *Confirmer) Confirm(ctx context.Context, req gate.Request) (bool, error) {
	if req.Spec == nil {
		return false, fmt.Errorf("confirm: missing command")
	}
	p := tea.NewProgram(newConfirmModel(req),
		tea.WithContext(ctx),
		tea.WithInput(c.In),
		tea.WithOutput(c.Out),
	)
	final, err := p.Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return false, fmt.Errorf("confirm: %w", err)
	}
	m := final.(confirmModel)
	if m.aborted {
		return false, ErrAborted
	}
	return m.yes, nil
}

var _ gate.Prompter = (*Confirmer)(nil)
