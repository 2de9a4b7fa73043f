package safety

import (
	"path"
	"sort"
	"strings"
)

// Sanitized is the output of the sanitizer.
type Sanitized struct {
	Text string
	// Env holds KEY=VALUE overrides to export for the command.
	Env []string
	// Applied names the rewrite rules that changed the text.
	Applied []string
}

// rewrite edits one simple command. It returns true when it changed
// something. Every rewrite must leave its own output unchanged when applied
// again.
type rewrite struct {
	name  string
	apply func(cmd *shellCommand) bool
}

// envRule exports overrides for commands whose name matches.
type envRule struct {
	names []string
	env   string
}

// Sanitizer rewrites commands so that they run without prompting. It only
// adds assume-yes flags and normalises tool names; it never edits the
// arguments that name what the command acts on.
type Sanitizer struct {
	rewrites []rewrite
	env      []envRule
}

// NewSanitizer returns a sanitizer with the built-in rewrite rules.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		rewrites: []rewrite{
			{name: "apt-to-apt-get", apply: aptToAptGet},
			{name: "apt-assume-yes", apply: assumeYes([]string{"apt", "apt-get"},
				[]string{"install", "upgrade", "dist-upgrade", "full-upgrade", "remove", "purge", "autoremove"},
				"-y", "-y", "--yes", "--assume-yes", "-qq")},
			{name: "yum-assume-yes", apply: assumeYes([]string{"yum", "dnf"},
				[]string{"install", "update", "upgrade", "remove", "erase"},
				"-y", "-y", "--assumeyes")},
			{name: "pip-uninstall-yes", apply: assumeYes([]string{"pip", "pip3"},
				[]string{"uninstall"},
				"-y", "-y", "--yes")},
			{name: "npm-init-yes", apply: assumeYes([]string{"npm", "yarn"},
				[]string{"init"},
				"-y", "-y", "--yes")},
			{name: "pacman-noconfirm", apply: pacmanNoConfirm},
		},
		env: []envRule{
			{names: []string{"apt", "apt-get", "dpkg"}, env: "DEBIAN_FRONTEND=noninteractive"},
			{names: []string{"git"}, env: "GIT_TERMINAL_PROMPT=0"},
		},
	}
}

// Sanitize applies the rewrite rules to each simple command. Edits are
// spliced into the original text, so whitespace, comments and heredoc bodies
// come through byte for byte. Sanitize(Sanitize(x).Text) returns the same
// text.
func (s *Sanitizer) Sanitize(text string) Sanitized {
	var (
		out     Sanitized
		edits   []edit
		applied = make(map[string]bool)
		names   = make(map[string]bool)
	)

	for _, sc := range parseScript(text).commands {
		if sc.name < 0 {
			continue
		}
		cmd := &shellCommand{words: sc.words, spans: sc.spans, name: sc.name}
		for _, rw := range s.rewrites {
			if rw.apply(cmd) {
				applied[rw.name] = true
			}
		}
		edits = append(edits, cmd.edits...)
		names[cmd.commandName()] = true
	}

	out.Text = splice(text, edits)

	for _, rw := range s.rewrites {
		if applied[rw.name] {
			out.Applied = append(out.Applied, rw.name)
		}
	}
	for _, er := range s.env {
		for _, n := range er.names {
			if names[n] {
				out.Env = append(out.Env, er.env)
				break
			}
		}
	}
	return out
}

// edit replaces the source bytes in [start, end) with text.
type edit struct {
	start, end int
	text       string
}

// splice applies edits, which must not overlap, to text.
func splice(text string, edits []edit) string {
	if len(edits) == 0 {
		return text
	}
	sort.SliceStable(edits, func(i, j int) bool { return edits[i].start < edits[j].start })

	var b strings.Builder
	pos := 0
	for _, e := range edits {
		b.WriteString(text[pos:e.start])
		b.WriteString(e.text)
		pos = e.end
	}
	b.WriteString(text[pos:])
	return b.String()
}

// shellCommand is a simple command being rewritten. words reflects the edits made
// so far; inserted words have an empty span at their insertion point.
type shellCommand struct {
	words []string
	spans []span
	name  int
	edits []edit
}

func (c *shellCommand) commandName() string {
	return strings.ToLower(path.Base(c.words[c.name]))
}

// subcommand returns the index of the first non-flag word after the command word.
func (c *shellCommand) subcommand() int {
	for i := c.name + 1; i < len(c.words); i++ {
		if !strings.HasPrefix(c.words[i], "-") {
			return i
		}
	}
	return -1
}

func (c *shellCommand) has(candidates ...string) bool {
	for _, w := range c.words[c.name+1:] {
		for _, cand := range candidates {
			if w == cand {
				return true
			}
		}
	}
	return false
}

func (c *shellCommand) replace(i int, word string) {
	c.words[i] = word
	c.edits = append(c.edits, edit{start: c.spans[i].start, end: c.spans[i].end, text: word})
}

func (c *shellCommand) insertAfter(i int, word string) {
	at := c.spans[i].end
	c.edits = append(c.edits, edit{start: at, end: at, text: " " + word})

	c.words = append(c.words[:i+1], append([]string{word}, c.words[i+1:]...)...)
	c.spans = append(c.spans[:i+1], append([]span{{at, at}}, c.spans[i+1:]...)...)
}

var aptGetSubcommands = map[string]bool{
	"install": true, "remove": true, "purge": true, "update": true, "upgrade": true,
	"dist-upgrade": true, "autoremove": true, "clean": true, "autoclean": true,
}

func aptToAptGet(c *shellCommand) bool {
	if c.words[c.name] != "apt" {
		return false
	}
	sub := c.subcommand()
	if sub < 0 || !aptGetSubcommands[c.words[sub]] {
		return false
	}
	c.replace(c.name, "apt-get")
	return true
}

// assumeYes inserts flag after the subcommand of the named tools unless one
// of present is already given.
func assumeYes(tools, subs []string, flag string, present ...string) func(*shellCommand) bool {
	toolSet := make(map[string]bool, len(tools))
	for _, t := range tools {
		toolSet[t] = true
	}
	subSet := make(map[string]bool, len(subs))
	for _, s := range subs {
		subSet[s] = true
	}
	return func(c *shellCommand) bool {
		if !toolSet[c.commandName()] {
			return false
		}
		sub := c.subcommand()
		if sub < 0 || !subSet[c.words[sub]] {
			return false
		}
		if c.has(present...) {
			return false
		}
		c.insertAfter(sub, flag)
		return true
	}
}

func pacmanNoConfirm(c *shellCommand) bool {
	if c.commandName() != "pacman" || c.has("--noconfirm") {
		return false
	}
	for i := c.name + 1; i < len(c.words); i++ {
		w := c.words[i]
		if len(w) > 1 && w[0] == '-' && w[1] != '-' && strings.ContainsAny(w[1:2], "SRU") {
			c.insertAfter(i, "--noconfirm")
			return true
		}
	}
	return false
}
