package safety

import (
	"path"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// piece is a word or a control operator of a command line, with its byte
// span in the source text.
type piece struct {
	text       string
	sep        bool
	start, end int
}

var operators = []string{"&&", "||", ";;", "|", ";", "&", "\n"}

// lex splits text into words and control operators. Quoted and escaped
// characters stay inside their word verbatim. It accepts any input, which
// makes it the fallback for text the shell parser rejects.
func lex(text string) []piece {
	var (
		pieces  []piece
		cur     strings.Builder
		inWord  bool
		start   int
		quote   byte
		escaped bool
	)

	begin := func(i int) {
		if !inWord {
			inWord = true
			start = i
		}
	}
	flush := func(end int) {
		if inWord {
			pieces = append(pieces, piece{text: cur.String(), start: start, end: end})
			cur.Reset()
			inWord = false
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]

		if escaped {
			cur.WriteByte(c)
			escaped = false
			continue
		}

		if quote != 0 {
			cur.WriteByte(c)
			if c == '\\' && quote == '"' {
				escaped = true
			} else if c == quote {
				quote = 0
			}
			continue
		}

		switch c {
		case '\\':
			begin(i)
			cur.WriteByte(c)
			escaped = true
			continue
		case '\'', '"':
			begin(i)
			quote = c
			cur.WriteByte(c)
			continue
		case ' ', '\t', '\r':
			flush(i)
			continue
		}

		if op := operatorAt(text, i); op != "" {
			flush(i)
			pieces = append(pieces, piece{text: op, sep: true, start: i, end: i + len(op)})
			i += len(op) - 1
			continue
		}

		begin(i)
		cur.WriteByte(c)
	}
	flush(len(text))

	return pieces
}

func operatorAt(text string, i int) string {
	for _, op := range operators {
		if strings.HasPrefix(text[i:], op) {
			// Redirections such as 2>&1 and &> are part of a word.
			if op == "&" && i > 0 && text[i-1] == '>' {
				return ""
			}
			if op == "&" && i+1 < len(text) && text[i+1] == '>' {
				return ""
			}
			return op
		}
	}
	return ""
}

// unquote strips shell quoting and escapes from a word.
func unquote(word string) string {
	if !strings.ContainsAny(word, `'"\`) {
		return word
	}
	var (
		b       strings.Builder
		quote   byte
		escaped bool
	)
	for i := 0; i < len(word); i++ {
		c := word[i]
		switch {
		case escaped:
			b.WriteByte(c)
			escaped = false
		case c == '\\' && quote != '\'':
			escaped = true
		case quote == 0 && (c == '\'' || c == '"'):
			quote = c
		case c == quote:
			quote = 0
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// lexScript is the fallback for parseScript: simple commands are the word
// runs between control operators.
func lexScript(text string) script {
	pieces := lex(text)
	var sc script

	cur := simpleCommand{}
	end := func() {
		if len(cur.words) > 0 {
			sc.commands = append(sc.commands, cur)
		}
		cur = simpleCommand{}
	}
	for _, p := range pieces {
		if p.sep {
			if p.text != "\n" {
				sc.compound = true
			}
			end()
			continue
		}
		// Grouping brackets glued to a word are not part of it.
		raw := strings.TrimLeft(p.text, "({")
		start := p.start + len(p.text) - len(raw)
		raw = strings.TrimRight(raw, ")}")
		cur.words = append(cur.words, unquote(raw))
		cur.spans = append(cur.spans, span{start, start + len(raw)})
	}
	end()

	if len(sc.commands) > 1 {
		sc.compound = true
	}
	for i := range sc.commands {
		sc.commands[i].locate()
	}
	return sc
}

// wrappers are prefix commands that run the next word as the command.
var wrappers = map[string]bool{
	"sudo": true, "doas": true, "env": true, "nohup": true, "time": true,
	"command": true, "exec": true, "nice": true, "stdbuf": true,
}

// wrapperArgFlags are wrapper options that consume the following word.
var wrapperArgFlags = map[string]bool{
	"-u": true, "-g": true, "-p": true, "-C": true, "-D": true, "-r": true,
	"-t": true, "-U": true, "-h": true, "-n": true,
}

// commandWord finds the command word past env assignments and wrapper
// commands. It returns -1 when there is none, and whether a privilege
// wrapper came first.
func commandWord(words []string) (int, bool) {
	afterWrapper, skipNext, elevated := false, false, false
	for i, w := range words {
		if skipNext {
			skipNext = false
			continue
		}
		if w == "" || isAssignment(w) {
			continue
		}
		if afterWrapper && strings.HasPrefix(w, "-") {
			skipNext = wrapperArgFlags[w]
			continue
		}
		if base := path.Base(w); wrappers[base] {
			afterWrapper = true
			if base == "sudo" || base == "doas" {
				elevated = true
			}
			continue
		}
		return i, elevated
	}
	return -1, elevated
}

func isAssignment(w string) bool {
	eq := strings.IndexByte(w, '=')
	if eq <= 0 {
		return false
	}
	for i := 0; i < eq; i++ {
		c := w[i]
		if !(c == '_' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || i > 0 && c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// Invocation is the parsed view of one simple command within a line.
type Invocation struct {
	// Name is the base name of the command word, lower-cased.
	Name string
	// Args are the unquoted words after the command word.
	Args []string
	// Elevated reports whether the command runs under sudo or doas, directly
	// or through an enclosing command.
	Elevated bool
	// Nested reports that the command is run by another one, as the script
	// of sh -c, the text of eval, or the command of xargs or find -exec.
	Nested bool
}

// Line is the parsed view of a command line handed to rule matchers.
type Line struct {
	Raw string
	// Lower is Raw lower-cased with whitespace collapsed.
	Lower string
	// Invocations lists every simple command, including those nested
	// inside command substitutions and shell re-entries.
	Invocations []Invocation
	// Compound reports whether the line chains several commands.
	Compound bool
}

// maxNesting bounds how deep shell re-entries are followed.
const maxNesting = 4

// Parse builds the matcher view of text.
func Parse(text string) Line {
	line := Line{
		Raw:   text,
		Lower: strings.ToLower(strings.Join(strings.Fields(text), " ")),
	}
	sc := parseScript(text)
	line.Compound = sc.compound
	line.Invocations = invocations(sc, false, 0)
	return line
}

func invocations(sc script, elevated bool, depth int) []Invocation {
	var out []Invocation
	for _, cmd := range sc.commands {
		if cmd.name < 0 {
			continue
		}
		inv := Invocation{
			Name:     strings.ToLower(path.Base(cmd.words[cmd.name])),
			Args:     append([]string(nil), cmd.words[cmd.name+1:]...),
			Elevated: elevated || cmd.elevated,
			Nested:   depth > 0,
		}
		out = append(out, inv)

		if depth >= maxNesting {
			continue
		}
		for _, text := range inv.nested() {
			out = append(out, invocations(parseScript(text), inv.Elevated, depth+1)...)
		}
	}
	return out
}

// shells are interpreters whose -c option runs a command string.
var shells = map[string]bool{
	"sh": true, "bash": true, "zsh": true, "dash": true, "ksh": true, "ash": true, "fish": true,
}

// shellOptsWithArg are shell options that consume the following word.
var shellOptsWithArg = map[string]bool{"-o": true, "+o": true, "-O": true, "+O": true, "--rcfile": true, "--init-file": true}

// xargsOptsWithArg are xargs options that consume the following word.
var xargsOptsWithArg = map[string]bool{
	"-I": true, "-L": true, "-n": true, "-P": true, "-d": true, "-E": true, "-s": true, "-a": true,
	"--max-args": true, "--max-procs": true, "--max-lines": true, "--delimiter": true,
	"--arg-file": true, "--eof": true, "--max-chars": true, "--process-slot-var": true,
}

// nested returns the command lines inv runs on its behalf.
func (inv Invocation) nested() []string {
	switch {
	case shells[inv.Name]:
		if text, ok := shellScript(inv.Args); ok {
			return []string{text}
		}
	case inv.Name == "eval":
		if len(inv.Args) > 0 {
			return []string{strings.Join(inv.Args, " ")}
		}
	case inv.Name == "xargs":
		for i := 0; i < len(inv.Args); i++ {
			a := inv.Args[i]
			if !strings.HasPrefix(a, "-") {
				return []string{quoteWords(inv.Args[i:])}
			}
			if xargsOptsWithArg[a] {
				i++
			}
		}
	case inv.Name == "find":
		return findActions(inv.Args)
	}
	return nil
}

// shellScript returns the command string of a shell started with -c.
func shellScript(args []string) (string, bool) {
	command := false
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case shellOptsWithArg[a]:
			i++
		case len(a) > 1 && a[0] == '-' && a[1] != '-':
			if strings.IndexByte(a[1:], 'c') >= 0 {
				command = true
			}
		case strings.HasPrefix(a, "-") || strings.HasPrefix(a, "+"):
		default:
			return a, command
		}
	}
	return "", false
}

// findActions returns the commands of find's -exec style actions.
func findActions(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-exec", "-execdir", "-ok", "-okdir":
		default:
			continue
		}
		j := i + 1
		for j < len(args) && args[j] != ";" && args[j] != "+" {
			j++
		}
		if j > i+1 {
			out = append(out, quoteWords(args[i+1:j]))
		}
		i = j
	}
	return out
}

// quoteWords joins words into a command line that parses back into the
// same words.
func quoteWords(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		q, err := syntax.Quote(w, syntax.LangBash)
		if err != nil {
			q = "'" + strings.ReplaceAll(w, "'", `'\''`) + "'"
		}
		quoted[i] = q
	}
	return strings.Join(quoted, " ")
}

// HasFlag reports whether any arg equals one of flags, or, for single-dash
// short flags, whether a combined short-flag group contains it.
func (inv Invocation) HasFlag(flags ...string) bool {
	for _, a := range inv.Args {
		for _, f := range flags {
			if a == f {
				return true
			}
			if len(f) == 2 && f[0] == '-' && len(a) > 2 && a[0] == '-' && a[1] != '-' && strings.IndexByte(a[1:], f[1]) >= 0 {
				return true
			}
		}
	}
	return false
}

// Positional returns the args that do not start with a dash.
func (inv Invocation) Positional() []string {
	var out []string
	for _, a := range inv.Args {
		if !strings.HasPrefix(a, "-") {
			out = append(out, a)
		}
	}
	return out
}
