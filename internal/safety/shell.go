package safety

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// span is a byte range of the source text.
type span struct{ start, end int }

// simpleCommand is one command of a script: its unquoted words, where each
// word sits in the source text, and which word names the command.
type simpleCommand struct {
	words    []string
	spans    []span
	name     int
	elevated bool
}

func (c *simpleCommand) locate() {
	c.name, c.elevated = commandWord(c.words)
}

// script is the parsed form of a command line.
type script struct {
	commands []simpleCommand
	compound bool
}

// parseScript parses text as a bash script. Text the parser rejects, such as
// an unterminated quote, is split by the lexer instead so that every input
// still gets a view the rules can match.
func parseScript(text string) script {
	f, err := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangBash)).
		Parse(strings.NewReader(text), "")
	if err != nil {
		return lexScript(text)
	}

	var sc script
	syntax.Walk(f, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.Stmt:
			if n.Background {
				sc.compound = true
			}
		case *syntax.BinaryCmd:
			sc.compound = true
		case *syntax.CallExpr:
			if len(n.Args) == 0 {
				break
			}
			cmd := simpleCommand{}
			for _, w := range n.Args {
				cmd.words = append(cmd.words, wordText(text, w))
				cmd.spans = append(cmd.spans, span{int(w.Pos().Offset()), int(w.End().Offset())})
			}
			cmd.locate()
			sc.commands = append(sc.commands, cmd)
		}
		return true
	})

	if len(sc.commands) > 1 {
		sc.compound = true
	}
	return sc
}

// wordText returns w with quoting removed. Expansions are kept as written.
func wordText(src string, w *syntax.Word) string {
	var b strings.Builder
	for _, part := range w.Parts {
		writePart(&b, src, part, false)
	}
	return b.String()
}

func writePart(b *strings.Builder, src string, part syntax.WordPart, quoted bool) {
	switch p := part.(type) {
	case *syntax.Lit:
		b.WriteString(unescape(p.Value, quoted))
	case *syntax.SglQuoted:
		b.WriteString(p.Value)
	case *syntax.DblQuoted:
		for _, inner := range p.Parts {
			writePart(b, src, inner, true)
		}
	default:
		b.WriteString(src[part.Pos().Offset():part.End().Offset()])
	}
}

// unescape drops the backslashes the shell removes from a literal.
func unescape(lit string, quoted bool) string {
	if !strings.Contains(lit, `\`) {
		return lit
	}
	var b strings.Builder
	for i := 0; i < len(lit); i++ {
		c := lit[i]
		if c != '\\' || i+1 == len(lit) {
			b.WriteByte(c)
			continue
		}
		next := lit[i+1]
		switch {
		case next == '\n':
			i++
		case !quoted || strings.IndexByte("$`\"\\", next) >= 0:
			b.WriteByte(next)
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
