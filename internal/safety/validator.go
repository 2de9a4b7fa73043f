package safety

import (
	"github.com/felixgeelhaar/warden/internal/errors"
)

var closers = map[byte]byte{')': '(', ']': '[', '}': '{'}

type opener struct {
	tok    byte
	offset int
}

// Validate checks quote and bracket balance in a single left-to-right scan.
// Quoted text is opaque to bracket matching, a backslash outside single
// quotes escapes the next byte, and an unquoted # at the start of a word
// begins a comment. The returned error names the first unmatched token.
func Validate(text string) error {
	if isBlank(text) {
		return errors.NewValidationError(text, "", 0)
	}

	var stack []opener
	top := func() byte {
		if len(stack) == 0 {
			return 0
		}
		return stack[len(stack)-1].tok
	}

	for i := 0; i < len(text); i++ {
		c := text[i]

		switch top() {
		case '\'':
			if c == '\'' {
				stack = stack[:len(stack)-1]
			}
			continue
		case '"':
			switch c {
			case '\\':
				i++
			case '"':
				stack = stack[:len(stack)-1]
			}
			continue
		}

		switch c {
		case '\\':
			if i == len(text)-1 {
				return errors.NewValidationError(text, `\`, i)
			}
			i++
		case '#':
			if i == 0 || isSpace(text[i-1]) {
				for i < len(text) && text[i] != '\n' {
					i++
				}
			}
		case '\'', '"', '(', '[', '{':
			stack = append(stack, opener{tok: c, offset: i})
		case ')', ']', '}':
			want := closers[c]
			if top() != want {
				return errors.NewValidationError(text, string(c), i)
			}
			stack = stack[:len(stack)-1]
		}
	}

	if len(stack) > 0 {
		first := stack[0]
		return errors.NewValidationError(text, string(first.tok), first.offset)
	}
	return nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isBlank(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isSpace(s[i]) {
			return false
		}
	}
	return true
}
