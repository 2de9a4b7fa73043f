// Package translator defines the boundary to the natural-language collaborator
// that turns a request into command text. Its output is untrusted and goes
// through the same preparation as any typed command.
package translator

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Suggestion is a candidate command produced for a query.
type Suggestion struct {
	Command     string `yaml:"command"`
	Explanation string `yaml:"explanation,omitempty"`
}

// Translator turns a natural-language query into a command suggestion.
type Translator interface {
	Translate(ctx context.Context, query string) (Suggestion, error)
}

// DeclinedError reports a translator that refused to produce a command.
type DeclinedError struct {
	Reason string
}

func (e *DeclinedError) Error() string {
	if e.Reason == "" {
		return "translator declined the request"
	}
	return fmt.Sprintf("translator declined the request: %s", e.Reason)
}

// ErrDeclined matches any DeclinedError with errors.Is.
var ErrDeclined = &DeclinedError{}

// Is reports whether target is a DeclinedError.
func (e *DeclinedError) Is(target error) bool {
	_, ok := target.(*DeclinedError)
	return ok
}

// Decline returns a DeclinedError with reason.
func Decline(reason string) error {
	return &DeclinedError{Reason: reason}
}

// IsDeclined reports whether err is a decline, and returns its reason.
func IsDeclined(err error) (string, bool) {
	var de *DeclinedError
	if stderrors.As(err, &de) {
		return de.Reason, true
	}
	return "", false
}

// Static answers queries from a fixed table keyed by the trimmed,
// lower-cased query. Unknown queries are declined.
type Static map[string]Suggestion

// Translate implements Translator.
func (s Static) Translate(ctx context.Context, query string) (Suggestion, error) {
	if err := ctx.Err(); err != nil {
		return Suggestion{}, err
	}
	if sug, ok := s[strings.ToLower(strings.TrimSpace(query))]; ok {
		return sug, nil
	}
	return Suggestion{}, Decline(fmt.Sprintf("no translation for %q", query))
}

// Func adapts a function to Translator.
type Func func(ctx context.Context, query string) (Suggestion, error)

// Translate calls f.
func (f Func) Translate(ctx context.Context, query string) (Suggestion, error) {
	return f(ctx, query)
}

// LoadStatic reads a YAML translation table mapping queries to suggestions:
//
//	"free disk space":
//	  command: df -h
//	  explanation: show filesystem usage
func LoadStatic(path string) (Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read translations: %w", err)
	}
	var raw map[string]Suggestion
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse translations %s: %w", path, err)
	}
	table := make(Static, len(raw))
	for query, sug := range raw {
		if strings.TrimSpace(sug.Command) == "" {
			return nil, fmt.Errorf("translation %q has no command", query)
		}
		table[strings.ToLower(strings.TrimSpace(query))] = sug
	}
	return table, nil
}
