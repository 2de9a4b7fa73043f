package safety

import (
	"github.com/felixgeelhaar/warden/internal/command"
	"github.com/felixgeelhaar/warden/internal/errors"
)

// Preparer turns raw command text into an executable command.Spec.
type Preparer struct {
	classifier *Classifier
	sanitizer  *Sanitizer
	timeouts   command.Timeouts
}

// PreparerOption configures a Preparer.
type PreparerOption func(*Preparer)

// WithClassifier replaces the default classifier.
func WithClassifier(c *Classifier) PreparerOption {
	return func(p *Preparer) { p.classifier = c }
}

// WithSanitizer replaces the default sanitizer.
func WithSanitizer(s *Sanitizer) PreparerOption {
	return func(p *Preparer) { p.sanitizer = s }
}

// WithTimeouts sets the durations timeout classes resolve to.
func WithTimeouts(t command.Timeouts) PreparerOption {
	return func(p *Preparer) { p.timeouts = t }
}

// NewPreparer returns a Preparer using the default rule tables and timeouts.
func NewPreparer(opts ...PreparerOption) *Preparer {
	p := &Preparer{
		classifier: NewClassifier(),
		sanitizer:  NewSanitizer(),
		timeouts:   command.DefaultTimeouts(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Classify exposes the classifier for callers that only need the tier.
func (p *Preparer) Classify(text string) Classification {
	return p.classifier.Classify(text)
}

// Prepare classifies, validates and sanitizes text. A syntax problem is
// attached to the Spec as a warning rather than returned, except for blank
// input which can never run.
func (p *Preparer) Prepare(text string, origin command.Origin) (*command.Spec, error) {
	if isBlank(text) {
		return nil, errors.NewValidationError(text, "", 0)
	}

	class := p.classifier.Classify(text)
	warning := Validate(text)
	clean := p.sanitizer.Sanitize(text)

	return &command.Spec{
		Raw:          text,
		Sanitized:    clean.Text,
		Tier:         class.Tier,
		TimeoutClass: class.TimeoutClass,
		Timeout:      p.timeouts.For(class.TimeoutClass),
		Rule:         class.Rule,
		Env:          clean.Env,
		Warning:      warning,
		Origin:       origin,
	}, nil
}
