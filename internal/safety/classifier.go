// Package safety decides how risky a command line is, checks that it is
// well formed and rewrites it so that it never waits on a prompt.
package safety

import (
	"github.com/felixgeelhaar/warden/internal/command"
)

// Classification is the outcome of classifying a command line.
type Classification struct {
	Tier         command.Tier
	TimeoutClass command.TimeoutClass
	// Rule is the name of the matching rule, empty for the benign default.
	Rule string
}

// Classifier assigns a risk tier and timeout class using an ordered rule table.
// It performs no I/O and is safe for concurrent use.
type Classifier struct {
	rules []Rule
}

// NewClassifier returns a classifier over rules. With no rules it uses
// DefaultRules.
func NewClassifier(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Rules returns a copy of the rule table.
func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// Classify returns the first matching rule's tier. Unmatched lines are benign
// with a short timeout, or a normal timeout when several commands are chained.
func (c *Classifier) Classify(text string) Classification {
	line := Parse(text)
	for _, r := range c.rules {
		if r.Match(line) {
			return Classification{Tier: r.Tier, TimeoutClass: r.TimeoutClass, Rule: r.Name}
		}
	}

	class := command.TimeoutShort
	if line.Compound {
		class = command.TimeoutNormal
	}
	return Classification{Tier: command.TierBenign, TimeoutClass: class}
}
