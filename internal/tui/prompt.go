package tui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"

	"github.com/felixgeelhaar/warden/internal/remote"
)

// PromptForHosts displays a multi-selection of registry hosts
func PromptForHosts(message string, hosts []remote.Host) ([]string, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("no hosts configured")
	}

	options := make([]huh.Option[string], len(hosts))
	for i, h := range hosts {
		label := fmt.Sprintf("%s (%s)", h.Name, h.Addr())
		options[i] = huh.NewOption(label, h.Name)
	}

	var selected []string
	multiSelect := huh.NewMultiSelect[string]().
		Title(message).
		Options(options...).
		Validate(func(s []string) error {
			if len(s) == 0 {
				return fmt.Errorf("select at least one host")
			}
			return nil
		}).
		Value(&selected)

	form := huh.NewForm(huh.NewGroup(multiSelect))

	if err := form.Run(); err != nil {
		return nil, fmt.Errorf("prompt failed: %w", err)
	}

	return selected, nil
}

// PromptForVariables asks for a value for each name and returns the answers.
// Blank answers are rejected because an unbound placeholder fails the step.
func PromptForVariables(names []string) (map[string]string, error) {
	if len(names) == 0 {
		return map[string]string{}, nil
	}

	values := make([]string, len(names))
	fields := make([]huh.Field, len(names))
	for i, name := range names {
		fields[i] = huh.NewInput().
			Title(name).
			Placeholder("value for ${" + name + "}").
			Validate(func(s string) error {
				if s == "" {
					return fmt.Errorf("%s is required", name)
				}
				return nil
			}).
			Value(&values[i])
	}

	form := huh.NewForm(huh.NewGroup(fields...))

	if err := form.Run(); err != nil {
		return nil, fmt.Errorf("prompt failed: %w", err)
	}

	out := make(map[string]string, len(names))
	for i, name := range names {
		out[name] = values[i]
	}
	return out, nil
}

// IsInteractive returns true if stdin is a terminal (not piped)
func IsInteractive() bool {
	fileInfo, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// ShouldPrompt returns true if prompts should be shown based on environment
// Prompts are disabled in CI environments or when stdin is not a terminal
func ShouldPrompt() bool {
	if inCI() {
		return false
	}
	return IsInteractive()
}

var ciEnvVars = []string{
	"CI",
	"GITHUB_ACTIONS",
	"GITLAB_CI",
	"JENKINS_URL",
	"TRAVIS",
	"CIRCLECI",
	"BUILDKITE",
}

func inCI() bool {
	for _, envVar := range ciEnvVars {
		if os.Getenv(envVar) != "" {
			return true
		}
	}
	return false
}
