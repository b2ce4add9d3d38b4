// Package provider maps abstract "run this prompt" requests to concrete
// backend agent command lines. Builders are pure: constructing a Command
// performs no I/O and spawns nothing — execution belongs to the runner.
package provider

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// NameClaude selects the Claude CLI backend.
	NameClaude = "claude"
	// NameCodex selects the Codex CLI backend.
	NameCodex = "codex"

	// DefaultClaudeModel is used when no model override is configured.
	DefaultClaudeModel = "sonnet"
)

// ErrUnknownProvider indicates a provider name outside the closed set.
var ErrUnknownProvider = errors.New("unknown provider")

// Command is an immutable executable name plus ordered argument vector.
type Command struct {
	Name string
	Args []string
}

// Argv renders the command as a flat argument list, executable first.
func (c Command) Argv() []string {
	argv := make([]string, 0, len(c.Args)+1)
	argv = append(argv, c.Name)
	return append(argv, c.Args...)
}

// String renders the command for logs and diagnostics.
func (c Command) String() string {
	return strings.Join(c.Argv(), " ")
}

// ConfigOverride is one ordered dotted-key/value configuration entry.
// Duplicate keys are not deduplicated; every entry is emitted in input order.
type ConfigOverride struct {
	Key   string
	Value string
}

// Provider builds the concrete command line for one backend agent.
type Provider interface {
	Name() string
	BuildCommand(prompt string, projectPath string, overrides []ConfigOverride) Command
}

// Options tunes provider construction.
type Options struct {
	ClaudeModel string
}

// New resolves a provider variant by name from the closed set.
func New(name string, opts Options) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameCodex:
		return codexProvider{}, nil
	case NameClaude:
		model := strings.TrimSpace(opts.ClaudeModel)
		if model == "" {
			model = DefaultClaudeModel
		}
		return claudeProvider{model: model}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}

// Names returns the closed provider set in deterministic order.
func Names() []string {
	return []string{NameClaude, NameCodex}
}

// codexProvider emits each override as a -c key=value pair ahead of the
// prompt, then the fixed approval-bypass flag, then the prompt as the final
// positional argument.
type codexProvider struct{}

func (codexProvider) Name() string {
	return NameCodex
}

func (codexProvider) BuildCommand(prompt string, _ string, overrides []ConfigOverride) Command {
	args := make([]string, 0, len(overrides)*2+3)
	args = append(args, "exec")
	for _, override := range overrides {
		args = append(args, "-c", fmt.Sprintf("%s=%s", override.Key, override.Value))
	}
	args = append(args, "--dangerously-bypass-approvals-and-sandbox", prompt)
	return Command{Name: NameCodex, Args: args}
}

// claudeProvider emits a fixed print/model/permission-skip flag set followed
// by the prompt. Configuration overrides are not supported by this variant
// and are silently ignored.
type claudeProvider struct {
	model string
}

func (claudeProvider) Name() string {
	return NameClaude
}

func (p claudeProvider) BuildCommand(prompt string, _ string, _ []ConfigOverride) Command {
	return Command{
		Name: NameClaude,
		Args: []string{"-p", "--model", p.model, "--dangerously-skip-permissions", prompt},
	}
}

var (
	_ Provider = codexProvider{}
	_ Provider = claudeProvider{}
)
