package provider

import (
	"os/exec"
)

// Availability captures which provider binaries are present on PATH.
type Availability struct {
	Claude bool
	Codex  bool
}

// Available returns present provider names in deterministic order.
func (a Availability) Available() []string {
	names := make([]string, 0, 2)
	if a.Claude {
		names = append(names, NameClaude)
	}
	if a.Codex {
		names = append(names, NameCodex)
	}
	return names
}

// Supports reports whether the named provider binary is present.
func (a Availability) Supports(name string) bool {
	switch name {
	case NameClaude:
		return a.Claude
	case NameCodex:
		return a.Codex
	default:
		return false
	}
}

// DetectAvailability probes PATH for each provider binary.
func DetectAvailability() Availability {
	return detectAvailability(exec.LookPath)
}

func detectAvailability(lookPath func(file string) (string, error)) Availability {
	return Availability{
		Claude: toolAvailable(lookPath, NameClaude),
		Codex:  toolAvailable(lookPath, NameCodex),
	}
}

func toolAvailable(lookPath func(file string) (string, error), binary string) bool {
	_, err := lookPath(binary)
	return err == nil
}
