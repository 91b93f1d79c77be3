package prewarm

import (
	"path/filepath"
	"regexp"
	"time"
)

// Readiness parameters by command class. Shells and simple REPLs go
// quiet after their startup burst; spinner-driven TUI agents keep
// redrawing, so they get a much shorter quiescence window and, where the
// tool prints a recognizable prompt, a ready pattern.
const (
	DefaultQuiescence  = 2000 * time.Millisecond
	BusyToolQuiescence = 500 * time.Millisecond
)

// Params selects how the readiness engine detects a settled terminal.
type Params struct {
	Quiescence   time.Duration
	ReadyPattern *regexp.Regexp
}

var opencodePrompt = regexp.MustCompile(`>\s*$`)

// busyTools are interactive agents whose TUI redraws continuously.
var busyTools = map[string]bool{
	"claude":       true,
	"codex":        true,
	"aider":        true,
	"goose":        true,
	"amp":          true,
	"gemini":       true,
	"cursor-agent": true,
}

// ParamsFor inspects the configured primary-tab command and picks
// readiness parameters. Commands not recognized by name get the shell
// defaults.
func ParamsFor(command string) Params {
	name := filepath.Base(command)
	if name == "opencode" {
		return Params{Quiescence: BusyToolQuiescence, ReadyPattern: opencodePrompt}
	}
	if busyTools[name] {
		return Params{Quiescence: BusyToolQuiescence}
	}
	return Params{Quiescence: DefaultQuiescence}
}
