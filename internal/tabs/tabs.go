// Package tabs loads the externally supplied per-tab command
// configuration. An orchestration layer writes this file before the
// process starts; only the primary tab's command affects pre-warm
// parameter selection.
package tabs

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// PrimaryIndex is the tab whose command drives pre-warming.
const PrimaryIndex = 1

// Tab is one configured terminal tab.
type Tab struct {
	ID      int    `json:"id"`
	Command string `json:"command"`
	Label   string `json:"label"`
}

// List is the ordered tab configuration.
type List []Tab

// Load reads the tab configuration from path. An empty path or a
// missing file yields an empty list; every tab then runs the default
// shell.
func Load(path string) (List, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tab config: %w", err)
	}
	var list List
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parse tab config: %w", err)
	}
	return list, nil
}

// ByIndex finds the tab with the given id.
func (l List) ByIndex(id int) (Tab, bool) {
	for _, t := range l {
		if t.ID == id {
			return t, true
		}
	}
	return Tab{}, false
}

// Command resolves the command line for a tab index, splitting the
// configured string into program and arguments. Unconfigured tabs get
// the default shell.
func (l List) Command(id int) (string, []string) {
	if tab, ok := l.ByIndex(id); ok && strings.TrimSpace(tab.Command) != "" {
		fields := splitCommand(tab.Command)
		if len(fields) > 0 {
			return fields[0], fields[1:]
		}
	}
	return DefaultShell(), nil
}

// splitCommand tokenizes a command line with shell-style quoting, so a
// configured `bash -c "echo hi"` keeps "echo hi" as one argument.
// Single quotes are literal; double quotes allow backslash escapes.
func splitCommand(s string) []string {
	var (
		fields  []string
		current strings.Builder
		quoted  bool
		quote   rune
		escaped bool
	)
	flush := func(force bool) {
		if force || current.Len() > 0 {
			fields = append(fields, current.String())
			current.Reset()
		}
	}
	for _, r := range s {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case quote == '"':
			switch r {
			case '"':
				quote = 0
			case '\\':
				escaped = true
			default:
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			quoted = true
		case r == '\\':
			escaped = true
		case r == ' ' || r == '\t':
			flush(quoted)
			quoted = false
		default:
			current.WriteRune(r)
		}
	}
	flush(quoted)
	return fields
}

// PrimaryCommand returns the program configured for the primary tab,
// for pre-warm parameter selection.
func (l List) PrimaryCommand() string {
	command, _ := l.Command(PrimaryIndex)
	return command
}

// DefaultShell returns $SHELL or /bin/bash.
func DefaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/bash"
}
