package tabs

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tabs.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `[
		{"id": 1, "command": "claude --continue", "label": "Agent"},
		{"id": 2, "command": "", "label": "Shell"}
	]`)

	list, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("loaded %d tabs, want 2", len(list))
	}
	if list[0].Command != "claude --continue" || list[0].Label != "Agent" {
		t.Fatalf("unexpected first tab: %+v", list[0])
	}
}

func TestLoadEmptyPathAndMissingFile(t *testing.T) {
	list, err := Load("")
	if err != nil || list != nil {
		t.Fatalf("Load(\"\") = (%v, %v)", list, err)
	}
	list, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil || list != nil {
		t.Fatalf("Load on missing file = (%v, %v)", list, err)
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)
	if _, err := Load(path); err == nil {
		t.Fatal("malformed config did not error")
	}
}

func TestCommandSplitsArguments(t *testing.T) {
	list := List{{ID: 1, Command: "claude --continue --verbose"}}
	command, args := list.Command(1)
	if command != "claude" || !reflect.DeepEqual(args, []string{"--continue", "--verbose"}) {
		t.Fatalf("got %q %v", command, args)
	}
}

func TestCommandPreservesQuotedArguments(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{`bash -c "echo hi"`, []string{"bash", "-c", "echo hi"}},
		{`sh -c 'sleep 1; echo "done"'`, []string{"sh", "-c", `sleep 1; echo "done"`}},
		{`grep -e "a b" --color=auto`, []string{"grep", "-e", "a b", "--color=auto"}},
		{`printf "%s\"quoted\""`, []string{"printf", `%s"quoted"`}},
		{`tool --flag ""`, []string{"tool", "--flag", ""}},
		{`spaced\ arg next`, []string{"spaced arg", "next"}},
	}
	for _, tc := range cases {
		list := List{{ID: 1, Command: tc.in}}
		command, args := list.Command(1)
		got := append([]string{command}, args...)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Command(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestCommandFallsBackToShell(t *testing.T) {
	t.Setenv("SHELL", "/bin/zsh")
	list := List{{ID: 1, Command: "claude"}}

	command, args := list.Command(2)
	if command != "/bin/zsh" || args != nil {
		t.Fatalf("unconfigured tab got %q %v", command, args)
	}

	blank := List{{ID: 3, Command: "   "}}
	command, _ = blank.Command(3)
	if command != "/bin/zsh" {
		t.Fatalf("blank command got %q", command)
	}
}

func TestPrimaryCommand(t *testing.T) {
	list := List{{ID: 1, Command: "opencode --project ."}}
	if got := list.PrimaryCommand(); got != "opencode" {
		t.Fatalf("PrimaryCommand = %q", got)
	}

	t.Setenv("SHELL", "/bin/bash")
	if got := (List)(nil).PrimaryCommand(); got != "/bin/bash" {
		t.Fatalf("nil list PrimaryCommand = %q", got)
	}
}
