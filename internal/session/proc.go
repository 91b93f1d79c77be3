package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ricochet1k/termemu"

	"github.com/driftlock/termhub/internal/terminal"
)

// ExitInfo describes how a PTY process ended. Spawn failures are reported
// through the same path with a placeholder code so connection handlers
// never see an error.
type ExitInfo struct {
	Code int
	Err  string
}

// SpawnSpec carries everything needed to start a process on a fresh PTY.
type SpawnSpec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	Cols    int
	Rows    int

	// OnOutput receives every raw output chunk, in production order.
	OnOutput func([]byte)
	// OnExit fires exactly once when the process terminates.
	OnExit func(ExitInfo)
}

// Proc is one OS process group running on a virtual terminal device.
// Exactly one Session owns a given Proc; it is never shared.
type Proc interface {
	Pid() int
	Write(p []byte) error
	Resize(cols, rows int) error
	// SerializeState returns the restore blob for the emulated screen,
	// or false when no usable state exists yet.
	SerializeState() (json.RawMessage, bool)
	// ForegroundName is the best-effort display name of the process
	// currently in the foreground of the terminal.
	ForegroundName() string
	Kill()
}

// Spawner starts a Proc from a spec. Sessions take it as a dependency so
// lifecycle tests can run without real PTYs.
type Spawner func(spec SpawnSpec) (Proc, error)

type ptyProc struct {
	cmd  *exec.Cmd
	term termemu.Terminal
	buf  *terminal.StateBuffer

	killOnce sync.Once
}

// SpawnPTY starts spec.Command on a new pseudo-terminal. Raw output is
// teed to spec.OnOutput while the emulated screen consumes the same
// stream for snapshots.
func SpawnPTY(spec SpawnSpec) (Proc, error) {
	if spec.Command == "" {
		return nil, errors.New("spawn: empty command")
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = resolveWorkDir(spec.Dir)
	cmd.Env = spec.Env
	if len(cmd.Env) == 0 {
		cmd.Env = os.Environ()
	}

	backend := &termemu.PTYBackend{}
	if err := backend.StartCommand(cmd); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", spec.Command, err)
	}

	tee := termemu.NewTeeBackend(backend)
	tee.SetTee(outputWriter{fn: spec.OnOutput})

	term := termemu.NewWithMode(terminal.NewQuietFrontend(), tee, termemu.TextReadModeRune)
	if term == nil {
		_ = cmd.Process.Kill()
		return nil, errors.New("spawn: failed to initialize terminal emulator")
	}

	p := &ptyProc{
		cmd:  cmd,
		term: term,
		buf:  terminal.NewStateBuffer(term),
	}
	if spec.Cols > 0 && spec.Rows > 0 {
		_ = p.Resize(spec.Cols, spec.Rows)
	}

	go func() {
		err := cmd.Wait()
		info := ExitInfo{Code: 0}
		if err != nil {
			info.Code = -1
			info.Err = err.Error()
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				info.Code = exitErr.ExitCode()
			}
		}
		if spec.OnExit != nil {
			spec.OnExit(info)
		}
	}()

	return p, nil
}

func (p *ptyProc) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *ptyProc) Write(b []byte) error {
	_, err := p.term.Write(b)
	return err
}

func (p *ptyProc) Resize(cols, rows int) error {
	return p.buf.Resize(cols, rows)
}

func (p *ptyProc) SerializeState() (json.RawMessage, bool) {
	return p.buf.SerializeState()
}

func (p *ptyProc) ForegroundName() string {
	pid := p.Pid()
	if pid <= 0 {
		return ""
	}
	if name := foregroundComm(pid); name != "" {
		return name
	}
	return filepath.Base(p.cmd.Path)
}

func (p *ptyProc) Kill() {
	p.killOnce.Do(func() {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
	})
}

// foregroundComm resolves the command name of the terminal's foreground
// process group via procfs. Returns "" on any error or off Linux.
func foregroundComm(pid int) string {
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return ""
	}
	// The comm field is parenthesized and may contain spaces; parse from
	// the closing paren. Fields after it: state ppid pgrp session tty_nr tpgid.
	raw := string(stat)
	idx := strings.LastIndexByte(raw, ')')
	if idx < 0 {
		return ""
	}
	fields := strings.Fields(raw[idx+1:])
	if len(fields) < 6 {
		return ""
	}
	tpgid, err := strconv.Atoi(fields[5])
	if err != nil || tpgid <= 0 {
		return ""
	}
	comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", tpgid))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(comm))
}

// resolveWorkDir falls back to the home directory, then /tmp, when the
// preferred workspace path does not exist.
func resolveWorkDir(preferred string) string {
	if preferred != "" {
		if info, err := os.Stat(preferred); err == nil && info.IsDir() {
			return preferred
		}
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return home
	}
	return "/tmp"
}

// outputWriter adapts the tee hook to a callback, copying each chunk so
// the emulator can reuse its read buffer.
type outputWriter struct {
	fn func([]byte)
}

func (w outputWriter) Write(p []byte) (int, error) {
	if w.fn != nil && len(p) > 0 {
		chunk := make([]byte, len(p))
		copy(chunk, p)
		w.fn(chunk)
	}
	return len(p), nil
}
