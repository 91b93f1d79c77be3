package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftlock/termhub/internal/terminal"
)

const scrollbackSize = 256 * 1024

// Conn is one attached client connection, as seen by a Session. The
// gateway owns the transport; sessions only write to it.
type Conn interface {
	ID() string
	// Writable reports whether the underlying transport can still accept
	// frames. Broadcasts skip connections mid-close.
	Writable() bool
	WriteRaw(p []byte) error
	WriteControl(v any) error
	CloseNormal(reason string)
}

// RestoreFrame replays the emulated screen to a reconnecting client. It
// is sent once on attach, before any live output.
type RestoreFrame struct {
	Type  string          `json:"type"`
	State json.RawMessage `json:"state"`
}

// ProcessNameFrame tells clients what is running in the terminal so tab
// labels can track the foreground process.
type ProcessNameFrame struct {
	Type        string `json:"type"`
	TerminalID  string `json:"terminalId"`
	ProcessName string `json:"processName"`
}

// Options configures a new Session.
type Options struct {
	ID          string
	DisplayName string
	Manual      bool
	TabIndex    int
	Command     string
	Args        []string
	WorkDir     string
	Env         []string

	Keepalive        time.Duration
	NamePollInterval time.Duration

	Spawner Spawner
	Logger  *zap.Logger

	// OutputObserver, when set, receives every raw output chunk in
	// addition to attached connections. The pre-warm readiness engine
	// hooks in here.
	OutputObserver func([]byte)
	// OnExpire fires after the keepalive window elapses with no
	// reattachment and the process has been torn down.
	OnExpire func(id string)
	// OnSpawn fires once per successful process spawn.
	OnSpawn func()
}

// Session owns one PTY process, its terminal state, and the set of
// attached client connections.
type Session struct {
	mu sync.Mutex

	id          string
	displayName string
	manual      bool
	tabIndex    int
	command     string
	args        []string
	workDir     string
	env         []string

	proc     Proc
	scroll   *terminal.Scrollback
	conns    map[string]Conn
	procName string

	cols, rows int

	createdAt      time.Time
	lastAccessedAt time.Time
	disconnectedAt time.Time
	lastOutputAt   time.Time

	keepalive        *time.Timer
	keepaliveDur     time.Duration
	namePollStop     chan struct{}
	namePollInterval time.Duration

	spawner        Spawner
	logger         *zap.Logger
	outputObserver func([]byte)
	onExpire       func(id string)
	onSpawn        func()

	killed bool
}

// Info is a point-in-time view of a session for listings and health.
type Info struct {
	ID             string     `json:"id"`
	DisplayName    string     `json:"display_name"`
	Manual         bool       `json:"manual"`
	TabIndex       int        `json:"tab_index"`
	Running        bool       `json:"running"`
	ProcessName    string     `json:"process_name,omitempty"`
	Connections    int        `json:"connections"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
	OutputTail     string     `json:"output_tail,omitempty"`
}

// New creates a Session. The PTY is not started until the first attach
// unless the caller starts it eagerly (the pre-warm path).
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	spawner := opts.Spawner
	if spawner == nil {
		spawner = SpawnPTY
	}
	now := time.Now()
	return &Session{
		id:               opts.ID,
		displayName:      opts.DisplayName,
		manual:           opts.Manual,
		tabIndex:         opts.TabIndex,
		command:          opts.Command,
		args:             opts.Args,
		workDir:          opts.WorkDir,
		env:              opts.Env,
		scroll:           terminal.NewScrollback(scrollbackSize),
		conns:            make(map[string]Conn),
		cols:             80,
		rows:             24,
		createdAt:        now,
		lastAccessedAt:   now,
		keepaliveDur:     opts.Keepalive,
		namePollInterval: opts.NamePollInterval,
		spawner:          spawner,
		logger:           logger,
		outputObserver:   opts.OutputObserver,
		onExpire:         opts.OnExpire,
		onSpawn:          opts.OnSpawn,
	}
}

// ID returns the current session identifier. Adoption renames sessions,
// so callers must not cache this across registry operations.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Rename rebinds the session to a real identifier during pre-warm
// adoption. Only the registry calls this, with its own lock held.
func (s *Session) Rename(id, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	if displayName != "" {
		s.displayName = displayName
	}
	s.lastAccessedAt = time.Now()
}

// Start spawns the PTY process at the given size. Idempotent: a second
// call while a process handle exists is a no-op. Spawn failures surface
// as an exit notification, never as an error.
func (s *Session) Start(cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked(cols, rows)
}

func (s *Session) startLocked(cols, rows int) {
	if s.proc != nil || s.killed {
		return
	}
	if cols > 0 && rows > 0 {
		s.cols, s.rows = cols, rows
	}

	env := append([]string(nil), s.env...)
	env = append(env,
		"TERM=xterm-256color",
		fmt.Sprintf("TERMHUB_TAB=%d", s.tabIndex),
	)
	if s.manual {
		// Manually created tabs get a plain shell prompt even when the
		// image configures a default program to auto-start.
		env = append(env, "TERMHUB_NO_AUTOSTART=1")
	}

	proc, err := s.spawner(SpawnSpec{
		Command:  s.command,
		Args:     s.args,
		Dir:      s.workDir,
		Env:      env,
		Cols:     s.cols,
		Rows:     s.rows,
		OnOutput: s.handleOutput,
		OnExit:   s.handleExit,
	})
	if err != nil {
		s.logger.Warn("pty spawn failed",
			zap.String("session", s.id),
			zap.String("command", s.command),
			zap.Error(err))
		s.notifyExitLocked(ExitInfo{Code: -1, Err: err.Error()})
		return
	}

	s.proc = proc
	s.lastOutputAt = time.Now()
	if s.onSpawn != nil {
		s.onSpawn()
	}
	s.startNamePollLocked()
	s.logger.Info("pty started",
		zap.String("session", s.id),
		zap.String("command", s.command),
		zap.Int("pid", proc.Pid()))
}

// handleOutput runs on the emulator's read goroutine for every raw
// output chunk, in production order.
func (s *Session) handleOutput(chunk []byte) {
	s.mu.Lock()
	s.lastOutputAt = time.Now()
	_, _ = s.scroll.Write(chunk)
	for _, c := range s.conns {
		if !c.Writable() {
			continue
		}
		_ = c.WriteRaw(chunk)
	}
	observer := s.outputObserver
	s.mu.Unlock()

	if observer != nil {
		observer(chunk)
	}
}

func (s *Session) handleExit(info ExitInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return
	}
	s.proc = nil
	s.procName = ""
	s.stopNamePollLocked()
	s.stopKeepaliveLocked()
	s.notifyExitLocked(info)
}

// notifyExitLocked sends a readable in-band exit message. Connections are
// deliberately left open so the client can keep inspecting the screen.
func (s *Session) notifyExitLocked(info ExitInfo) {
	msg := fmt.Sprintf("\r\n[process exited with code %d]\r\n", info.Code)
	for _, c := range s.conns {
		if !c.Writable() {
			continue
		}
		_ = c.WriteRaw([]byte(msg))
	}
	s.logger.Info("pty exited",
		zap.String("session", s.id),
		zap.Int("code", info.Code),
		zap.String("error", info.Err))
}

// Attach adds a connection, starting the process if needed. The restore
// snapshot is written under the same lock that guards broadcasts, so a
// client never sees live output produced after attach ahead of it.
func (s *Session) Attach(c Conn, cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killed {
		c.CloseNormal("session closed")
		return
	}

	s.conns[c.ID()] = c
	s.lastAccessedAt = time.Now()
	s.disconnectedAt = time.Time{}
	s.stopKeepaliveLocked()
	s.startLocked(cols, rows)

	if s.proc != nil {
		if blob, ok := s.proc.SerializeState(); ok {
			_ = c.WriteControl(RestoreFrame{Type: "restore", State: blob})
		}
	}
	if s.procName != "" {
		_ = c.WriteControl(ProcessNameFrame{
			Type:        "process-name",
			TerminalID:  s.id,
			ProcessName: s.procName,
		})
	}
}

// Detach removes a connection. When the last one leaves while a process
// is still running, the keepalive window starts; expiry tears the
// session down so abandoned tabs release their PTY.
func (s *Session) Detach(c Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conns, c.ID())
	if len(s.conns) > 0 || s.proc == nil || s.killed {
		return
	}

	s.disconnectedAt = time.Now()
	s.stopKeepaliveLocked()
	s.keepalive = time.AfterFunc(s.keepaliveDur, s.keepaliveExpired)
	s.logger.Debug("keepalive armed",
		zap.String("session", s.id),
		zap.Duration("window", s.keepaliveDur))
}

func (s *Session) keepaliveExpired() {
	s.mu.Lock()
	if len(s.conns) > 0 || s.proc == nil || s.killed {
		s.mu.Unlock()
		return
	}
	id := s.id
	proc := s.proc
	s.proc = nil
	s.procName = ""
	s.stopNamePollLocked()
	s.mu.Unlock()

	proc.Kill()
	s.logger.Info("keepalive expired, pty killed", zap.String("session", id))
	if s.onExpire != nil {
		s.onExpire(id)
	}
}

// Write forwards input bytes to the process. Dropped silently when no
// process is running; spawn races make that an expected state.
func (s *Session) Write(p []byte) {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc == nil {
		return
	}
	_ = proc.Write(p)
}

// Resize propagates the new size to the PTY and the emulated screen.
func (s *Session) Resize(cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cols <= 0 || rows <= 0 {
		return
	}
	s.cols, s.rows = cols, rows
	if s.proc != nil {
		_ = s.proc.Resize(cols, rows)
	}
}

// Kill is an idempotent hard teardown: timers canceled, process killed,
// every attached connection closed with a normal-closure code.
func (s *Session) Kill() {
	s.mu.Lock()
	if s.killed {
		s.mu.Unlock()
		return
	}
	s.killed = true
	s.stopKeepaliveLocked()
	s.stopNamePollLocked()
	proc := s.proc
	s.proc = nil
	s.procName = ""
	conns := s.conns
	s.conns = make(map[string]Conn)
	s.scroll.Clear()
	s.mu.Unlock()

	if proc != nil {
		proc.Kill()
	}
	for _, c := range conns {
		c.CloseNormal("session closed")
	}
	s.logger.Info("session killed", zap.String("session", s.id))
}

// IsAlive reports whether the session still holds a process or any
// attached connection. Dead sessions are eligible for reaping.
func (s *Session) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil || len(s.conns) > 0
}

// Running reports whether a process handle exists.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

// ConnCount returns the number of attached connections.
func (s *Session) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// LastOutputAt returns the time of the most recent PTY output.
func (s *Session) LastOutputAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOutputAt
}

// Snapshot returns a point-in-time view for listings.
func (s *Session) Snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		ID:             s.id,
		DisplayName:    s.displayName,
		Manual:         s.manual,
		TabIndex:       s.tabIndex,
		Running:        s.proc != nil,
		ProcessName:    s.procName,
		Connections:    len(s.conns),
		CreatedAt:      s.createdAt,
		LastAccessedAt: s.lastAccessedAt,
		OutputTail:     s.scroll.Tail(512),
	}
	if !s.disconnectedAt.IsZero() {
		t := s.disconnectedAt
		info.DisconnectedAt = &t
	}
	return info
}

func (s *Session) stopKeepaliveLocked() {
	if s.keepalive != nil {
		s.keepalive.Stop()
		s.keepalive = nil
	}
}

// startNamePollLocked begins the low-frequency foreground-process poll.
// Tab labels track what is running without the client parsing output.
func (s *Session) startNamePollLocked() {
	if s.namePollInterval <= 0 || s.namePollStop != nil {
		return
	}
	stop := make(chan struct{})
	s.namePollStop = stop
	go s.namePollLoop(stop)
}

func (s *Session) namePollLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.namePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.refreshProcessName()
		}
	}
}

func (s *Session) refreshProcessName() {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc == nil {
		return
	}
	name := proc.ForegroundName()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil || name == "" || name == s.procName {
		return
	}
	s.procName = name
	frame := ProcessNameFrame{Type: "process-name", TerminalID: s.id, ProcessName: name}
	for _, c := range s.conns {
		if !c.Writable() {
			continue
		}
		_ = c.WriteControl(frame)
	}
}

func (s *Session) stopNamePollLocked() {
	if s.namePollStop != nil {
		close(s.namePollStop)
		s.namePollStop = nil
	}
}
