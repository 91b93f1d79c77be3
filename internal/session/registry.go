package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftlock/termhub/internal/metrics"
)

var (
	// ErrCapacityExceeded is a definite outcome, not an exception: the
	// caller answers the client with a limit-reached close or status code.
	ErrCapacityExceeded = errors.New("session capacity exceeded")
	ErrNotFound         = errors.New("session not found")
	ErrInvalidID        = errors.New("invalid session id")
)

// prewarmKey is the sentinel registry slot for the speculatively started
// session. It never counts against capacity.
const prewarmKey = "__prewarm__"

// primaryTabIndex designates the tab whose first connect may adopt the
// pre-warmed session.
const primaryTabIndex = 1

// Readiness is the slice of the pre-warm engine the registry needs:
// output observation during warm-up and force-satisfaction on adoption.
type Readiness interface {
	ObserveOutput(chunk []byte)
	ForceReady()
}

// TabCommand resolves the configured command for a tab index. Index 0
// asks for the default (shell) command.
type TabCommand func(tabIndex int) (command string, args []string)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	MaxSessions      int
	MaxTabs          int
	Keepalive        time.Duration
	NamePollInterval time.Duration
	OrphanTimeout    time.Duration
	WorkDir          string

	TabCommand TabCommand
	Spawner    Spawner
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Registry owns all sessions keyed by identifier, plus the single
// reserved pre-warm slot. One mutex serializes every registry mutation;
// the adoption path and the capacity-checked create path can never both
// succeed for the same identifier.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	opts   RegistryOptions
	logger *zap.Logger

	orphanTimer *time.Timer
	readiness   Readiness
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Spawner == nil {
		opts.Spawner = SpawnPTY
	}
	if opts.MaxTabs <= 0 {
		opts.MaxTabs = 6
	}
	return &Registry{
		sessions: make(map[string]*Session),
		opts:     opts,
		logger:   opts.Logger,
	}
}

// ParseID splits a compound identifier {opaque}-{tabIndex}. The tab
// suffix selects among up to MaxTabs tabs of one logical workspace.
func ParseID(id string) (base string, tab int, ok bool) {
	idx := strings.LastIndexByte(id, '-')
	if idx <= 0 || idx == len(id)-1 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[idx+1:])
	if err != nil {
		return "", 0, false
	}
	return id[:idx], n, true
}

// GetOrCreate returns the session for id, creating it if absent. A first
// reference to a primary-tab identifier adopts the pre-warmed session
// when one is waiting; otherwise creation is subject to the capacity
// limit. Existing sessions are returned regardless of process state.
func (r *Registry) GetOrCreate(id, displayName string, manual bool) (*Session, error) {
	base, tab, ok := ParseID(id)
	if !ok || base == "" || tab < 1 || tab > r.opts.MaxTabs {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, exists := r.sessions[id]; exists {
		return s, nil
	}

	if tab == primaryTabIndex {
		if warm, exists := r.sessions[prewarmKey]; exists {
			delete(r.sessions, prewarmKey)
			r.sessions[id] = warm
			warm.Rename(id, displayName)
			if r.orphanTimer != nil {
				r.orphanTimer.Stop()
				r.orphanTimer = nil
			}
			if r.readiness != nil {
				// An adopted session is by definition no longer pre-warm.
				r.readiness.ForceReady()
			}
			if r.opts.Metrics != nil {
				r.opts.Metrics.AdoptionsTotal.Inc()
			}
			r.logger.Info("prewarmed session adopted", zap.String("session", id))
			return warm, nil
		}
	}

	if r.capacityCountLocked() >= r.opts.MaxSessions {
		if r.opts.Metrics != nil {
			r.opts.Metrics.CapacityRejects.Inc()
		}
		return nil, ErrCapacityExceeded
	}

	s := r.newSessionLocked(id, displayName, manual, tab, nil)
	r.sessions[id] = s
	r.updateGaugeLocked()
	r.logger.Info("session created",
		zap.String("session", id),
		zap.Bool("manual", manual))
	return s, nil
}

func (r *Registry) newSessionLocked(id, displayName string, manual bool, tab int, observer func([]byte)) *Session {
	command, args := r.resolveCommand(tab)
	var onSpawn func()
	if r.opts.Metrics != nil {
		onSpawn = r.opts.Metrics.SpawnsTotal.Inc
	}
	return New(Options{
		ID:               id,
		DisplayName:      displayName,
		Manual:           manual,
		TabIndex:         tab,
		Command:          command,
		Args:             args,
		WorkDir:          r.opts.WorkDir,
		Keepalive:        r.opts.Keepalive,
		NamePollInterval: r.opts.NamePollInterval,
		Spawner:          r.opts.Spawner,
		Logger:           r.logger,
		OutputObserver:   observer,
		OnExpire:         r.expire,
		OnSpawn:          onSpawn,
	})
}

func (r *Registry) resolveCommand(tab int) (string, []string) {
	if r.opts.TabCommand != nil {
		if command, args := r.opts.TabCommand(tab); command != "" {
			return command, args
		}
	}
	return "/bin/bash", nil
}

// StartPrewarm speculatively starts the primary tab's session in the
// sentinel slot and arms the orphan timer. The engine observes the
// session's raw output to decide readiness.
func (r *Registry) StartPrewarm(engine Readiness) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[prewarmKey]; exists {
		return nil
	}

	r.readiness = engine
	var observer func([]byte)
	if engine != nil {
		observer = engine.ObserveOutput
	}
	s := r.newSessionLocked(prewarmKey, "", false, primaryTabIndex, observer)
	r.sessions[prewarmKey] = s
	if r.opts.OrphanTimeout > 0 {
		r.orphanTimer = time.AfterFunc(r.opts.OrphanTimeout, r.orphanExpired)
	}
	r.logger.Info("prewarm session starting",
		zap.Duration("orphan_timeout", r.opts.OrphanTimeout))
	go s.Start(80, 24)
	return s
}

// orphanExpired reclaims a pre-warmed session no client ever adopted.
func (r *Registry) orphanExpired() {
	r.mu.Lock()
	s, exists := r.sessions[prewarmKey]
	if exists {
		delete(r.sessions, prewarmKey)
	}
	r.orphanTimer = nil
	r.mu.Unlock()

	if exists {
		r.logger.Info("prewarm orphan expired, tearing down")
		s.Kill()
	}
}

// Delete kills and removes a session. Reports whether anything existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	s, exists := r.sessions[id]
	if exists {
		delete(r.sessions, id)
		r.updateGaugeLocked()
	}
	r.mu.Unlock()

	if exists {
		s.Kill()
	}
	return exists
}

// expire removes a session whose keepalive window elapsed. The process
// is already dead by the time this runs.
func (r *Registry) expire(id string) {
	r.mu.Lock()
	s, exists := r.sessions[id]
	if exists && !s.IsAlive() {
		delete(r.sessions, id)
		r.updateGaugeLocked()
	}
	r.mu.Unlock()
}

// CleanupDeadSessions removes entries with no process and no
// connections. Pre-warmed sessions awaiting adoption hold a live process
// and are untouched.
func (r *Registry) CleanupDeadSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.sessions {
		if s.IsAlive() {
			continue
		}
		delete(r.sessions, id)
		removed++
		if r.opts.Metrics != nil {
			r.opts.Metrics.ReapsTotal.Inc()
		}
		r.logger.Debug("reaped dead session", zap.String("session", id))
	}
	if removed > 0 {
		r.updateGaugeLocked()
	}
	return removed
}

// RunReaper drives CleanupDeadSessions on a fixed interval until the
// context is canceled.
func (r *Registry) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.CleanupDeadSessions()
		}
	}
}

// Get returns the session for id, if registered.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Count returns the number of registered sessions, sentinel included.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// AttachedConnCount sums attached connections across all sessions.
func (r *Registry) AttachedConnCount() int {
	total := 0
	for _, s := range r.snapshotSessions() {
		total += s.ConnCount()
	}
	return total
}

// LiveProcessCount counts sessions with a running process.
func (r *Registry) LiveProcessCount() int {
	count := 0
	for _, s := range r.snapshotSessions() {
		if s.Running() {
			count++
		}
	}
	return count
}

// List returns snapshots of all non-sentinel sessions.
func (r *Registry) List() []Info {
	infos := make([]Info, 0)
	for id, s := range r.snapshotMap() {
		if id == prewarmKey {
			continue
		}
		infos = append(infos, s.Snapshot())
	}
	return infos
}

// Shutdown kills every session. The reaper is stopped by canceling the
// context passed to RunReaper.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.orphanTimer != nil {
		r.orphanTimer.Stop()
		r.orphanTimer = nil
	}
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = make(map[string]*Session)
	r.updateGaugeLocked()
	r.mu.Unlock()

	for _, s := range all {
		s.Kill()
	}
}

// capacityCountLocked counts registered non-sentinel entries. A slot is
// held from registration, before any process spawns, so concurrent
// creates serialize against the limit under r.mu; dead entries release
// their slot when keepalive expiry or the reaper removes them.
func (r *Registry) capacityCountLocked() int {
	count := len(r.sessions)
	if _, ok := r.sessions[prewarmKey]; ok {
		count--
	}
	return count
}

func (r *Registry) snapshotSessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) snapshotMap() map[string]*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*Session, len(r.sessions))
	for id, s := range r.sessions {
		out[id] = s
	}
	return out
}

func (r *Registry) updateGaugeLocked() {
	if r.opts.Metrics != nil {
		r.opts.Metrics.SessionsActive.Set(float64(len(r.sessions)))
	}
}
