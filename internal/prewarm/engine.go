// Package prewarm decides when a speculatively started terminal session
// has settled enough to hand to the first real client.
package prewarm

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Engine is a one-shot state machine: WARMING until the transition rule
// fires, then READY forever. It never re-fires.
type Engine struct {
	params      Params
	hardTimeout time.Duration
	poll        time.Duration
	logger      *zap.Logger

	mu         sync.Mutex
	startedAt  time.Time
	lastOutput time.Time
	ready      bool

	done chan struct{}
}

// NewEngine constructs an engine with the given parameters. poll is the
// evaluation interval; hardTimeout is the never-block-forever valve.
func NewEngine(params Params, hardTimeout, poll time.Duration, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	if hardTimeout <= 0 {
		hardTimeout = 20 * time.Second
	}
	return &Engine{
		params:      params,
		hardTimeout: hardTimeout,
		poll:        poll,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// Start begins the warm-up clock and the poll loop. Call once, at the
// same moment the speculative session is started.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	now := time.Now()
	e.startedAt = now
	e.lastOutput = now
	e.mu.Unlock()

	go e.run(ctx)
}

func (e *Engine) run(ctx context.Context) {
	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-ticker.C:
			e.evaluate(time.Now())
		}
	}
}

func (e *Engine) evaluate(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return
	}
	sinceStart := now.Sub(e.startedAt)
	sinceOutput := now.Sub(e.lastOutput)

	switch {
	case sinceStart >= e.params.Quiescence && sinceOutput >= e.params.Quiescence:
		e.setReadyLocked("quiescence")
	case sinceStart >= e.hardTimeout:
		e.setReadyLocked("hard timeout")
	}
}

// ObserveOutput feeds a live PTY output chunk into the quiescence clock
// and, when a ready pattern is configured, matches it immediately so
// tools that never go silent still report ready.
func (e *Engine) ObserveOutput(chunk []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return
	}
	e.lastOutput = time.Now()
	if e.params.ReadyPattern != nil && e.params.ReadyPattern.Match(chunk) {
		e.setReadyLocked("ready pattern")
	}
}

// ForceReady satisfies readiness immediately. Adoption calls this: an
// adopted session is by definition no longer pre-warm. An attach during
// warm-up resolves the same way.
func (e *Engine) ForceReady() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return
	}
	e.setReadyLocked("forced")
}

func (e *Engine) setReadyLocked(reason string) {
	e.ready = true
	close(e.done)
	e.logger.Info("prewarm ready", zap.String("reason", reason))
}

// Ready reports whether the engine has reached its terminal state.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// Done is closed once READY; the poll loop exits with it.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}
