// Package activity aggregates heterogeneous liveness signals into a
// single idle report for an external supervisor. This core never shuts
// anything down on its own; it only reports.
package activity

import (
	"sync"
	"time"
)

// RegistryView is the slice of the session registry the report needs.
type RegistryView interface {
	Count() int
	AttachedConnCount() int
	LiveProcessCount() int
}

// Tracker holds two independently updated timestamps. Typed input and
// the background directory probe each advance exactly one of them,
// never the other.
type Tracker struct {
	mu             sync.Mutex
	lastUserInput  time.Time
	lastBackground time.Time
}

// NewTracker starts both clocks at process start so "ms since" values
// are meaningful before the first event.
func NewTracker() *Tracker {
	now := time.Now()
	return &Tracker{lastUserInput: now, lastBackground: now}
}

// RecordUserInput marks a classified-as-input frame. Resize frames must
// not reach this.
func (t *Tracker) RecordUserInput() {
	t.mu.Lock()
	t.lastUserInput = time.Now()
	t.mu.Unlock()
}

// RecordBackgroundActivity marks a detected on-disk agent-tool change.
func (t *Tracker) RecordBackgroundActivity() {
	t.mu.Lock()
	t.lastBackground = time.Now()
	t.mu.Unlock()
}

// LastUserInputAt returns the user-input timestamp.
func (t *Tracker) LastUserInputAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastUserInput
}

// LastBackgroundActivityAt returns the background-activity timestamp.
func (t *Tracker) LastBackgroundActivityAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastBackground
}

// Report is the idle-activity query result. Safe to request arbitrarily
// often; it performs no mutation.
type Report struct {
	AnyAttached       bool   `json:"any_attached"`
	Connections       int    `json:"connections"`
	LiveProcesses     int    `json:"live_processes"`
	Sessions          int    `json:"sessions"`
	MsSinceUserInput  int64  `json:"ms_since_user_input"`
	MsSinceBackground int64  `json:"ms_since_background_activity"`
	LastUserInputAt   string `json:"last_user_input_at"`
	LastBackgroundAt  string `json:"last_background_activity_at"`
}

// Snapshot builds a Report from the tracker and the registry view.
func (t *Tracker) Snapshot(view RegistryView) Report {
	t.mu.Lock()
	userInput := t.lastUserInput
	background := t.lastBackground
	t.mu.Unlock()

	now := time.Now()
	conns := view.AttachedConnCount()
	return Report{
		AnyAttached:       conns > 0,
		Connections:       conns,
		LiveProcesses:     view.LiveProcessCount(),
		Sessions:          view.Count(),
		MsSinceUserInput:  now.Sub(userInput).Milliseconds(),
		MsSinceBackground: now.Sub(background).Milliseconds(),
		LastUserInputAt:   userInput.Format(time.RFC3339),
		LastBackgroundAt:  background.Format(time.RFC3339),
	}
}
