package terminal

import (
	"encoding/json"

	"github.com/ricochet1k/termemu"
)

// StateBuffer wraps a termemu terminal, exposing only the operations the
// session core needs: resize, snapshot, and a serialized restore blob.
// The terminal itself consumes PTY output through its backend; callers
// never feed it bytes directly.
type StateBuffer struct {
	term termemu.Terminal
}

// NewStateBuffer wraps an already constructed termemu terminal.
func NewStateBuffer(term termemu.Terminal) *StateBuffer {
	return &StateBuffer{term: term}
}

// Resize resizes the emulated screen and the PTY beneath it in one call,
// keeping both in sync so later snapshots have the right shape.
func (b *StateBuffer) Resize(cols, rows int) error {
	if b == nil || b.term == nil {
		return nil
	}
	return b.term.Resize(cols, rows)
}

// Write forwards input bytes to the process attached to the terminal.
func (b *StateBuffer) Write(p []byte) (int, error) {
	if b == nil || b.term == nil {
		return len(p), nil
	}
	return b.term.Write(p)
}

// Snapshot captures the current screen contents. The second return is
// false when the terminal has no usable dimensions yet.
func (b *StateBuffer) Snapshot() (Snapshot, bool) {
	if b == nil || b.term == nil {
		return Snapshot{}, false
	}
	var snapshot Snapshot
	b.term.WithLock(func() {
		w, h := b.term.Size()
		if w <= 0 || h <= 0 {
			return
		}
		lines := make([]string, h)
		for y := 0; y < h; y++ {
			lines[y] = b.term.Line(y)
		}
		snapshot = Snapshot{Rows: h, Cols: w, Lines: lines}
	})
	if snapshot.Rows == 0 || snapshot.Cols == 0 {
		return Snapshot{}, false
	}
	return snapshot, true
}

// SerializeState renders the snapshot as restore-frame JSON. The second
// return is false when there is no state worth replaying.
func (b *StateBuffer) SerializeState() (json.RawMessage, bool) {
	snap, ok := b.Snapshot()
	if !ok {
		return nil, false
	}
	blob, err := json.Marshal(snap)
	if err != nil {
		return nil, false
	}
	return blob, true
}

// quietFrontend satisfies the termemu frontend interface without doing
// anything. Clients render from raw PTY bytes; the emulated screen is
// consulted only when a snapshot is requested.
type quietFrontend struct{}

// NewQuietFrontend returns a frontend that discards all change callbacks.
func NewQuietFrontend() termemu.Frontend { return quietFrontend{} }

func (quietFrontend) Bell()                                                   {}
func (quietFrontend) RegionChanged(termemu.Region, termemu.ChangeReason)      {}
func (quietFrontend) ScrollLines(int)                                         {}
func (quietFrontend) CursorMoved(int, int)                                    {}
func (quietFrontend) StyleChanged(termemu.Style)                              {}
func (quietFrontend) ViewFlagChanged(flag termemu.ViewFlag, value bool)       {}
func (quietFrontend) ViewIntChanged(flag termemu.ViewInt, value int)          {}
func (quietFrontend) ViewStringChanged(flag termemu.ViewString, value string) {}
