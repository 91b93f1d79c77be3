package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeReadiness counts readiness callbacks from the registry.
type fakeReadiness struct {
	observed atomic.Int64
	forced   atomic.Int64
}

func (f *fakeReadiness) ObserveOutput(chunk []byte) { f.observed.Add(1) }
func (f *fakeReadiness) ForceReady()                { f.forced.Add(1) }

func newTestRegistry(maxSessions int) *Registry {
	return NewRegistry(RegistryOptions{
		MaxSessions: maxSessions,
		MaxTabs:     6,
		Keepalive:   time.Hour,
		Spawner: func(spec SpawnSpec) (Proc, error) {
			return &fakeProc{}, nil
		},
	})
}

func TestParseID(t *testing.T) {
	cases := []struct {
		id   string
		base string
		tab  int
		ok   bool
	}{
		{"workspace-1", "workspace", 1, true},
		{"two-part-id-3", "two-part-id", 3, true},
		{"abc-99", "abc", 99, true},
		{"noindex", "", 0, false},
		{"-1", "", 0, false},
		{"abc-", "", 0, false},
		{"abc-x", "", 0, false},
		{"", "", 0, false},
	}
	for _, tc := range cases {
		base, tab, ok := ParseID(tc.id)
		if ok != tc.ok || base != tc.base || tab != tc.tab {
			t.Errorf("ParseID(%q) = (%q, %d, %v), want (%q, %d, %v)",
				tc.id, base, tab, ok, tc.base, tc.tab, tc.ok)
		}
	}
}

func TestGetOrCreateRejectsInvalidIDs(t *testing.T) {
	r := newTestRegistry(12)
	for _, id := range []string{"", "noindex", "ws-0", "ws-7", "ws-abc"} {
		if _, err := r.GetOrCreate(id, "", false); !errors.Is(err, ErrInvalidID) {
			t.Errorf("GetOrCreate(%q) err = %v, want ErrInvalidID", id, err)
		}
	}
}

func TestGetOrCreateReturnsExisting(t *testing.T) {
	r := newTestRegistry(12)
	a, err := r.GetOrCreate("ws-1", "Terminal", false)
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.GetOrCreate("ws-1", "Other", false)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("second GetOrCreate returned a different session")
	}
}

func TestCapacitySlotHeldFromRegistration(t *testing.T) {
	r := newTestRegistry(2)

	// Neither session has started a process yet; the slot is held anyway.
	a, _ := r.GetOrCreate("ws-1", "", false)
	if _, err := r.GetOrCreate("ws-2", "", false); err != nil {
		t.Fatal(err)
	}

	if _, err := r.GetOrCreate("ws-3", "", false); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}

	// A dead entry frees its slot once the reaper removes it.
	a.Start(80, 24)
	a.handleExit(ExitInfo{Code: 0})
	r.CleanupDeadSessions()
	if _, err := r.GetOrCreate("ws-4", "", false); err != nil {
		t.Fatalf("create after reap: %v", err)
	}
}

func TestCapacityUnderConcurrentCreates(t *testing.T) {
	r := newTestRegistry(2)

	ids := []string{"a-1", "b-1", "c-1", "d-1", "e-1", "f-1"}
	var wg sync.WaitGroup
	var created, rejected atomic.Int64
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s, err := r.GetOrCreate(id, "", false)
			switch {
			case err == nil:
				s.Start(80, 24)
				created.Add(1)
			case errors.Is(err, ErrCapacityExceeded):
				rejected.Add(1)
			default:
				t.Errorf("GetOrCreate(%q): %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	if created.Load() != 2 || rejected.Load() != 4 {
		t.Fatalf("created %d, rejected %d, want 2 and 4", created.Load(), rejected.Load())
	}
	if n := r.Count(); n != 2 {
		t.Fatalf("registry holds %d sessions, want 2", n)
	}
	if n := r.LiveProcessCount(); n != 2 {
		t.Fatalf("%d live processes, want 2", n)
	}
}

func TestPrewarmAdoptionHappensExactlyOnce(t *testing.T) {
	r := newTestRegistry(12)
	ready := &fakeReadiness{}
	warm := r.StartPrewarm(ready)
	if warm == nil {
		t.Fatal("StartPrewarm returned nil")
	}
	waitFor(t, time.Second, func() bool { return warm.Running() })

	const goroutines = 16
	results := make([]*Session, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.GetOrCreate("ws-1", "Terminal", false)
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			results[i] = s
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent GetOrCreate returned different sessions")
		}
	}
	if results[0] != warm {
		t.Fatal("adoption did not hand out the pre-warmed session")
	}
	if got := warm.ID(); got != "ws-1" {
		t.Fatalf("adopted session id = %q", got)
	}
	if n := ready.forced.Load(); n != 1 {
		t.Fatalf("ForceReady called %d times, want 1", n)
	}
	if _, exists := r.Get("__prewarm__"); exists {
		t.Fatal("sentinel entry survived adoption")
	}
}

func TestPrewarmNotAdoptedBySecondaryTab(t *testing.T) {
	r := newTestRegistry(12)
	warm := r.StartPrewarm(&fakeReadiness{})
	waitFor(t, time.Second, func() bool { return warm.Running() })

	s, err := r.GetOrCreate("ws-2", "", false)
	if err != nil {
		t.Fatal(err)
	}
	if s == warm {
		t.Fatal("secondary tab adopted the pre-warmed session")
	}
	if _, exists := r.Get("__prewarm__"); !exists {
		t.Fatal("sentinel should still be waiting for a primary tab")
	}
}

func TestPrewarmSessionDoesNotCountTowardCapacity(t *testing.T) {
	r := NewRegistry(RegistryOptions{
		MaxSessions: 1,
		MaxTabs:     6,
		Spawner: func(spec SpawnSpec) (Proc, error) {
			return &fakeProc{}, nil
		},
	})
	warm := r.StartPrewarm(&fakeReadiness{})
	waitFor(t, time.Second, func() bool { return warm.Running() })

	s, err := r.GetOrCreate("ws-2", "", false)
	if err != nil {
		t.Fatalf("create alongside sentinel: %v", err)
	}
	s.Start(80, 24)

	if _, err := r.GetOrCreate("ws-3", "", false); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}
}

func TestOrphanedPrewarmIsTornDown(t *testing.T) {
	r := NewRegistry(RegistryOptions{
		MaxSessions:   12,
		MaxTabs:       6,
		OrphanTimeout: 20 * time.Millisecond,
		Spawner: func(spec SpawnSpec) (Proc, error) {
			return &fakeProc{}, nil
		},
	})
	warm := r.StartPrewarm(&fakeReadiness{})
	waitFor(t, time.Second, func() bool { return warm.Running() })

	waitFor(t, time.Second, func() bool {
		_, exists := r.Get("__prewarm__")
		return !exists
	})
	waitFor(t, time.Second, func() bool { return !warm.IsAlive() })
}

func TestCleanupDeadSessionsSparesLiveOnes(t *testing.T) {
	r := newTestRegistry(12)

	live, _ := r.GetOrCreate("ws-1", "", false)
	live.Start(80, 24)
	dead, _ := r.GetOrCreate("ws-2", "", false)
	dead.Start(80, 24)
	dead.handleExit(ExitInfo{Code: 0})

	warm := r.StartPrewarm(&fakeReadiness{})
	waitFor(t, time.Second, func() bool { return warm.Running() })

	removed := r.CleanupDeadSessions()
	if removed != 1 {
		t.Fatalf("removed %d sessions, want 1", removed)
	}
	if _, exists := r.Get("ws-1"); !exists {
		t.Fatal("live session was reaped")
	}
	if _, exists := r.Get("ws-2"); exists {
		t.Fatal("dead session survived the reaper")
	}
	if _, exists := r.Get("__prewarm__"); !exists {
		t.Fatal("pre-warmed session was reaped")
	}
}

func TestDelete(t *testing.T) {
	r := newTestRegistry(12)
	s, _ := r.GetOrCreate("ws-1", "", false)
	s.Start(80, 24)

	if !r.Delete("ws-1") {
		t.Fatal("Delete reported missing session")
	}
	if s.IsAlive() {
		t.Fatal("deleted session still alive")
	}
	if r.Delete("ws-1") {
		t.Fatal("second Delete reported success")
	}
}

func TestListSkipsSentinel(t *testing.T) {
	r := newTestRegistry(12)
	warm := r.StartPrewarm(&fakeReadiness{})
	waitFor(t, time.Second, func() bool { return warm.Running() })
	if _, err := r.GetOrCreate("ws-2", "Build", true); err != nil {
		t.Fatal(err)
	}

	infos := r.List()
	if len(infos) != 1 {
		t.Fatalf("List returned %d entries, want 1", len(infos))
	}
	if infos[0].ID != "ws-2" {
		t.Fatalf("unexpected listing: %+v", infos[0])
	}
}

func TestShutdownKillsEverything(t *testing.T) {
	r := newTestRegistry(12)
	a, _ := r.GetOrCreate("ws-1", "", false)
	a.Start(80, 24)
	b, _ := r.GetOrCreate("ws-2", "", false)
	b.Start(80, 24)

	r.Shutdown()

	if a.IsAlive() || b.IsAlive() {
		t.Fatal("sessions survived shutdown")
	}
	if r.Count() != 0 {
		t.Fatalf("registry holds %d sessions after shutdown", r.Count())
	}
}
