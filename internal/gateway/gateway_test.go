package gateway

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/driftlock/termhub/internal/activity"
	"github.com/driftlock/termhub/internal/session"
)

type recordingProc struct {
	mu     sync.Mutex
	writes []string
	cols   int
	rows   int
}

func (p *recordingProc) Pid() int { return 1 }

func (p *recordingProc) Write(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, string(b))
	return nil
}

func (p *recordingProc) Resize(cols, rows int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cols, p.rows = cols, rows
	return nil
}

func (p *recordingProc) SerializeState() (json.RawMessage, bool) { return nil, false }
func (p *recordingProc) ForegroundName() string                  { return "" }
func (p *recordingProc) Kill()                                   {}

type dispatchFixture struct {
	g       *Gateway
	sess    *session.Session
	proc    *recordingProc
	tracker *activity.Tracker
	reg     *session.Registry
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	proc := &recordingProc{}
	tracker := activity.NewTracker()
	reg := session.NewRegistry(session.RegistryOptions{
		MaxSessions: 4,
		MaxTabs:     6,
		Spawner: func(spec session.SpawnSpec) (session.Proc, error) {
			return proc, nil
		},
	})
	g := New(reg, tracker, nil, nil)
	sess, err := reg.GetOrCreate("ws-1", "Terminal", false)
	if err != nil {
		t.Fatal(err)
	}
	sess.Start(80, 24)
	return &dispatchFixture{g: g, sess: sess, proc: proc, tracker: tracker, reg: reg}
}

func TestDispatchRawInput(t *testing.T) {
	f := newDispatchFixture(t)

	time.Sleep(50 * time.Millisecond)
	f.g.dispatch(f.sess, Classify([]byte("ls -la\r")))

	f.proc.mu.Lock()
	got := strings.Join(f.proc.writes, "")
	f.proc.mu.Unlock()
	if got != "ls -la\r" {
		t.Fatalf("proc received %q", got)
	}
	if ms := f.tracker.Snapshot(f.reg).MsSinceUserInput; ms > 45 {
		t.Fatalf("raw input did not register as user activity (%dms ago)", ms)
	}
}

func TestDispatchDataPayload(t *testing.T) {
	f := newDispatchFixture(t)

	f.g.dispatch(f.sess, Classify([]byte(`{"type":"data","data":"echo hi\r"}`)))

	f.proc.mu.Lock()
	got := strings.Join(f.proc.writes, "")
	f.proc.mu.Unlock()
	if got != "echo hi\r" {
		t.Fatalf("proc received %q", got)
	}
}

func TestDispatchResizeIsControlOnly(t *testing.T) {
	f := newDispatchFixture(t)

	time.Sleep(20 * time.Millisecond)
	f.g.dispatch(f.sess, Classify([]byte(`{"type":"resize","cols":132,"rows":50}`)))

	f.proc.mu.Lock()
	cols, rows, writes := f.proc.cols, f.proc.rows, len(f.proc.writes)
	f.proc.mu.Unlock()
	if cols != 132 || rows != 50 {
		t.Fatalf("pty size %dx%d, want 132x50", cols, rows)
	}
	if writes != 0 {
		t.Fatal("resize was forwarded as input")
	}
	if ms := f.tracker.Snapshot(f.reg).MsSinceUserInput; ms < 15 {
		t.Fatal("resize counted as user input")
	}
}

func TestDispatchUnknownControlFallsThroughAsInput(t *testing.T) {
	f := newDispatchFixture(t)

	raw := `{"type":"ping"}`
	f.g.dispatch(f.sess, Classify([]byte(raw)))

	f.proc.mu.Lock()
	got := strings.Join(f.proc.writes, "")
	f.proc.mu.Unlock()
	if got != raw {
		t.Fatalf("proc received %q, want the original bytes", got)
	}
}

func TestSanitizeDisplayName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Terminal 1", "Terminal 1"},
		{"build.sh", "build.sh"},
		{"<script>x</script>", "scriptxscript"},
		{"", "Terminal"},
		{"$(rm -rf)", "rm -rf"},
		{strings.Repeat("a", 64), strings.Repeat("a", 32)},
		{"日本語", "Terminal"},
	}
	for _, tc := range cases {
		if got := SanitizeDisplayName(tc.in); got != tc.want {
			t.Errorf("SanitizeDisplayName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
