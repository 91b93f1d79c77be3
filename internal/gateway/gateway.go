// Package gateway accepts duplex terminal connections, resolves them to
// sessions, and splits the inbound stream into control messages and raw
// terminal input.
package gateway

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/driftlock/termhub/internal/activity"
	"github.com/driftlock/termhub/internal/metrics"
	"github.com/driftlock/termhub/internal/session"
)

// Application close codes on the terminal websocket.
const (
	CloseMissingSession   = 4400
	CloseCapacityExceeded = 4503
)

const (
	maxDisplayNameLen  = 32
	defaultDisplayName = "Terminal"
)

var displayNameUnsafe = regexp.MustCompile(`[^a-zA-Z0-9 _.-]+`)

// Gateway bridges websocket connections to the session registry.
type Gateway struct {
	registry *session.Registry
	tracker  *activity.Tracker
	metrics  *metrics.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New creates a Gateway. tracker and m may be nil.
func New(registry *session.Registry, tracker *activity.Tracker, m *metrics.Metrics, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		registry: registry,
		tracker:  tracker,
		metrics:  m,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS upgrades the request and attaches it to the session named by
// the query parameters. Rejections use defined close codes so clients
// see a definite outcome rather than a silent drop.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("session")
	name := SanitizeDisplayName(q.Get("name"))
	manual := q.Get("manual") == "true"
	cols, _ := strconv.Atoi(q.Get("cols"))
	rows, _ := strconv.Atoi(q.Get("rows"))

	raw, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := newWSConn(raw)

	if id == "" {
		conn.closeWith(CloseMissingSession, "session id required")
		return
	}

	sess, err := g.registry.GetOrCreate(id, name, manual)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrCapacityExceeded):
			conn.closeWith(CloseCapacityExceeded, "session limit reached")
		case errors.Is(err, session.ErrInvalidID):
			conn.closeWith(CloseMissingSession, "invalid session id")
		default:
			conn.closeWith(websocket.CloseInternalServerErr, "failed to resolve session")
		}
		return
	}

	if g.metrics != nil {
		g.metrics.ConnectionsActive.Inc()
	}
	g.logger.Debug("connection attached",
		zap.String("session", id),
		zap.String("conn", conn.ID()))

	sess.Attach(conn, cols, rows)
	g.readLoop(conn, sess)

	conn.stop()
	sess.Detach(conn)
	if g.metrics != nil {
		g.metrics.ConnectionsActive.Dec()
	}
	g.logger.Debug("connection detached",
		zap.String("session", id),
		zap.String("conn", conn.ID()))
}

func (g *Gateway) readLoop(conn *wsConn, sess *session.Session) {
	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			return
		}
		if len(data) == 0 {
			continue
		}
		g.dispatch(sess, Classify(data))
	}
}

// dispatch applies one classified frame. Resize frames are control only
// and do not count as user input; everything else is typed input.
func (g *Gateway) dispatch(sess *session.Session, frame Frame) {
	switch frame.Kind {
	case FrameResize:
		sess.Resize(frame.Cols, frame.Rows)
		return
	case FrameData:
		sess.Write([]byte(frame.Data))
	default:
		sess.Write(frame.Raw)
	}
	if g.tracker != nil {
		g.tracker.RecordUserInput()
	}
}

// SanitizeDisplayName restricts tab names to a safe character set,
// truncates, and substitutes a default when nothing survives.
func SanitizeDisplayName(name string) string {
	name = displayNameUnsafe.ReplaceAllString(name, "")
	if len(name) > maxDisplayNameLen {
		name = name[:maxDisplayNameLen]
	}
	if name == "" {
		return defaultDisplayName
	}
	return name
}
