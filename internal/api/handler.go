// Package api exposes the plain-request control plane: health, session
// CRUD, and the idle-activity query consumed by the external supervisor.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/driftlock/termhub/internal/activity"
	"github.com/driftlock/termhub/internal/gateway"
	"github.com/driftlock/termhub/internal/metrics"
	"github.com/driftlock/termhub/internal/prewarm"
	"github.com/driftlock/termhub/internal/session"
)

// Handler routes control-plane requests to the session core.
type Handler struct {
	registry *session.Registry
	tracker  *activity.Tracker
	engine   *prewarm.Engine
	gateway  *gateway.Gateway
	metrics  *metrics.Metrics
	token    string
	logger   *zap.Logger
}

// NewHandler creates a Handler. engine may be nil when pre-warming is
// disabled; token empty disables the bearer check.
func NewHandler(registry *session.Registry, tracker *activity.Tracker, engine *prewarm.Engine, gw *gateway.Gateway, m *metrics.Metrics, token string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry: registry,
		tracker:  tracker,
		engine:   engine,
		gateway:  gw,
		metrics:  m,
		token:    token,
		logger:   logger,
	}
}

// Mount registers all routes on the provided router.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/terminal/ws", h.gateway.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/health", h.health)
		r.Get("/sessions", h.listSessions)
		r.Post("/sessions", h.createSession)
		r.Delete("/sessions/{id}", h.deleteSession)
		r.Get("/activity", h.getActivity)
		if h.metrics != nil {
			r.Handle("/metrics", h.metrics.Handler())
		}
	})
}

// requireAuth checks the bearer token against the configured shared
// secret. No secret configured means no check.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			header := r.Header.Get("Authorization")
			presented := strings.TrimPrefix(header, "Bearer ")
			if !strings.HasPrefix(header, "Bearer ") ||
				subtle.ConstantTimeCompare([]byte(presented), []byte(h.token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type healthResponse struct {
	Status       string `json:"status"`
	PrewarmReady bool   `json:"prewarm_ready"`
	Sessions     int    `json:"sessions"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ready := true
	if h.engine != nil {
		ready = h.engine.Ready()
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "ok",
		PrewarmReady: ready,
		Sessions:     h.registry.Count(),
	})
}

type sessionListResponse struct {
	Sessions []session.Info `json:"sessions"`
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	infos := h.registry.List()
	writeJSON(w, http.StatusOK, sessionListResponse{Sessions: infos})
}

type createSessionRequest struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Manual      bool   `json:"manual"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeError(w, http.StatusBadRequest, "id is required", "")
		return
	}

	name := gateway.SanitizeDisplayName(req.DisplayName)
	sess, err := h.registry.GetOrCreate(req.ID, name, req.Manual)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrCapacityExceeded):
			writeError(w, http.StatusTooManyRequests, "session limit reached", "")
		case errors.Is(err, session.ErrInvalidID):
			writeError(w, http.StatusBadRequest, "invalid session id", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to create session", err.Error())
		}
		return
	}

	h.logger.Info("session created via api", zap.String("session", sess.ID()))
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.registry.Delete(id) {
		writeError(w, http.StatusNotFound, "session not found", "")
		return
	}
	h.logger.Info("session deleted via api", zap.String("session", id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.Snapshot(h.registry))
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message, details string) {
	writeJSON(w, code, errorResponse{Error: message, Details: details})
}
