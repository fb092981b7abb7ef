package host

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/webext/internal/auth"
	"github.com/danmuck/webext/internal/logging"
	"github.com/danmuck/webext/internal/observability"
	"github.com/danmuck/webext/internal/protocol/endpoint"
	"github.com/danmuck/webext/internal/protocol/frame"
	"github.com/danmuck/webext/internal/protocol/session"
	"github.com/danmuck/webext/internal/registry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerView is the admin JSON shape of one registry entry.
type WorkerView struct {
	ID          uint32          `json:"id"`
	State       string          `json:"state"`
	PeerPID     int             `json:"peer_pid,omitempty"`
	ConnectedAt time.Time       `json:"connected_at"`
	ReadyAt     *time.Time      `json:"ready_at,omitempty"`
	Pending     int             `json:"pending"`
	Stats       *endpoint.Stats `json:"stats,omitempty"`
}

type statser interface {
	Stats() endpoint.Stats
}

func (s *Service) view(e registry.Entry) WorkerView {
	v := WorkerView{
		ID:          e.ID,
		State:       e.State.String(),
		PeerPID:     e.PeerPID,
		ConnectedAt: e.ConnectedAt,
		Pending:     s.outbox.Len(e.ID),
	}
	if !e.ReadyAt.IsZero() {
		at := e.ReadyAt
		v.ReadyAt = &at
	}
	if st, ok := e.Endpoint.(statser); ok {
		stats := st.Stats()
		v.Stats = &stats
	}
	return v
}

// AdminHandler serves the local admin surface: health, worker listing,
// forced disconnects and Prometheus metrics.
func (s *Service) AdminHandler() http.Handler {
	observability.RegisterMetrics()
	started := time.Now()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestLogger(logging.For("admin")))
	r.Use(observability.RequestMetrics)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		counts := s.reg.Counts()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"uptime":     time.Since(started).String(),
			"component":  "webext-host",
			"connecting": counts[registry.StateConnecting],
			"ready":      counts[registry.StateReady],
			"channels":   s.hub.Names(),
		})
	})
	r.Group(func(r chi.Router) {
		if s.cfg.AdminToken != "" {
			r.Use(auth.Middleware(auth.StaticToken{Token: s.cfg.AdminToken}))
		}
		s.workerRoutes(r)
		r.Handle("/metrics", promhttp.Handler())
	})
	return r
}

func (s *Service) workerRoutes(r chi.Router) {
	r.Get("/workers", func(w http.ResponseWriter, _ *http.Request) {
		entries := s.reg.Snapshot()
		out := make([]WorkerView, 0, len(entries))
		for _, e := range entries {
			out = append(out, s.view(e))
		}
		writeJSON(w, http.StatusOK, map[string]any{"workers": out})
	})
	r.Get("/workers/pending", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"pending": s.outbox.List()})
	})
	r.Route("/workers/{id}", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			id, ok := workerID(w, req)
			if !ok {
				return
			}
			e, found := s.reg.Lookup(id)
			if !found {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "worker not found"})
				return
			}
			writeJSON(w, http.StatusOK, s.view(e))
		})
		r.Delete("/", func(w http.ResponseWriter, req *http.Request) {
			id, ok := workerID(w, req)
			if !ok {
				return
			}
			if err := s.Disconnect(id); err != nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
		r.Post("/messages/{kind}", s.handleSendMessage)
	})
}

// handleSendMessage sends a JSON array body as the values of one message.
// Messages for a worker that is not Ready yet are queued like Send.
func (s *Service) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := workerID(w, r)
	if !ok {
		return
	}
	kind, ok := frame.ParseKind(chi.URLParam(r, "kind"))
	if !ok || kind == frame.KindExtensionInit {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid message kind"})
		return
	}
	var values []any
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, int64(s.cfg.Limits.MaxPayloadBytes))).Decode(&values); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be a JSON array"})
			return
		}
	}

	err := s.Send(id, kind, values...)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{"worker": id, "kind": kind.String(), "values": len(values)})
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, ErrDisconnected):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, session.ErrOutboxFull):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case errors.Is(err, endpoint.ErrEncode):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func workerID(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid worker id"})
		return 0, false
	}
	return uint32(id), true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
