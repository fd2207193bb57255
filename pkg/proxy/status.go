package proxy

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbgp-dev/dbgpd/pkg/logger"
	"github.com/dbgp-dev/dbgpd/pkg/session"
)

// sessionInfo is the status-API view of one live session.
type sessionInfo struct {
	Key             string    `json:"key"`
	IDEKey          string    `json:"idekey"`
	AppID           string    `json:"appid,omitempty"`
	Language        string    `json:"language,omitempty"`
	State           string    `json:"state"`
	EngineAddr      string    `json:"engine_addr"`
	IDEAddr         string    `json:"ide_addr"`
	CreatedAt       time.Time `json:"created_at"`
	PendingCommands int       `json:"pending_commands"`
	// OldestPendingMS surfaces stalled sessions: the age in milliseconds of
	// the longest-unanswered command, if any.
	OldestPendingMS int64 `json:"oldest_pending_ms,omitempty"`
}

func describeSession(s *session.Session) sessionInfo {
	info := sessionInfo{
		Key:             s.Key(),
		IDEKey:          s.IDEKey(),
		State:           s.State().String(),
		EngineAddr:      s.EngineAddr().String(),
		IDEAddr:         s.IDEAddr().String(),
		CreatedAt:       s.CreatedAt(),
		PendingCommands: s.Tracker().PendingCount(),
	}
	if init := s.Init(); init != nil {
		info.AppID = init.AppID
		info.Language = init.Language
	}
	if _, age, ok := s.Tracker().OldestPending(); ok {
		info.OldestPendingMS = age.Milliseconds()
	}
	return info
}

// registrationInfo is the status-API view of one IDE registration.
type registrationInfo struct {
	IDEKey       string    `json:"idekey"`
	Address      string    `json:"address"`
	Multi        bool      `json:"multi"`
	RegisteredAt time.Time `json:"registered_at"`
	LiveSessions int       `json:"live_sessions"`
}

// statusHandler builds the HTTP status API: prometheus metrics plus
// read-and-kill visibility into sessions and registrations.
func (p *Proxy) statusHandler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.promRegistry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/sessions", func(w http.ResponseWriter, _ *http.Request) {
			sessions := p.sessions.List()
			out := make([]sessionInfo, 0, len(sessions))
			for _, s := range sessions {
				out = append(out, describeSession(s))
			}
			writeJSON(w, http.StatusOK, out)
		})
		r.Delete("/sessions/{key}", func(w http.ResponseWriter, req *http.Request) {
			key := chi.URLParam(req, "key")
			if err := p.sessions.Kill(key); err != nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
				return
			}
			logger.Infow("session killed via status API", "session", key)
			w.WriteHeader(http.StatusNoContent)
		})
		r.Get("/registrations", func(w http.ResponseWriter, _ *http.Request) {
			keys := p.registry.Keys()
			out := make([]registrationInfo, 0, len(keys))
			for _, k := range keys {
				b, ok := p.registry.Lookup(k)
				if !ok {
					continue
				}
				out = append(out, registrationInfo{
					IDEKey:       b.Key,
					Address:      b.Address,
					Multi:        b.Multi,
					RegisteredAt: b.RegisteredAt,
					LiveSessions: b.Live(),
				})
			}
			writeJSON(w, http.StatusOK, out)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debugw("encoding status response", "error", err)
	}
}
