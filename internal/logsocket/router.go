package logsocket

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/lawnchairsociety/logsocket/internal/database"
	"github.com/lawnchairsociety/logsocket/internal/logger"
	"github.com/lawnchairsociety/logsocket/internal/protocol"
)

// SessionLister exposes recent sessions over HTTP.
type SessionLister interface {
	ListSessions(limit int) ([]database.Session, error)
}

const defaultSessionLimit = 50

// NewRouter mounts the socket, file and page endpoints. sessions may be nil.
func NewRouter(h *Handler, fh *FileHandler, sessions SessionLister) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		total, ips := h.Stats()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"sockets": total,
			"clients": ips,
		})
	})

	r.Get(protocol.SocketPath, h.ServeHTTP)
	r.Get(protocol.FilePathPrefix+"*", fh.ServeHTTP)
	r.Get(protocol.PagePathPrefix+"*", NewPageHandler(fh.root).ServeHTTP)

	if sessions != nil {
		r.Get("/api/servers/sessions", func(w http.ResponseWriter, r *http.Request) {
			limit := defaultSessionLimit
			if v := r.URL.Query().Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 {
					http.Error(w, "invalid limit", http.StatusBadRequest)
					return
				}
				limit = n
			}
			list, err := sessions.ListSessions(limit)
			if err != nil {
				logger.Error("Failed to list sessions", "error", err)
				http.Error(w, "sessions unavailable", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, list)
		})
	}

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("Response write failed", "error", err)
	}
}

// requestLogger logs each request through the process logger. Upgraded
// sockets are logged when the upgrade returns, not when they close.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
			"duration", time.Since(start))
	})
}
