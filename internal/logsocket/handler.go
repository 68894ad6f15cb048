// Package logsocket serves service logs over WebSocket with RTS/CTS flow
// control, plus a plain-text download of the whole file.
package logsocket

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lawnchairsociety/logsocket/internal/config"
	"github.com/lawnchairsociety/logsocket/internal/logger"
)

// closeGrace bounds how long a closing socket waits for the peer's close frame.
const closeGrace = time.Second

// SessionStore records one entry per streamed subscription.
type SessionStore interface {
	StartSession(server, remoteAddr string) (string, error)
	EndSession(id string, rowsSent int64, reason string) error
}

// HandlerOption customises a Handler.
type HandlerOption func(*Handler)

// WithSessionStore enables the session audit trail.
func WithSessionStore(store SessionStore) HandlerOption {
	return func(h *Handler) {
		h.sessions = store
	}
}

// WithLogger overrides the package logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.log = l
	}
}

// Handler accepts log socket connections.
type Handler struct {
	ws       config.WebSocketConfig
	logs     config.LogsConfig
	limiter  *ConnLimiter
	probes   *ProbeLimiter
	sessions SessionStore
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu       sync.Mutex
	active   map[*conn]struct{}
	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHandler builds the socket handler from the daemon configuration.
func NewHandler(cfg *config.Config, opts ...HandlerOption) *Handler {
	h := &Handler{
		ws:       cfg.WebSocket,
		logs:     cfg.Logs,
		limiter:  NewConnLimiter(cfg.Connections),
		probes:   NewProbeLimiter(cfg.Connections.ProbeLimit),
		log:      logger.Logger(),
		active:   make(map[*conn]struct{}),
		shutdown: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			allowed := h.ws.IsOriginAllowed(origin, r.Host)
			if !allowed {
				h.log.Warn("Log socket rejected - origin not allowed",
					"origin", origin,
					"host", r.Host,
					"remote_addr", r.RemoteAddr)
			}
			return allowed
		},
	}
	return h
}

// rejected records a refused subscription against ip.
func (h *Handler) rejected(ip string) {
	if locked, d := h.probes.RecordFailure(ip); locked {
		h.log.Warn("Client locked out after rejected subscriptions", "client_ip", ip, "lockout", d)
	}
}

// Stats returns the number of open sockets and of distinct client IPs.
func (h *Handler) Stats() (total int, ips int) {
	return h.limiter.GetStats()
}

// ServeHTTP upgrades the request and serves the socket until either side closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	select {
	case <-h.shutdown:
		http.Error(w, "Server is shutting down.", http.StatusServiceUnavailable)
		return
	default:
	}

	if locked, remaining := h.probes.IsLocked(ip); locked {
		h.log.Warn("Log socket rejected - locked out",
			"client_ip", ip,
			"remaining", remaining)
		w.Header().Set("Retry-After", strconv.Itoa(int(remaining.Seconds())+1))
		http.Error(w, "Too many rejected subscriptions. Please try again later.", http.StatusTooManyRequests)
		return
	}

	if !h.limiter.TryAcquire(ip) {
		h.log.Warn("Log socket rejected - limit exceeded",
			"remote_addr", r.RemoteAddr,
			"client_ip", ip)
		http.Error(w, "Too many connections. Please try again later.", http.StatusTooManyRequests)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.Debug("Log socket upgrade failed", "client_ip", ip, "error", err)
		h.limiter.Release(ip)
		return
	}

	c := newConn(h, ws, ip)
	if !h.track(c) {
		c.close(websocket.CloseGoingAway, "server shutdown")
		ws.Close()
		h.limiter.Release(ip)
		return
	}
	go func() {
		defer h.wg.Done()
		defer h.limiter.Release(ip)
		defer h.untrack(c)
		c.serve()
	}()
}

// track registers c with the handler. It fails once Shutdown has started, so
// a socket upgraded while Shutdown runs is never left behind unclosed.
func (h *Handler) track(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.shutdown:
		return false
	default:
	}
	h.active[c] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(c *conn) {
	h.mu.Lock()
	delete(h.active, c)
	h.mu.Unlock()
}

// Shutdown closes every socket with "going away" and waits for their
// goroutines to finish. New upgrades are refused afterwards.
func (h *Handler) Shutdown() {
	h.stopOnce.Do(func() {
		close(h.shutdown)
		h.probes.Stop()

		h.mu.Lock()
		conns := make([]*conn, 0, len(h.active))
		for c := range h.active {
			conns = append(conns, c)
		}
		h.mu.Unlock()

		for _, c := range conns {
			c.close(websocket.CloseGoingAway, "server shutdown")
		}
	})
	h.wg.Wait()
	h.log.Info("Log socket handler stopped")
}
