package logsocket

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lawnchairsociety/logsocket/internal/protocol"
)

// Session end reasons.
const (
	reasonClientClosed = "client closed"
	reasonShutdown     = "server shutdown"
	reasonWriteFailed  = "write failed"
	reasonReadFailed   = "read failed"
)

// conn is one accepted socket. The read loop owns ReadMessage; the stream
// goroutine and the pinger only write.
type conn struct {
	h   *Handler
	ws  *websocket.Conn
	ip  string
	log *slog.Logger

	// cts holds at most one pending clear-to-send.
	cts  chan struct{}
	done chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	streamWG  sync.WaitGroup
	streaming bool
	rowsSent  atomic.Int64
}

func newConn(h *Handler, ws *websocket.Conn, ip string) *conn {
	return &conn{
		h:    h,
		ws:   ws,
		ip:   ip,
		log:  h.log.With("client_ip", ip),
		cts:  make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (c *conn) serve() {
	defer c.ws.Close()

	c.ws.SetReadLimit(c.h.ws.MaxMessageSize)
	if interval := c.h.ws.PingInterval; interval > 0 {
		c.ws.SetReadDeadline(time.Now().Add(2 * interval))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(2 * interval))
		})
		go c.pingLoop(interval)
	}

	c.log.Debug("Log socket connected")
	err := c.readLoop()
	close(c.done)
	c.streamWG.Wait()

	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.log.Debug("Log socket ended", "error", err)
	}
}

// readLoop dispatches inbound frames until the socket fails or closes.
func (c *conn) readLoop() error {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}

		frame, err := protocol.ParseFrame(data)
		if err != nil {
			c.log.Warn("Ignoring malformed frame", "error", err)
			continue
		}

		switch frame.Kind {
		case protocol.FrameCTS:
			select {
			case c.cts <- struct{}{}:
			default:
			}

		case protocol.FrameSubscribe:
			c.subscribe(frame.Subscription)

		default:
			c.log.Debug("Ignoring frame from client", "kind", frame.Kind)
		}
	}
}

func (c *conn) subscribe(sub protocol.Subscription) {
	if sub.Type != protocol.SubscribeLog {
		c.log.Warn("Ignoring subscription", "type", sub.Type)
		return
	}
	if c.streaming {
		c.log.Debug("Ignoring repeated subscription", "server", sub.Server)
		return
	}
	if !protocol.ValidServerName(sub.Server) {
		c.log.Warn("Rejecting subscription", "server", sub.Server)
		c.h.rejected(c.ip)
		c.close(websocket.ClosePolicyViolation, protocol.ErrInvalidServerName.Error())
		return
	}

	f, err := os.Open(logPath(c.h.logs.Root, sub.Server))
	if err != nil {
		c.log.Warn("Log not available", "server", sub.Server, "error", err)
		c.h.rejected(c.ip)
		c.close(websocket.ClosePolicyViolation, "no log for "+sub.Server)
		return
	}

	c.h.probes.RecordSuccess(c.ip)
	c.streaming = true
	c.streamWG.Add(1)
	go func() {
		defer c.streamWG.Done()
		defer f.Close()
		c.stream(sub.Server, f)
	}()
}

// stream sends RTS, waits for CTS and then sends every complete line
// available, forever. A trailing partial line is held until its newline
// arrives.
func (c *conn) stream(server string, r io.Reader) {
	log := c.log.With("server", server)

	var sessionID string
	if c.h.sessions != nil {
		id, err := c.h.sessions.StartSession(server, c.ip)
		if err != nil {
			log.Error("Failed to record session start", "error", err)
		}
		sessionID = id
	}
	log.Info("Log stream started", "session", sessionID)

	reason := c.pump(r)

	if c.h.sessions != nil && sessionID != "" {
		if err := c.h.sessions.EndSession(sessionID, c.rowsSent.Load(), reason); err != nil {
			log.Error("Failed to record session end", "session", sessionID, "error", err)
		}
	}
	log.Info("Log stream ended", "session", sessionID, "rows", c.rowsSent.Load(), "reason", reason)
}

func (c *conn) pump(r io.Reader) string {
	reader := bufio.NewReader(r)
	var pending strings.Builder

	for {
		if err := c.writeText([]byte(protocol.RTS)); err != nil {
			return reasonWriteFailed
		}

		select {
		case <-c.cts:
		case <-c.done:
			return reasonClientClosed
		case <-c.h.shutdown:
			return reasonShutdown
		}

		sent := 0
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				pending.WriteString(line)
				if !errors.Is(err, io.EOF) {
					c.log.Error("Log read failed", "error", err)
					c.close(websocket.CloseInternalServerErr, "log read failed")
					return reasonReadFailed
				}
				break
			}

			text := line
			if pending.Len() > 0 {
				pending.WriteString(line)
				text = pending.String()
				pending.Reset()
			}
			payload, err := protocol.EncodeRow(protocol.NewRow(strings.TrimRight(text, "\r\n")))
			if err != nil {
				continue
			}
			if err := c.writeText(payload); err != nil {
				return reasonWriteFailed
			}
			c.rowsSent.Add(1)
			sent++
		}

		if sent == 0 && c.h.logs.PollInterval > 0 {
			timer := time.NewTimer(c.h.logs.PollInterval)
			select {
			case <-timer.C:
			case <-c.done:
				timer.Stop()
				return reasonClientClosed
			case <-c.h.shutdown:
				timer.Stop()
				return reasonShutdown
			}
		}
	}
}

func (c *conn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(closeGrace)); err != nil {
				return
			}
		}
	}
}

func (c *conn) writeText(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// close sends a close frame once and gives the peer closeGrace to answer
// before the read loop is forced out.
func (c *conn) close(code int, text string) {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, text)
		if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace)); err != nil {
			c.log.Debug("Close frame not sent", "error", err)
		}
		c.ws.SetReadDeadline(time.Now().Add(closeGrace))
	})
}

// logPath maps a validated server name to its "current" file under root.
func logPath(root, server string) string {
	return filepath.Join(root, filepath.FromSlash(server), "current")
}
