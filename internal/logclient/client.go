// Package logclient streams one server's log into a view over the log socket.
package logclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lawnchairsociety/logsocket/internal/logger"
	"github.com/lawnchairsociety/logsocket/internal/protocol"
	"github.com/lawnchairsociety/logsocket/internal/view"
)

// Labels shown on the start/stop control.
const (
	LabelStop    = "Stop"
	LabelRestart = "Restart"
)

// closeGrace bounds how long Disconnect waits for the peer to answer the close frame.
const closeGrace = time.Second

var (
	// ErrNoContainer is returned by New when there is no container to render into.
	ErrNoContainer = errors.New("no log container")

	// ErrAlreadyConnected is returned by Connect while a connection is live or being dialled.
	ErrAlreadyConnected = errors.New("already connected")
)

// View is the container a client renders into. Its ID names the server.
type View interface {
	ID() string
	AppendRow(row protocol.Row) bool
	ScrollToBottom()
	SetStatus(s view.Status)
	Reset()
}

// Mode selects how inbound frames are interpreted.
type Mode int

const (
	// ModeFlowControl answers every RTS with CTS and appends every row.
	ModeFlowControl Mode = iota

	// ModeDedup skips rows whose id was already rendered. RTS is not part of it.
	ModeDedup
)

func (m Mode) String() string {
	if m == ModeDedup {
		return "dedup"
	}
	return "flowcontrol"
}

// ParseMode converts a configuration string into a Mode. Empty means flow control.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "flowcontrol", "flow-control":
		return ModeFlowControl, nil
	case "dedup":
		return ModeDedup, nil
	default:
		return ModeFlowControl, fmt.Errorf("unknown mode %q", s)
	}
}

// State is the lifecycle of the socket.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Config holds the connection settings.
type Config struct {
	// Host is the daemon address (host[:port]).
	Host string

	// Scheme is "ws" (default) or "wss".
	Scheme string

	Mode Mode

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Option customises a Client.
type Option func(*Client)

// WithLogger sets the logger used for connection and frame diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// Client owns one socket per container. Frames are handled one at a time in
// arrival order on the read loop goroutine.
type Client struct {
	container View
	server    string
	url       string
	mode      Mode
	dialer    *websocket.Dialer
	log       *slog.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	state State
	label string
	done  chan struct{}

	writeMu sync.Mutex

	obsMu        sync.RWMutex
	observers    map[int]func(Event)
	nextObserver int
}

// New validates the container and builds the socket URL. No connection is
// made until Connect.
func New(cfg Config, container View, opts ...Option) (*Client, error) {
	if container == nil || container.ID() == "" {
		return nil, ErrNoContainer
	}
	server := container.ID()
	if !protocol.ValidServerName(server) {
		return nil, fmt.Errorf("%w: %q", protocol.ErrInvalidServerName, server)
	}

	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "ws"
	}
	if scheme != "ws" && scheme != "wss" {
		return nil, fmt.Errorf("unsupported scheme %q", scheme)
	}
	u := url.URL{Scheme: scheme, Host: cfg.Host, Path: protocol.SocketPath}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	c := &Client{
		container: container,
		server:    server,
		url:       u.String(),
		mode:      cfg.Mode,
		dialer:    dialer,
		log:       logger.Logger(),
		state:     StateClosed,
		label:     LabelStop,
		observers: make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("server", server)
	return c, nil
}

// URL returns the socket URL.
func (c *Client) URL() string {
	return c.url
}

// Server returns the subscribed server name.
func (c *Client) Server() string {
	return c.server
}

// State returns the current socket state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Label returns the text of the start/stop control.
func (c *Client) Label() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.label
}

// Connect dials the socket, sends the subscription and starts reading.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateClosed {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.container.SetStatus(view.StatusConnecting)

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		c.container.SetStatus(view.StatusDisconnected)
		c.log.Warn("Log socket dial failed", "url", c.url, "error", err)
		c.publish(Event{Type: EventClosed, Err: err})
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.state = StateOpen
	c.done = done
	c.mu.Unlock()
	c.container.SetStatus(view.StatusOpen)
	c.log.Debug("Log socket open", "url", c.url)
	c.publish(Event{Type: EventOpen})

	if err := c.subscribe(conn); err != nil {
		c.mu.Lock()
		c.conn = nil
		c.state = StateClosed
		c.mu.Unlock()
		conn.Close()
		close(done)
		c.container.SetStatus(view.StatusDisconnected)
		c.publish(Event{Type: EventClosed, Err: err})
		return fmt.Errorf("subscribe: %w", err)
	}

	go c.readLoop(conn, done)
	return nil
}

// subscribe sends the one subscription request of a connection.
func (c *Client) subscribe(conn *websocket.Conn) error {
	payload, err := protocol.NewSubscription(c.server).Encode()
	if err != nil {
		return err
	}
	if err := c.write(conn, payload); err != nil {
		return err
	}
	c.publish(Event{Type: EventSubscribed})
	return nil
}

// Send writes a text frame while the socket is open. Otherwise it does
// nothing and returns nil.
func (c *Client) Send(payload string) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if state != StateOpen || conn == nil {
		return nil
	}
	return c.write(conn, []byte(payload))
}

func (c *Client) write(conn *websocket.Conn, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// StartStop toggles the stream. An open stream is closed and the control
// reads "Restart"; otherwise the container is cleared and a new connection
// is made, and the control reads "Stop".
func (c *Client) StartStop(ctx context.Context) error {
	if c.State() == StateOpen {
		err := c.Disconnect()
		c.mu.Lock()
		c.label = LabelRestart
		c.mu.Unlock()
		return err
	}

	c.container.Reset()
	c.mu.Lock()
	c.label = LabelStop
	c.mu.Unlock()
	return c.Connect(ctx)
}

// Disconnect closes the socket with a normal closure. It is a no-op when
// nothing is connected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn, done := c.conn, c.done
	if conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.conn = nil
	c.state = StateClosed
	c.mu.Unlock()

	c.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGrace))
	c.writeMu.Unlock()

	go func() {
		select {
		case <-done:
		case <-time.After(closeGrace):
			conn.Close()
		}
	}()

	c.container.SetStatus(view.StatusDisconnected)
	c.log.Debug("Log socket closed by user")
	c.publish(Event{Type: EventClosed})

	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return nil
}

// Wait blocks until the current read loop has ended.
func (c *Client) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		c.handleMessage(conn, data)
	}
}

// handleClose runs when the read loop ends. A connection already released by
// Disconnect is not reported again.
func (c *Client) handleClose(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateClosed
	c.mu.Unlock()

	c.container.SetStatus(view.StatusDisconnected)
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.log.Info("Log socket closed by server", "error", err)
	} else {
		c.log.Warn("Log socket lost", "error", err)
	}
	c.publish(Event{Type: EventClosed, Err: err})
}

// current reports whether conn is still the client's live connection.
func (c *Client) current(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == conn
}

// handleMessage interprets one frame read from conn. Frames that arrive after
// conn was released by Disconnect or replaced by a restart are dropped.
func (c *Client) handleMessage(conn *websocket.Conn, data []byte) {
	if !c.current(conn) {
		c.log.Debug("Dropping frame from closed socket", "bytes", len(data))
		return
	}

	frame, err := protocol.ParseFrame(data)
	if err != nil {
		c.malformed(data, err)
		return
	}

	switch frame.Kind {
	case protocol.FrameRTS:
		if c.mode == ModeDedup {
			c.malformed(data, fmt.Errorf("%w: RTS outside flow-control mode", protocol.ErrMalformedFrame))
			return
		}
		if err := c.write(conn, []byte(protocol.CTS)); err != nil {
			c.log.Warn("CTS write failed", "error", err)
			return
		}
		c.container.ScrollToBottom()
		c.publish(Event{Type: EventFlowControl})

	case protocol.FrameRow:
		row := frame.Row
		if c.mode == ModeFlowControl {
			row.ID, row.HasID = "", false
		}
		if c.container.AppendRow(row) {
			c.publish(Event{Type: EventRow, Row: row})
		} else {
			c.log.Debug("Duplicate row ignored", "id", row.ID)
			c.publish(Event{Type: EventDuplicate, Row: row})
		}

	default:
		c.malformed(data, fmt.Errorf("%w: unexpected %s frame from server", protocol.ErrMalformedFrame, frame.Kind))
	}
}

func (c *Client) malformed(data []byte, err error) {
	c.log.Warn("Ignoring frame", "error", err)
	c.publish(Event{Type: EventMalformed, Raw: data, Err: err})
}
