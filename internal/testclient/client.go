// Package testclient is a raw log socket client that records every frame it
// receives, for integration tests.
package testclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lawnchairsociety/logsocket/internal/protocol"
)

// TestClient represents a test connection to the log socket.
type TestClient struct {
	Name     string
	conn     *websocket.Conn
	messages []string
	mu       sync.Mutex
	writeMu  sync.Mutex
	autoCTS  bool
	closed   chan struct{}
	closeErr error
	once     sync.Once
}

// Option customises Dial.
type Option func(*dialOptions)

type dialOptions struct {
	name    string
	autoCTS bool
	header  http.Header
}

// WithName labels the client in PrintMessages output.
func WithName(name string) Option {
	return func(o *dialOptions) { o.name = name }
}

// WithAutoCTS answers every RTS with CTS, like a well-behaved viewer.
func WithAutoCTS() Option {
	return func(o *dialOptions) { o.autoCTS = true }
}

// WithOrigin sends an Origin header with the handshake.
func WithOrigin(origin string) Option {
	return func(o *dialOptions) {
		if o.header == nil {
			o.header = make(http.Header)
		}
		o.header.Set("Origin", origin)
	}
}

// SocketURL returns the log socket URL for a daemon address (host:port).
func SocketURL(addr string) string {
	return "ws://" + addr + protocol.SocketPath
}

// Dial connects to url and starts recording frames. The returned
// *http.Response is non-nil when the handshake was refused.
func Dial(url string, opts ...Option) (*TestClient, *http.Response, error) {
	o := dialOptions{name: "TestClient"}
	for _, opt := range opts {
		opt(&o)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, o.header)
	if err != nil {
		return nil, resp, fmt.Errorf("failed to connect: %w", err)
	}

	client := &TestClient{
		Name:     o.name,
		conn:     conn,
		messages: make([]string, 0),
		autoCTS:  o.autoCTS,
		closed:   make(chan struct{}),
	}

	go client.readMessages()

	return client, resp, nil
}

// readMessages continuously reads frames from the server
func (c *TestClient) readMessages() {
	defer close(c.closed)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.closeErr = err
			c.mu.Unlock()
			return
		}

		msg := string(data)
		c.mu.Lock()
		c.messages = append(c.messages, msg)
		c.mu.Unlock()

		if c.autoCTS && msg == protocol.RTS {
			c.Send(protocol.CTS)
		}
	}
}

// Send writes one text frame.
func (c *TestClient) Send(payload string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

// Subscribe requests the log of server.
func (c *TestClient) Subscribe(server string) error {
	payload, err := protocol.NewSubscription(server).Encode()
	if err != nil {
		return err
	}
	return c.Send(string(payload))
}

// SendCTS grants the server one batch.
func (c *TestClient) SendCTS() error {
	return c.Send(protocol.CTS)
}

// GetMessages returns all frames received so far
func (c *TestClient) GetMessages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]string, len(c.messages))
	copy(result, c.messages)
	return result
}

// GetLastMessages returns the last N frames
func (c *TestClient) GetLastMessages(n int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n > len(c.messages) {
		n = len(c.messages)
	}

	start := len(c.messages) - n
	result := make([]string, n)
	copy(result, c.messages[start:])
	return result
}

// GetLastMessage returns the most recent frame
func (c *TestClient) GetLastMessage() string {
	messages := c.GetLastMessages(1)
	if len(messages) > 0 {
		return messages[0]
	}
	return ""
}

// ClearMessages clears the frame buffer
func (c *TestClient) ClearMessages() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = make([]string, 0)
}

// Rows returns the row frames received so far, decoded. Other frames are skipped.
func (c *TestClient) Rows() []protocol.Row {
	var rows []protocol.Row
	for _, msg := range c.GetMessages() {
		frame, err := protocol.ParseFrame([]byte(msg))
		if err == nil && frame.Kind == protocol.FrameRow {
			rows = append(rows, frame.Row)
		}
	}
	return rows
}

// Count returns how many received frames equal msg exactly.
func (c *TestClient) Count(msg string) int {
	n := 0
	for _, m := range c.GetMessages() {
		if m == msg {
			n++
		}
	}
	return n
}

// HasMessage checks if any frame contains the specified text
func (c *TestClient) HasMessage(text string) bool {
	for _, msg := range c.GetMessages() {
		if strings.Contains(msg, text) {
			return true
		}
	}
	return false
}

// WaitForMessage waits for a frame containing the specified text (with timeout)
func (c *TestClient) WaitForMessage(text string, timeout time.Duration) bool {
	return c.poll(timeout, func() bool { return c.HasMessage(text) })
}

// WaitForAnyMessage waits for any of the specified texts (with timeout)
func (c *TestClient) WaitForAnyMessage(texts []string, timeout time.Duration) (string, bool) {
	var found string
	ok := c.poll(timeout, func() bool {
		for _, text := range texts {
			if c.HasMessage(text) {
				found = text
				return true
			}
		}
		return false
	})
	return found, ok
}

// WaitForCount waits until at least n frames equal to msg were received.
func (c *TestClient) WaitForCount(msg string, n int, timeout time.Duration) bool {
	return c.poll(timeout, func() bool { return c.Count(msg) >= n })
}

func (c *TestClient) poll(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

// WaitForClose waits for the server to end the connection. It returns false
// on timeout, otherwise true and the read error that ended the connection.
func (c *TestClient) WaitForClose(timeout time.Duration) (bool, error) {
	select {
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		return true, c.closeErr
	case <-time.After(timeout):
		return false, nil
	}
}

// CloseCode extracts the WebSocket close code from err, or 0.
func CloseCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

// Close sends a normal closure and closes the connection.
func (c *TestClient) Close() error {
	var err error
	c.once.Do(func() {
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// PrintMessages prints all frames (for debugging)
func (c *TestClient) PrintMessages() {
	messages := c.GetMessages()
	fmt.Printf("\n=== Messages for %s ===\n", c.Name)
	for i, msg := range messages {
		fmt.Printf("[%d] %s\n", i, msg)
	}
	fmt.Println("======================")
}
