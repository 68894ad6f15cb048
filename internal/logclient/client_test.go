package logclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lawnchairsociety/logsocket/internal/protocol"
	"github.com/lawnchairsociety/logsocket/internal/view"
)

const testTimeout = 2 * time.Second

// fakeDaemon accepts log socket connections and hands them to the test.
type fakeDaemon struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newFakeDaemon(t *testing.T) *fakeDaemon {
	t.Helper()
	d := &fakeDaemon{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}

	d.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != protocol.SocketPath {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		d.conns <- conn
	}))
	t.Cleanup(d.srv.Close)
	return d
}

func (d *fakeDaemon) host() string {
	return strings.TrimPrefix(d.srv.URL, "http://")
}

func (d *fakeDaemon) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-d.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(testTimeout):
		t.Fatal("no connection accepted")
		return nil
	}
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read from client: %v", err)
	}
	return string(data)
}

func writeText(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("write to client: %v", err)
	}
}

// expectSilence fails if the client sends anything within a short window.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Errorf("unexpected frame from client: %q", data)
	}
}

func collect(c *Client) <-chan Event {
	ch := make(chan Event, 64)
	c.Subscribe(func(ev Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	return ch
}

func waitFor(t *testing.T, events <-chan Event, typ EventType) Event {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case ev := <-events:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
			return Event{}
		}
	}
}

func connectClient(t *testing.T, d *fakeDaemon, mode Mode) (*Client, *view.Container, <-chan Event, *websocket.Conn) {
	t.Helper()
	container := view.NewContainer("karabo-server-1")
	c, err := New(Config{Host: d.host(), Mode: mode}, container)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events := collect(c)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { c.Disconnect() })

	conn := d.accept(t)
	if got := readText(t, conn); got != `{"type":"log","server":"karabo-server-1"}` {
		t.Fatalf("first frame = %q, want subscription", got)
	}
	return c, container, events, conn
}

func TestNew_RequiresContainer(t *testing.T) {
	if _, err := New(Config{Host: "localhost:8080"}, nil); !errors.Is(err, ErrNoContainer) {
		t.Errorf("New(nil) error = %v, want ErrNoContainer", err)
	}
	if _, err := New(Config{Host: "localhost:8080"}, view.NewContainer("")); !errors.Is(err, ErrNoContainer) {
		t.Errorf("New(empty id) error = %v, want ErrNoContainer", err)
	}
	if _, err := New(Config{Host: "localhost:8080"}, view.NewContainer("../etc")); !errors.Is(err, protocol.ErrInvalidServerName) {
		t.Errorf("New(../etc) error = %v, want ErrInvalidServerName", err)
	}
}

func TestNew_URL(t *testing.T) {
	tests := []struct {
		scheme string
		want   string
	}{
		{"", "ws://localhost:8080/api/servers/logsocket"},
		{"ws", "ws://localhost:8080/api/servers/logsocket"},
		{"wss", "wss://localhost:8080/api/servers/logsocket"},
	}

	for _, tt := range tests {
		c, err := New(Config{Host: "localhost:8080", Scheme: tt.scheme}, view.NewContainer("srv"))
		if err != nil {
			t.Fatalf("New(scheme %q): %v", tt.scheme, err)
		}
		if c.URL() != tt.want {
			t.Errorf("URL() = %q, want %q", c.URL(), tt.want)
		}
	}

	if _, err := New(Config{Host: "localhost:8080", Scheme: "http"}, view.NewContainer("srv")); err == nil {
		t.Error("http scheme should be rejected")
	}
}

func TestConnect_SubscribesOnce(t *testing.T) {
	d := newFakeDaemon(t)
	c, container, _, conn := connectClient(t, d, ModeFlowControl)

	if c.State() != StateOpen {
		t.Errorf("State() = %v, want open", c.State())
	}
	if container.Status() != view.StatusOpen {
		t.Errorf("container status = %v, want open", container.Status())
	}
	if c.Label() != LabelStop {
		t.Errorf("Label() = %q, want %q", c.Label(), LabelStop)
	}
	expectSilence(t, conn)
}

func TestConnect_Twice(t *testing.T) {
	d := newFakeDaemon(t)
	c, _, _, _ := connectClient(t, d, ModeFlowControl)

	if err := c.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect error = %v, want ErrAlreadyConnected", err)
	}
}

func TestConnect_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	container := view.NewContainer("srv")
	c, err := New(Config{Host: host}, container)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("Connect to a closed server should fail")
	}
	if c.State() != StateClosed {
		t.Errorf("State() = %v, want closed", c.State())
	}
	if container.Status() != view.StatusDisconnected {
		t.Errorf("container status = %v, want disconnected", container.Status())
	}
}

func TestFlowControl_RTSRepliesCTSAndScrollsOnce(t *testing.T) {
	d := newFakeDaemon(t)
	_, container, events, conn := connectClient(t, d, ModeFlowControl)

	writeText(t, conn, protocol.RTS)
	if got := readText(t, conn); got != protocol.CTS {
		t.Fatalf("reply to RTS = %q, want CTS", got)
	}
	waitFor(t, events, EventFlowControl)
	if container.Scrolls() != 1 {
		t.Errorf("Scrolls() = %d, want 1", container.Scrolls())
	}
	expectSilence(t, conn)
}

func TestFlowControl_AppendsEveryRow(t *testing.T) {
	d := newFakeDaemon(t)
	_, container, events, conn := connectClient(t, d, ModeFlowControl)

	writeText(t, conn, `{"id":5,"text":"started"}`)
	writeText(t, conn, `{"id":5,"text":"started"}`)
	writeText(t, conn, `{"text":"plain"}`)
	for i := 0; i < 3; i++ {
		waitFor(t, events, EventRow)
	}

	if got := strings.Join(container.Texts(), "|"); got != "started|started|plain" {
		t.Errorf("Texts() = %q", got)
	}
	if container.Scrolls() != 0 {
		t.Errorf("rows alone should not scroll, got %d", container.Scrolls())
	}
}

func TestDedup_IgnoresSeenIDs(t *testing.T) {
	d := newFakeDaemon(t)
	_, container, events, conn := connectClient(t, d, ModeDedup)

	writeText(t, conn, `{"id":5,"text":"started"}`)
	waitFor(t, events, EventRow)
	writeText(t, conn, `{"id":"5","text":"started"}`)
	waitFor(t, events, EventDuplicate)
	writeText(t, conn, `{"id":6,"text":"ready"}`)
	waitFor(t, events, EventRow)

	if got := strings.Join(container.Texts(), "|"); got != "started|ready" {
		t.Errorf("Texts() = %q, want started|ready", got)
	}
}

func TestDedup_RTSIsMalformed(t *testing.T) {
	d := newFakeDaemon(t)
	c, _, events, conn := connectClient(t, d, ModeDedup)

	writeText(t, conn, protocol.RTS)
	ev := waitFor(t, events, EventMalformed)
	if !errors.Is(ev.Err, protocol.ErrMalformedFrame) {
		t.Errorf("event error = %v, want ErrMalformedFrame", ev.Err)
	}
	expectSilence(t, conn)
	if c.State() != StateOpen {
		t.Errorf("State() = %v, want open", c.State())
	}
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	d := newFakeDaemon(t)
	c, container, events, conn := connectClient(t, d, ModeFlowControl)

	writeText(t, conn, "garbage")
	waitFor(t, events, EventMalformed)
	writeText(t, conn, `{"id":1}`)
	waitFor(t, events, EventMalformed)
	writeText(t, conn, `{"text":"still here"}`)
	waitFor(t, events, EventRow)

	if c.State() != StateOpen {
		t.Errorf("State() = %v, want open", c.State())
	}
	if got := container.Texts(); len(got) != 1 || got[0] != "still here" {
		t.Errorf("Texts() = %v", got)
	}
}

func TestSendWhileClosedIsNoop(t *testing.T) {
	c, err := New(Config{Host: "localhost:1"}, view.NewContainer("srv"))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Send(protocol.CTS); err != nil {
		t.Errorf("Send while closed = %v, want nil", err)
	}
	if c.State() != StateClosed {
		t.Errorf("State() = %v, want closed", c.State())
	}
}

func TestUnexpectedCloseMarksDisconnected(t *testing.T) {
	d := newFakeDaemon(t)
	c, container, events, conn := connectClient(t, d, ModeFlowControl)

	conn.Close()
	ev := waitFor(t, events, EventClosed)
	if ev.Err == nil {
		t.Error("unexpected close should carry an error")
	}
	c.Wait()

	if c.State() != StateClosed {
		t.Errorf("State() = %v, want closed", c.State())
	}
	if container.Status() != view.StatusDisconnected {
		t.Errorf("container status = %v, want disconnected", container.Status())
	}
	if err := c.Send(protocol.CTS); err != nil {
		t.Errorf("Send after close = %v, want nil", err)
	}
}

func TestStartStop_Toggles(t *testing.T) {
	d := newFakeDaemon(t)
	c, container, events, conn := connectClient(t, d, ModeFlowControl)

	writeText(t, conn, `{"text":"before stop"}`)
	waitFor(t, events, EventRow)

	// Stop
	if err := c.StartStop(context.Background()); err != nil {
		t.Fatalf("StartStop (stop): %v", err)
	}
	if c.State() != StateClosed {
		t.Errorf("State() = %v, want closed", c.State())
	}
	if c.Label() != LabelRestart {
		t.Errorf("Label() = %q, want %q", c.Label(), LabelRestart)
	}
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("server read after stop = %v, want normal closure", err)
	}
	if container.Len() != 1 {
		t.Errorf("stop should keep rows, Len() = %d", container.Len())
	}

	// Restart
	if err := c.StartStop(context.Background()); err != nil {
		t.Fatalf("StartStop (restart): %v", err)
	}
	if c.State() != StateOpen {
		t.Errorf("State() = %v, want open", c.State())
	}
	if c.Label() != LabelStop {
		t.Errorf("Label() = %q, want %q", c.Label(), LabelStop)
	}
	if container.Len() != 0 {
		t.Errorf("restart should clear the container, Len() = %d", container.Len())
	}

	conn2 := d.accept(t)
	if got := readText(t, conn2); got != `{"type":"log","server":"karabo-server-1"}` {
		t.Errorf("first frame after restart = %q, want subscription", got)
	}
}

func TestStartStop_OldSocketIsIgnored(t *testing.T) {
	d := newFakeDaemon(t)
	c, container, events, old := connectClient(t, d, ModeFlowControl)

	writeText(t, old, `{"text":"before stop"}`)
	waitFor(t, events, EventRow)

	if err := c.StartStop(context.Background()); err != nil {
		t.Fatalf("StartStop (stop): %v", err)
	}

	// The old socket stays readable until the close handshake finishes.
	old.WriteMessage(websocket.TextMessage, []byte(`{"text":"after stop"}`))
	time.Sleep(100 * time.Millisecond)
	if got := container.Texts(); len(got) != 1 || got[0] != "before stop" {
		t.Errorf("rows after stop = %q, want only the row before stop", got)
	}

	if err := c.StartStop(context.Background()); err != nil {
		t.Fatalf("StartStop (restart): %v", err)
	}
	fresh := d.accept(t)
	if got := readText(t, fresh); got != `{"type":"log","server":"karabo-server-1"}` {
		t.Fatalf("first frame after restart = %q, want subscription", got)
	}

	old.WriteMessage(websocket.TextMessage, []byte(`{"text":"stale row"}`))
	old.WriteMessage(websocket.TextMessage, []byte(protocol.RTS))

	// An RTS on the old socket must not unlock a batch on the new one.
	expectSilence(t, fresh)

	writeText(t, fresh, protocol.RTS)
	if got := readText(t, fresh); got != protocol.CTS {
		t.Errorf("reply on the new socket = %q, want CTS", got)
	}
	writeText(t, fresh, `{"text":"fresh row"}`)
	for {
		ev := waitFor(t, events, EventRow)
		if ev.Row.Text == "fresh row" {
			break
		}
	}

	if got := container.Texts(); len(got) != 1 || got[0] != "fresh row" {
		t.Errorf("restarted container rows = %q, want only the fresh row", got)
	}
	if container.Scrolls() != 1 {
		t.Errorf("Scrolls() = %d, want 1", container.Scrolls())
	}
}

func TestSubscribeCancel(t *testing.T) {
	d := newFakeDaemon(t)
	c, _, events, conn := connectClient(t, d, ModeFlowControl)

	calls := make(chan struct{}, 8)
	cancel := c.Subscribe(func(Event) { calls <- struct{}{} })
	cancel()

	writeText(t, conn, `{"text":"x"}`)
	waitFor(t, events, EventRow)

	if len(calls) != 0 {
		t.Errorf("cancelled observer called %d times", len(calls))
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{"", ModeFlowControl, false},
		{"flowcontrol", ModeFlowControl, false},
		{"FlowControl", ModeFlowControl, false},
		{"dedup", ModeDedup, false},
		{"replay", ModeFlowControl, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
