package logclient

import "github.com/lawnchairsociety/logsocket/internal/protocol"

// EventType identifies what happened on the stream.
type EventType int

const (
	EventOpen EventType = iota
	EventSubscribed
	EventRow
	EventDuplicate
	EventFlowControl
	EventMalformed
	EventClosed
)

func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventSubscribed:
		return "subscribed"
	case EventRow:
		return "row"
	case EventDuplicate:
		return "duplicate"
	case EventFlowControl:
		return "flow-control"
	case EventMalformed:
		return "malformed"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is delivered to observers after the client has acted on it.
// Err is set for EventMalformed and for an EventClosed caused by the peer.
type Event struct {
	Type EventType
	Row  protocol.Row
	Raw  []byte
	Err  error
}

// Subscribe registers fn for every subsequent event and returns a function
// that removes it. Observers run on the read loop goroutine and must not
// block.
func (c *Client) Subscribe(fn func(Event)) (cancel func()) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()

	id := c.nextObserver
	c.nextObserver++
	c.observers[id] = fn

	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

func (c *Client) publish(ev Event) {
	c.obsMu.RLock()
	fns := make([]func(Event), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.obsMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
