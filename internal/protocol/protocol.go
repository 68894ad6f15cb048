// Package protocol defines the wire vocabulary of the log socket: the RTS/CTS
// flow-control sentinels, the subscription request and the log row record.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	// RTS (Ready-To-Send) is sent by the server before each batch of rows.
	RTS = "RTS"

	// CTS (Clear-To-Send) is the client's reply to RTS.
	CTS = "CTS"

	// SubscribeLog is the subscription type for log streams.
	SubscribeLog = "log"

	// SocketPath is the HTTP path of the log socket endpoint.
	SocketPath = "/api/servers/logsocket"

	// FilePathPrefix is the HTTP path prefix of the whole-file endpoint.
	FilePathPrefix = "/api/servers/logs/"

	// PagePathPrefix and PagePathSuffix enclose the server name in the path
	// of the page hosting a log container: /api/servers/<name>/log.html.
	PagePathPrefix = "/api/servers/"
	PagePathSuffix = "/log.html"
)

var (
	// ErrMalformedFrame is returned for inbound frames that are neither a
	// sentinel nor a recognised JSON record.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrInvalidServerName is returned for server names outside the allowed alphabet.
	ErrInvalidServerName = errors.New("invalid server name")
)

var serverNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_/-]+$`)

// ValidServerName reports whether name may be used as a log stream name.
// Names use letters, digits, '_', '-' and '/', and never contain a ".." segment
// or an empty segment.
func ValidServerName(name string) bool {
	if !serverNamePattern.MatchString(name) {
		return false
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || seg == ".." {
			return false
		}
	}
	return true
}

// Subscription is the single request a client sends after the socket opens.
type Subscription struct {
	Type   string `json:"type"`
	Server string `json:"server"`
}

// NewSubscription returns a log subscription for the named server.
func NewSubscription(server string) Subscription {
	return Subscription{Type: SubscribeLog, Server: server}
}

// Encode marshals the subscription as a JSON text frame.
func (s Subscription) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Row is one log line. ID is only meaningful when HasID is set.
type Row struct {
	ID    string
	HasID bool
	Text  string
}

// NewRow returns an id-less row.
func NewRow(text string) Row {
	return Row{Text: text}
}

// NewRowWithID returns a row carrying an identifier.
func NewRowWithID(id, text string) Row {
	return Row{ID: id, HasID: true, Text: text}
}

type rowWire struct {
	ID   json.RawMessage `json:"id,omitempty"`
	Text *string         `json:"text"`
}

// MarshalJSON encodes the row as {"id": ..., "text": ...}, omitting id when absent.
func (r Row) MarshalJSON() ([]byte, error) {
	text := r.Text
	w := rowWire{Text: &text}
	if r.HasID {
		id, err := json.Marshal(r.ID)
		if err != nil {
			return nil, err
		}
		w.ID = id
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts string or numeric ids. A number id is kept in its
// literal form so that 5 and "5" name the same row.
func (r *Row) UnmarshalJSON(data []byte) error {
	var w rowWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Text == nil {
		return fmt.Errorf("%w: row without text", ErrMalformedFrame)
	}
	id, hasID, err := decodeID(w.ID)
	if err != nil {
		return err
	}
	*r = Row{ID: id, HasID: hasID, Text: *w.Text}
	return nil
}

func decodeID(raw json.RawMessage) (string, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false, err
		}
		return s, true, nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", false, err
		}
		return n.String(), true, nil
	default:
		return "", false, fmt.Errorf("%w: id must be a string or number", ErrMalformedFrame)
	}
}

// EncodeRow marshals a row as a JSON text frame.
func EncodeRow(r Row) ([]byte, error) {
	return json.Marshal(r)
}
