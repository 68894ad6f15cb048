// Package view holds the containers log rows are rendered into.
package view

import (
	"html/template"
	"io"
	"sync"

	"github.com/lawnchairsociety/logsocket/internal/protocol"
)

// DOM contract of a rendered container.
const (
	ContainerClass = "daemon-log"
	RowClass       = "row"
	RowIDPrefix    = "r"
	ControlID      = "livecontrolplay"
)

// Status is the connection state shown by a container.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusOpen
	StatusDisconnected
)

// String returns the status label.
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "idle"
	}
}

var containerTemplate = template.Must(template.New("container").Parse(
	`<div class="` + ContainerClass + `" id="{{.ID}}" data-status="{{.Status}}">
{{range .Rows}}{{template "row" .}}
{{end}}</div>
{{define "row"}}<div class="` + RowClass + `"{{if .HasID}} id="` + RowIDPrefix + `{{.ID}}"{{end}}>{{.Text}}</div>{{end}}
{{define "control"}}<button id="` + ControlID + `">{{.}}</button>{{end}}`))

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.ID}} log</title>
</head>
<body>
`))

// RenderControl writes the start/stop control with the given label.
func RenderControl(w io.Writer, label string) error {
	return containerTemplate.ExecuteTemplate(w, "control", label)
}

// Container is an append-only list of rows. Row ids are unique within a
// container; rows without an id are never deduplicated.
type Container struct {
	id string

	mu      sync.RWMutex
	rows    []protocol.Row
	seen    map[string]struct{}
	scrolls int
	status  Status
}

// NewContainer creates an empty container. The id names the log stream.
func NewContainer(id string) *Container {
	return &Container{
		id:   id,
		rows: make([]protocol.Row, 0),
		seen: make(map[string]struct{}),
	}
}

// ID returns the container identifier.
func (c *Container) ID() string {
	return c.id
}

// AppendRow adds a row at the end. It returns false, leaving the container
// untouched, when the row carries an id that was already rendered.
func (c *Container) AppendRow(row protocol.Row) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if row.HasID {
		if _, ok := c.seen[row.ID]; ok {
			return false
		}
		c.seen[row.ID] = struct{}{}
	}
	c.rows = append(c.rows, row)
	return true
}

// HasRow reports whether a row with the given id was rendered.
func (c *Container) HasRow(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.seen[id]
	return ok
}

// Rows returns a copy of the rendered rows in arrival order.
func (c *Container) Rows() []protocol.Row {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]protocol.Row, len(c.rows))
	copy(result, c.rows)
	return result
}

// Texts returns the text of every row in arrival order.
func (c *Container) Texts() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]string, len(c.rows))
	for i, r := range c.rows {
		result[i] = r.Text
	}
	return result
}

// Len returns the number of rendered rows.
func (c *Container) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rows)
}

// ScrollToBottom records a scroll-to-bottom action.
func (c *Container) ScrollToBottom() {
	c.mu.Lock()
	c.scrolls++
	c.mu.Unlock()
}

// Scrolls returns how many scroll-to-bottom actions were performed.
func (c *Container) Scrolls() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scrolls
}

// SetStatus updates the displayed connection state.
func (c *Container) SetStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Status returns the displayed connection state.
func (c *Container) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Reset empties the container as a page reload would.
func (c *Container) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = make([]protocol.Row, 0)
	c.seen = make(map[string]struct{})
	c.scrolls = 0
	c.status = StatusIdle
}

// RenderPage writes a standalone HTML page holding the start/stop control
// labelled control and the container.
func RenderPage(w io.Writer, c *Container, control string) error {
	if err := pageTemplate.Execute(w, struct{ ID string }{c.ID()}); err != nil {
		return err
	}
	if err := RenderControl(w, control); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	if err := c.Render(w); err != nil {
		return err
	}
	_, err := io.WriteString(w, "</body>\n</html>\n")
	return err
}

// Render writes the container as HTML.
func (c *Container) Render(w io.Writer) error {
	c.mu.RLock()
	data := struct {
		ID     string
		Status string
		Rows   []protocol.Row
	}{
		ID:     c.id,
		Status: c.status.String(),
		Rows:   append([]protocol.Row(nil), c.rows...),
	}
	c.mu.RUnlock()

	return containerTemplate.Execute(w, data)
}

// renderRow writes a single row element.
func renderRow(w io.Writer, row protocol.Row) error {
	return containerTemplate.ExecuteTemplate(w, "row", row)
}
