package view

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/lawnchairsociety/logsocket/internal/protocol"
	"github.com/mattn/go-isatty"
)

// Format selects how a Terminal writes rows.
type Format string

const (
	FormatText Format = "text"
	FormatHTML Format = "html"
)

// ErrUnknownFormat is returned for output formats other than text and html.
var ErrUnknownFormat = errors.New("unknown output format")

// ParseFormat validates an output format name. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatText:
		return FormatText, nil
	case FormatHTML:
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

const (
	ansiReset = "\x1b[0m"
	ansiDim   = "\x1b[2m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
)

// Terminal is a Container that also writes every accepted row to an output
// stream as it arrives.
type Terminal struct {
	*Container

	mu     sync.Mutex
	out    io.Writer
	format Format
	color  bool
}

// NewTerminal creates a Terminal writing to w. Status lines are coloured only
// when w is a terminal.
func NewTerminal(id string, w io.Writer, format Format) (*Terminal, error) {
	f, err := ParseFormat(string(format))
	if err != nil {
		return nil, err
	}
	return &Terminal{
		Container: NewContainer(id),
		out:       w,
		format:    f,
		color:     isTerminal(w),
	}, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// AppendRow records the row and writes it out.
func (t *Terminal) AppendRow(row protocol.Row) bool {
	if !t.Container.AppendRow(row) {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.format == FormatHTML {
		_ = renderRow(t.out, row)
		_, _ = io.WriteString(t.out, "\n")
		return true
	}
	_, _ = io.WriteString(t.out, strings.TrimRight(row.Text, "\r\n")+"\n")
	return true
}

// SetStatus records the status and prints a status line.
func (t *Terminal) SetStatus(s Status) {
	prev := t.Container.Status()
	t.Container.SetStatus(s)
	if prev == s {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.format == FormatHTML {
		fmt.Fprintf(t.out, "<!-- %s: %s -->\n", t.ID(), s)
		return
	}

	line := fmt.Sprintf("-- %s: %s --", t.ID(), s)
	if t.color {
		color := ansiDim
		switch s {
		case StatusOpen:
			color = ansiGreen
		case StatusDisconnected:
			color = ansiRed
		}
		line = color + line + ansiReset
	}
	fmt.Fprintln(t.out, line)
}

// ShowControl prints the current label of the start/stop control.
func (t *Terminal) ShowControl(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.format == FormatHTML {
		_ = RenderControl(t.out, label)
		_, _ = io.WriteString(t.out, "\n")
		return
	}
	fmt.Fprintf(t.out, "-- %s: [%s] --\n", t.ID(), label)
}
