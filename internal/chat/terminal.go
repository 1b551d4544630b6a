package chat

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
)

// Terminal is a [View] that writes rows to a terminal.
//
// Final rows are printed once on their own line. The bottom line is the live
// line: it shows the live row while an utterance is in progress, and the
// status text otherwise. The live line is rewritten in place with a carriage
// return and an erase-line sequence.
type Terminal struct {
	w io.Writer

	user   lipgloss.Style
	agent  lipgloss.Style
	system lipgloss.Style
	status lipgloss.Style

	mu         sync.Mutex
	rows       map[RowID]*Row
	order      []RowID
	liveID     RowID
	statusText string
	liveDrawn  bool
}

var _ View = (*Terminal)(nil)

// NewTerminal returns a Terminal writing to w. Colour support is detected
// from w, so a non-TTY writer gets plain text.
func NewTerminal(w io.Writer) *Terminal {
	r := lipgloss.NewRenderer(w)
	return &Terminal{
		w:      w,
		user:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		agent:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		system: r.NewStyle().Foreground(lipgloss.Color("9")),
		status: r.NewStyle().Faint(true).Italic(true),
		rows:   make(map[RowID]*Row),
	}
}

// AddRow implements [View].
func (t *Terminal) AddRow(row Row) RowID {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := RowID(uuid.NewString())
	r := row
	t.rows[id] = &r
	t.order = append(t.order, id)

	t.clearLive()
	if r.Final {
		t.printRow(&r)
	} else {
		t.liveID = id
	}
	t.drawLive()
	return id
}

// UpdateRow implements [View].
func (t *Terminal) UpdateRow(id RowID, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.rows[id]
	if !ok || r.Final {
		return
	}
	r.Text = text
	if id == t.liveID {
		t.clearLive()
		t.drawLive()
	}
}

// FinalizeRow implements [View].
func (t *Terminal) FinalizeRow(id RowID, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.rows[id]
	if !ok || r.Final {
		return
	}
	r.Text = text
	r.Final = true

	t.clearLive()
	t.printRow(r)
	if id == t.liveID {
		t.liveID = ""
	}
	t.drawLive()
}

// SetStatus implements [View]. The status is shown on the live line when no
// live row occupies it.
func (t *Terminal) SetStatus(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.statusText = text
	if t.liveID == "" {
		t.clearLive()
		t.drawLive()
	}
}

// Rows returns a snapshot of all rows in insertion order.
func (t *Terminal) Rows() []Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Row, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.rows[id])
	}
	return out
}

// Status returns the current status text.
func (t *Terminal) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusText
}

func (t *Terminal) render(r *Row) string {
	var label lipgloss.Style
	switch r.Role {
	case RoleUser:
		label = t.user
	case RoleAgent:
		label = t.agent
	default:
		label = t.system
	}
	line := label.Render(r.Role.String()+":") + " " + oneLine(r.Text)
	if r.AudioURL != "" {
		line += " " + t.status.Render("["+r.AudioURL+"]")
	}
	return line
}

func (t *Terminal) printRow(r *Row) {
	fmt.Fprintln(t.w, t.render(r))
}

// clearLive erases the live line if one is drawn. Callers hold t.mu.
func (t *Terminal) clearLive() {
	if t.liveDrawn {
		io.WriteString(t.w, "\r\x1b[2K")
		t.liveDrawn = false
	}
}

// drawLive draws the live row or the status without a trailing newline.
// Callers hold t.mu.
func (t *Terminal) drawLive() {
	var s string
	switch {
	case t.liveID != "":
		s = t.render(t.rows[t.liveID]) + " " + t.status.Render("…")
	case t.statusText != "":
		s = t.status.Render(oneLine(t.statusText))
	default:
		return
	}
	io.WriteString(t.w, s)
	t.liveDrawn = true
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
