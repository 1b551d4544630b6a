// Package mock provides a recording implementation of chat.View for tests.
package mock

import (
	"fmt"
	"sync"

	"github.com/MrWong99/voicelink/internal/chat"
)

// Call is one recorded View method invocation.
type Call struct {
	Method string
	ID     chat.RowID
	Text   string
}

// View records every call and keeps the resulting rows.
type View struct {
	mu       sync.Mutex
	rows     []chat.Row
	ids      []chat.RowID
	statuses []string
	calls    []Call
}

var _ chat.View = (*View)(nil)

// AddRow implements chat.View.
func (v *View) AddRow(row chat.Row) chat.RowID {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := chat.RowID(fmt.Sprintf("row-%d", len(v.rows)+1))
	v.rows = append(v.rows, row)
	v.ids = append(v.ids, id)
	v.calls = append(v.calls, Call{Method: "AddRow", ID: id, Text: row.Text})
	return id
}

// UpdateRow implements chat.View.
func (v *View) UpdateRow(id chat.RowID, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, Call{Method: "UpdateRow", ID: id, Text: text})
	if i := v.index(id); i >= 0 && !v.rows[i].Final {
		v.rows[i].Text = text
	}
}

// FinalizeRow implements chat.View.
func (v *View) FinalizeRow(id chat.RowID, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, Call{Method: "FinalizeRow", ID: id, Text: text})
	if i := v.index(id); i >= 0 && !v.rows[i].Final {
		v.rows[i].Text = text
		v.rows[i].Final = true
	}
}

// SetStatus implements chat.View.
func (v *View) SetStatus(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, Call{Method: "SetStatus", Text: text})
	v.statuses = append(v.statuses, text)
}

// Rows returns a copy of the current rows.
func (v *View) Rows() []chat.Row {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]chat.Row(nil), v.rows...)
}

// Statuses returns every status set, in order.
func (v *View) Statuses() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.statuses...)
}

// Calls returns every recorded call, in order.
func (v *View) Calls() []Call {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Call(nil), v.calls...)
}

func (v *View) index(id chat.RowID) int {
	for i, x := range v.ids {
		if x == id {
			return i
		}
	}
	return -1
}
