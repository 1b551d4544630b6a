// Package chat renders the conversation as a list of rows.
//
// A row is either mutable (the live row of an utterance in progress) or
// final. The [View] interface is what the transcript reconciler drives; the
// [Terminal] implementation draws rows on a terminal with lipgloss.
package chat

// Role identifies who a row belongs to.
type Role int

const (
	RoleUser Role = iota
	RoleAgent
	RoleSystem
)

// String returns the human-readable name of the role.
func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAgent:
		return "agent"
	case RoleSystem:
		return "system"
	default:
		return "unknown"
	}
}

// RowID identifies a row for later updates.
type RowID string

// Row is one chat entry.
type Row struct {
	Role Role
	Text string

	// Final rows are never mutated again.
	Final bool

	// AudioURL is the playable response audio for agent rows, if any.
	AudioURL string
}

// View is the sink for conversation rows and the status indicator.
//
// Implementations must be safe for concurrent use.
type View interface {
	// AddRow appends a row and returns its id.
	AddRow(row Row) RowID

	// UpdateRow replaces the text of a non-final row.
	UpdateRow(id RowID, text string)

	// FinalizeRow sets the row's final text and marks it final.
	FinalizeRow(id RowID, text string)

	// SetStatus replaces the status indicator text.
	SetStatus(text string)
}
