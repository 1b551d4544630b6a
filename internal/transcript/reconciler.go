// Package transcript turns the backend's partial and final speech-to-text
// events into stable chat rows.
//
// The [Reconciler] keeps at most one live row per utterance. Partials create
// or update that row in place; a turn boundary finalises it, adds the agent's
// response as a separate row, and resets state so that anything arriving
// afterwards belongs to the next utterance.
//
// The backend protocol carries no turn identifier, so overlapping turns
// cannot be told apart. The reconciler assumes the backend never overlaps
// them.
package transcript

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voicelink/internal/chat"
	"github.com/MrWong99/voicelink/internal/duplex"
	"github.com/MrWong99/voicelink/internal/observe"
)

// Turn is one completed utterance and its response.
type Turn struct {
	// UserText is the final, normalised transcript.
	UserText string

	// AgentText is the agent response; empty when none was sent.
	AgentText string

	// History is the backend's conversation history as of this turn.
	History []duplex.HistoryEntry

	// EndedAt is when the turn boundary was processed.
	EndedAt time.Time
}

// TurnEnd is the payload of a turn boundary. nil fields were absent.
type TurnEnd struct {
	Transcript *string
	Response   *string

	// AudioURL is attached to the agent row when the response audio is
	// available as a URL (single-shot chat path).
	AudioURL string

	History []duplex.HistoryEntry
}

// Option is a functional option for configuring a [Reconciler].
type Option func(*Reconciler)

// WithMetrics counts completed turns on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// WithClock overrides the time source used to stamp turns.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// Reconciler is the per-session transcript state machine.
//
// Methods are safe for concurrent use but events must be fed in arrival
// order by a single caller for the display to be meaningful.
type Reconciler struct {
	view    chat.View
	metrics *observe.Metrics
	now     func() time.Time

	mu          sync.Mutex
	liveID      chat.RowID
	hasLive     bool
	lastPartial string
	turns       []Turn
}

// NewReconciler returns a Reconciler that renders into view.
func NewReconciler(view chat.View, opts ...Option) *Reconciler {
	r := &Reconciler{
		view: view,
		now:  time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Partial applies one raw partial transcript. Text that normalises to the
// empty string or to the last displayed partial is ignored.
func (r *Reconciler) Partial(text string) {
	norm := Normalize(text)
	if norm == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if norm == r.lastPartial {
		return
	}
	r.lastPartial = norm

	if r.hasLive {
		r.view.UpdateRow(r.liveID, norm)
	} else {
		r.liveID = r.view.AddRow(chat.Row{Role: chat.RoleUser, Text: norm})
		r.hasLive = true
	}
	r.view.SetStatus(norm)
}

// TurnEnd closes the current utterance. The final text is the transcript when
// present and non-empty, otherwise the last partial. When neither exists and
// no live row was started, no user row is created.
func (r *Reconciler) TurnEnd(ctx context.Context, end TurnEnd) Turn {
	r.mu.Lock()
	defer r.mu.Unlock()

	final := ""
	if end.Transcript != nil {
		final = Normalize(*end.Transcript)
	}
	if final == "" {
		final = r.lastPartial
	}

	switch {
	case r.hasLive:
		r.view.FinalizeRow(r.liveID, final)
	case final != "":
		r.view.AddRow(chat.Row{Role: chat.RoleUser, Text: final, Final: true})
	}

	turn := Turn{
		UserText: final,
		History:  end.History,
		EndedAt:  r.now(),
	}
	if end.Response != nil && *end.Response != "" {
		turn.AgentText = *end.Response
		r.view.AddRow(chat.Row{
			Role:     chat.RoleAgent,
			Text:     *end.Response,
			Final:    true,
			AudioURL: end.AudioURL,
		})
	}

	r.hasLive = false
	r.liveID = ""
	r.lastPartial = ""
	r.turns = append(r.turns, turn)

	if r.metrics != nil {
		r.metrics.Turns.Add(ctx, 1)
	}
	observe.Logger(ctx).Debug("transcript: turn ended",
		slog.Int("user_chars", len(final)),
		slog.Bool("has_response", turn.AgentText != ""),
	)
	return turn
}

// Turns returns every completed turn in order.
func (r *Reconciler) Turns() []Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Turn(nil), r.turns...)
}

// LastPartial returns the latest displayed partial of the open utterance.
func (r *Reconciler) LastPartial() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastPartial
}
