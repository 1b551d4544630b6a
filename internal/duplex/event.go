package duplex

import (
	"bytes"
	"encoding/json"
	"strings"
)

// EventKind classifies an inbound message.
type EventKind int

const (
	// EventPartial is a raw partial transcript (plain text frame).
	EventPartial EventKind = iota

	// EventTTSChunk delivers one base64 audio fragment of the current turn.
	EventTTSChunk

	// EventTTSDone signals that no more fragments follow for the current turn.
	EventTTSDone

	// EventTurnEnd closes the current utterance.
	EventTurnEnd

	// EventClosed is the last event on a channel; Err carries the cause of an
	// unexpected close and is nil for a caller-initiated close.
	EventClosed
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventPartial:
		return "partial"
	case EventTTSChunk:
		return "tts_chunk"
	case EventTTSDone:
		return "tts_done"
	case EventTurnEnd:
		return "turn_end"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// HistoryEntry is one message of the backend's conversation history.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Event is one demultiplexed inbound message. Only the fields relevant to
// Kind are populated.
type Event struct {
	Kind EventKind

	// Text is the raw partial transcript (EventPartial).
	Text string

	// AudioB64 is the base64 fragment payload (EventTTSChunk).
	AudioB64 string

	// Transcript and Response are the optional turn_end fields. nil means the
	// field was absent.
	Transcript *string
	Response   *string

	// History is the optional turn_end conversation history.
	History []HistoryEntry

	// Err is the close cause (EventClosed).
	Err error
}

// wireMessage is the JSON shape of structured inbound messages.
type wireMessage struct {
	Type        string         `json:"type"`
	AudioB64    string         `json:"audio_b64"`
	Transcript  *string        `json:"transcript"`
	LLMResponse *string        `json:"llm_response"`
	History     []HistoryEntry `json:"history"`
}

// ParseMessage demultiplexes one inbound text frame.
//
// A frame that decodes as a JSON object is a structured event; recognised
// types yield an event and anything else is ignored. A frame that is not a
// JSON object (including malformed JSON) is a raw partial transcript when it
// is non-empty after trimming. The second return value is false when the
// frame should be ignored.
func ParseMessage(data []byte) (Event, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Event{}, false
	}

	if trimmed[0] == '{' {
		var msg wireMessage
		if err := json.Unmarshal(trimmed, &msg); err == nil {
			return structured(msg)
		}
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return Event{}, false
	}
	return Event{Kind: EventPartial, Text: text}, true
}

func structured(msg wireMessage) (Event, bool) {
	switch msg.Type {
	case "tts_chunk":
		if msg.AudioB64 == "" {
			return Event{}, false
		}
		return Event{Kind: EventTTSChunk, AudioB64: msg.AudioB64}, true
	case "tts_done":
		return Event{Kind: EventTTSDone}, true
	case "turn_end":
		return Event{
			Kind:       EventTurnEnd,
			Transcript: msg.Transcript,
			Response:   msg.LLMResponse,
			History:    msg.History,
		}, true
	default:
		return Event{}, false
	}
}
