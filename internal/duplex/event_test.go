package duplex

import "testing"

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want EventKind
		ok   bool
		text string
	}{
		{name: "plain text partial", in: "hello there", want: EventPartial, ok: true, text: "hello there"},
		{name: "trimmed partial", in: "  hi \n", want: EventPartial, ok: true, text: "hi"},
		{name: "whitespace only", in: "   ", ok: false},
		{name: "tts chunk", in: `{"type":"tts_chunk","audio_b64":"UklGRg=="}`, want: EventTTSChunk, ok: true},
		{name: "tts chunk without audio", in: `{"type":"tts_chunk"}`, ok: false},
		{name: "tts done", in: `{"type":"tts_done"}`, want: EventTTSDone, ok: true},
		{name: "turn end", in: `{"type":"turn_end"}`, want: EventTurnEnd, ok: true},
		{name: "unknown type ignored", in: `{"type":"ping"}`, ok: false},
		{name: "malformed json is partial", in: `{"type":"tts_chunk"`, want: EventPartial, ok: true, text: `{"type":"tts_chunk"`},
		{name: "json array is partial", in: `[1,2]`, want: EventPartial, ok: true, text: `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := ParseMessage([]byte(tt.in))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if ev.Kind != tt.want {
				t.Errorf("kind = %s, want %s", ev.Kind, tt.want)
			}
			if tt.text != "" && ev.Text != tt.text {
				t.Errorf("text = %q, want %q", ev.Text, tt.text)
			}
		})
	}
}

func TestParseMessage_TurnEndFields(t *testing.T) {
	ev, ok := ParseMessage([]byte(`{"type":"turn_end","transcript":"hi","llm_response":"hello","history":[{"role":"user","content":"hi"}]}`))
	if !ok {
		t.Fatal("turn_end ignored")
	}
	if ev.Transcript == nil || *ev.Transcript != "hi" {
		t.Errorf("transcript = %v, want hi", ev.Transcript)
	}
	if ev.Response == nil || *ev.Response != "hello" {
		t.Errorf("response = %v, want hello", ev.Response)
	}
	if len(ev.History) != 1 || ev.History[0].Role != "user" {
		t.Errorf("history = %+v", ev.History)
	}

	ev, _ = ParseMessage([]byte(`{"type":"turn_end","transcript":""}`))
	if ev.Transcript == nil || *ev.Transcript != "" {
		t.Error("empty transcript should be present but empty")
	}
	if ev.Response != nil {
		t.Error("absent llm_response should be nil")
	}
}

func TestEventKind_String(t *testing.T) {
	if got := EventKind(99).String(); got != "unknown" {
		t.Errorf("String() = %q, want unknown", got)
	}
	if got := EventTurnEnd.String(); got != "turn_end" {
		t.Errorf("String() = %q, want turn_end", got)
	}
}
