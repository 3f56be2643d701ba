package transcript

import (
	"testing"

	"github.com/MikeSquared-Agency/ragdesk/internal/chat"
	"github.com/MikeSquared-Agency/ragdesk/internal/events"
	"github.com/MikeSquared-Agency/ragdesk/internal/ragapi"
)

func TestStore_TranscriptLifecycle(t *testing.T) {
	rec := events.NewRecorder(0)
	s := New(rec)

	s.LoadTranscript("s1", []ragapi.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	})
	s.AppendUser("s1", "what is in the report?")
	s.ShowTyping("s1")
	if !s.Get("s1").Typing {
		t.Error("expected typing indicator")
	}
	s.HideTyping("s1")
	s.AppendAssistant("s1", chat.Reply{Content: "three findings", WordDoc: "/export/1.docx"})

	v := s.Get("s1")
	if len(v.Entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(v.Entries))
	}
	last := v.Entries[3]
	if last.Role != "assistant" || last.WordDoc != "/export/1.docx" {
		t.Errorf("unexpected last entry %+v", last)
	}
	if v.Typing {
		t.Error("typing should be off")
	}

	if n := len(rec.OfType(events.ChatTyping)); n != 2 {
		t.Errorf("expected 2 typing events, got %d", n)
	}
	replies := rec.OfType(events.ChatReply)
	if len(replies) != 1 || replies[0].Data["word_doc"] != "/export/1.docx" {
		t.Errorf("unexpected reply events %+v", replies)
	}
}

func TestStore_FailedReplyAndRename(t *testing.T) {
	rec := events.NewRecorder(0)
	s := New(rec)

	s.AppendUser("tmp", "hello")
	s.AppendAssistant("tmp", chat.Reply{Content: chat.FallbackReply, Failed: true})
	s.SessionIDChanged("tmp", "real")

	if n := len(s.Get("tmp").Entries); n != 0 {
		t.Errorf("old id should be empty, got %d entries", n)
	}
	v := s.Get("real")
	if len(v.Entries) != 2 || !v.Entries[1].Failed {
		t.Errorf("transcript should move with its failed reply: %+v", v.Entries)
	}
	if n := len(rec.OfType(events.ChatFailed)); n != 1 {
		t.Errorf("expected 1 chat.failed event, got %d", n)
	}
	changed := rec.OfType(events.ChatSessionChanged)
	if len(changed) != 1 || changed[0].Data["previous"] != "tmp" {
		t.Errorf("unexpected session change events %+v", changed)
	}
}
