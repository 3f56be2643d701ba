package transcript

import (
	"sync"
	"time"

	"github.com/MikeSquared-Agency/ragdesk/internal/chat"
	"github.com/MikeSquared-Agency/ragdesk/internal/events"
	"github.com/MikeSquared-Agency/ragdesk/internal/ragapi"
)

type Entry struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	WordDoc string    `json:"word_doc,omitempty"`
	Failed  bool      `json:"failed,omitempty"`
	Time    time.Time `json:"time"`
}

// View is what a UI needs to draw one session.
type View struct {
	SessionID string  `json:"session_id"`
	Entries   []Entry `json:"entries"`
	Typing    bool    `json:"typing"`
}

type session struct {
	entries []Entry
	typing  bool
}

// Store keeps the rendered transcript of every session seen in this run and
// forwards changes to an event sink. It implements chat.SessionView.
type Store struct {
	sink events.Sink

	mu       sync.Mutex
	sessions map[string]*session
}

var _ chat.SessionView = (*Store)(nil)

func New(sink events.Sink) *Store {
	if sink == nil {
		sink = events.Discard
	}
	return &Store{sink: sink, sessions: make(map[string]*session)}
}

func (s *Store) LoadTranscript(sessionID string, msgs []ragapi.Message) {
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, Entry{Role: m.Role, Content: m.Content})
	}
	s.mu.Lock()
	s.sessions[sessionID] = &session{entries: entries}
	s.mu.Unlock()
}

func (s *Store) AppendUser(sessionID, content string) {
	s.mu.Lock()
	sess := s.sessionLocked(sessionID)
	sess.entries = append(sess.entries, Entry{Role: "user", Content: content, Time: time.Now().UTC()})
	s.mu.Unlock()
}

func (s *Store) AppendAssistant(sessionID string, r chat.Reply) {
	now := time.Now().UTC()
	s.mu.Lock()
	sess := s.sessionLocked(sessionID)
	sess.entries = append(sess.entries, Entry{
		Role:    "assistant",
		Content: r.Content,
		WordDoc: r.WordDoc,
		Failed:  r.Failed,
		Time:    now,
	})
	s.mu.Unlock()

	typ := events.ChatReply
	if r.Failed {
		typ = events.ChatFailed
	}
	ev := events.Event{Type: typ, SessionID: sessionID, Message: r.Content, Time: now}
	if r.WordDoc != "" {
		ev.Data = map[string]any{"word_doc": r.WordDoc}
	}
	s.sink.Emit(ev)
}

func (s *Store) ShowTyping(sessionID string) { s.setTyping(sessionID, true) }

func (s *Store) HideTyping(sessionID string) { s.setTyping(sessionID, false) }

func (s *Store) setTyping(sessionID string, on bool) {
	s.mu.Lock()
	sess := s.sessionLocked(sessionID)
	changed := sess.typing != on
	sess.typing = on
	s.mu.Unlock()

	if changed {
		s.sink.Emit(events.Event{
			Type:      events.ChatTyping,
			SessionID: sessionID,
			Data:      map[string]any{"typing": on},
			Time:      time.Now().UTC(),
		})
	}
}

// SessionIDChanged moves a transcript to the id the server assigned.
func (s *Store) SessionIDChanged(oldID, newID string) {
	s.mu.Lock()
	if sess, ok := s.sessions[oldID]; ok {
		s.sessions[newID] = sess
		delete(s.sessions, oldID)
	}
	s.mu.Unlock()

	s.sink.Emit(events.Event{
		Type:      events.ChatSessionChanged,
		SessionID: newID,
		Data:      map[string]any{"previous": oldID},
		Time:      time.Now().UTC(),
	})
}

// Get returns a copy of one session's transcript.
func (s *Store) Get(sessionID string) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{SessionID: sessionID, Entries: []Entry{}}
	if sess, ok := s.sessions[sessionID]; ok {
		v.Entries = append(v.Entries, sess.entries...)
		v.Typing = sess.typing
	}
	return v
}

func (s *Store) sessionLocked(id string) *session {
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{}
		s.sessions[id] = sess
	}
	return sess
}
