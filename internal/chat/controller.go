package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/ragdesk/internal/events"
	"github.com/MikeSquared-Agency/ragdesk/internal/ragapi"
)

var ErrEmptyMessage = errors.New("empty message")

// Backend is everything the controller needs from the chat server.
type Backend interface {
	Completer
	SessionStore
	NewChat(ctx context.Context, systemMessage string) (string, error)
}

// SessionView is a View that can also show a whole transcript and the
// user's own turns.
type SessionView interface {
	View
	LoadTranscript(sessionID string, msgs []ragapi.Message)
	AppendUser(sessionID, content string)
}

// SendInput is a user turn as it arrives from the UI. The numeric settings
// are raw input and get clamped against the open session's snapshot.
type SendInput struct {
	Message       string
	ModelID       string
	SystemMessage *string
	TopK          any
	Temperature   any
	HistoryLimit  any
}

// Controller ties the coordinator and the session cache together. Session
// switches are serialized and always flush a pending system message edit
// before cancelling the outstanding turn and loading the next session.
type Controller struct {
	backend      Backend
	cache        *SessionCache
	coord        *Coordinator
	view         SessionView
	sink         events.Sink
	defaultModel string
	logger       *slog.Logger

	switchMu sync.Mutex
}

func NewController(backend Backend, view SessionView, sink events.Sink, defaultModel string, logger *slog.Logger) *Controller {
	if sink == nil {
		sink = events.Discard
	}
	c := &Controller{
		backend:      backend,
		cache:        NewSessionCache(backend, logger),
		view:         view,
		sink:         sink,
		defaultModel: defaultModel,
		logger:       logger,
	}
	c.coord = NewCoordinator(backend, renameView{SessionView: view, cache: c.cache}, logger)
	return c
}

// renameView keeps the cache in step when the server renames a session.
type renameView struct {
	SessionView
	cache *SessionCache
}

func (v renameView) SessionIDChanged(oldID, newID string) {
	v.cache.Rename(oldID, newID)
	v.SessionView.SessionIDChanged(oldID, newID)
}

// Open switches to an existing session. pendingSystemMessage is the
// editor's current text for the session being left; nil means no edit.
func (c *Controller) Open(ctx context.Context, sessionID string, pendingSystemMessage *string) (Snapshot, error) {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()
	return c.openLocked(ctx, sessionID, pendingSystemMessage)
}

// New creates a session and opens it.
func (c *Controller) New(ctx context.Context, pendingSystemMessage *string) (string, Snapshot, error) {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.flushLocked(ctx, pendingSystemMessage)
	c.coord.CancelActive()

	id, err := c.backend.NewChat(ctx, "")
	if err != nil {
		return "", Snapshot{}, fmt.Errorf("create session: %w", err)
	}
	snap, err := c.loadLocked(ctx, id)
	if err != nil {
		return "", Snapshot{}, err
	}
	c.logger.Info("session created", "session_id", id)
	return id, snap, nil
}

func (c *Controller) openLocked(ctx context.Context, sessionID string, pending *string) (Snapshot, error) {
	c.flushLocked(ctx, pending)
	c.coord.CancelActive()
	return c.loadLocked(ctx, sessionID)
}

// flushLocked saves an edited system message for the session being left.
// A failed save is logged and the switch goes on.
func (c *Controller) flushLocked(ctx context.Context, pending *string) {
	if pending == nil {
		return
	}
	current, _ := c.cache.Current()
	if _, err := c.cache.PersistIfChanged(ctx, current, *pending); err != nil {
		c.logger.Warn("system message not saved before switch", "session_id", current, "error", err)
	}
}

func (c *Controller) loadLocked(ctx context.Context, sessionID string) (Snapshot, error) {
	chat, err := c.cache.LoadSnapshot(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	c.view.LoadTranscript(sessionID, chat.Messages)
	_, snap := c.cache.Current()
	c.sink.Emit(events.Event{
		Type:      events.SessionOpened,
		SessionID: sessionID,
		Message:   chat.Title,
		Data:      map[string]any{"messages": len(chat.Messages)},
		Time:      time.Now().UTC(),
	})
	return snap, nil
}

// Send posts a user turn to the open session, creating one first when none
// is open. A turn cancelled by a newer one returns ErrSuperseded.
func (c *Controller) Send(ctx context.Context, in SendInput) (*ragapi.ChatResponse, error) {
	if in.Message == "" {
		return nil, ErrEmptyMessage
	}

	c.switchMu.Lock()
	sessionID, snap := c.cache.Current()
	if sessionID == "" {
		id, err := c.backend.NewChat(ctx, "")
		if err != nil {
			c.switchMu.Unlock()
			return nil, fmt.Errorf("create session: %w", err)
		}
		if snap, err = c.loadLocked(ctx, id); err != nil {
			c.switchMu.Unlock()
			return nil, err
		}
		sessionID = id
	}

	turn := Turn{
		SessionID:     sessionID,
		ModelID:       in.ModelID,
		Message:       in.Message,
		SystemMessage: snap.SystemMessage,
		Params:        snap.Params.Resolve(in.TopK, in.Temperature, in.HistoryLimit),
	}
	if turn.ModelID == "" {
		turn.ModelID = c.defaultModel
	}
	if in.SystemMessage != nil {
		turn.SystemMessage = *in.SystemMessage
	}
	c.view.AppendUser(sessionID, in.Message)
	// Register the turn before releasing the switch lock so a concurrent
	// switch cancels it instead of racing it.
	tok := c.coord.begin(ctx, turn)
	c.switchMu.Unlock()

	resp, err := c.coord.await(tok)
	if err != nil {
		return nil, err
	}

	appliedTo := sessionID
	if resp.ChatID != "" {
		appliedTo = resp.ChatID
	}
	c.cache.Apply(appliedTo, turn.Params, turn.SystemMessage)
	return resp, nil
}

// CancelActive aborts the outstanding turn, if any.
func (c *Controller) CancelActive() bool {
	return c.coord.CancelActive()
}

// Current returns the open session and its snapshot.
func (c *Controller) Current() (string, Snapshot) {
	return c.cache.Current()
}

func (c *Controller) Busy() bool {
	return c.coord.Busy()
}
