package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MikeSquared-Agency/ragdesk/internal/ragapi"
)

// SessionStore is the part of the chat server that persists sessions.
type SessionStore interface {
	GetChat(ctx context.Context, chatID string) (*ragapi.Chat, error)
	UpdateSystemMessage(ctx context.Context, chatID, systemMessage string) error
}

// SessionCache holds the configuration of the open session as the server
// last saw it, so unchanged edits never cost a request.
type SessionCache struct {
	store  SessionStore
	logger *slog.Logger

	mu        sync.Mutex
	sessionID string
	snap      Snapshot
}

func NewSessionCache(store SessionStore, logger *slog.Logger) *SessionCache {
	return &SessionCache{
		store:  store,
		logger: logger,
		snap:   Snapshot{Params: DefaultParams()},
	}
}

// LoadSnapshot fetches a session and replaces the cached snapshot with its
// settings. The chat is returned so callers can render the transcript.
func (c *SessionCache) LoadSnapshot(ctx context.Context, sessionID string) (*ragapi.Chat, error) {
	chat, err := c.store.GetChat(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	snap := SnapshotFromChat(chat)

	c.mu.Lock()
	c.sessionID = sessionID
	c.snap = snap
	c.mu.Unlock()

	c.logger.Debug("session snapshot loaded", "session_id", sessionID,
		"rag_top_k", snap.TopK, "temperature", snap.Temperature, "message_history_limit", snap.HistoryLimit)
	return chat, nil
}

// PersistIfChanged saves proposed as the system message of sessionID when
// it differs from the cached one. It returns whether a request was made.
// Nothing is saved for a session that is not the open one.
func (c *SessionCache) PersistIfChanged(ctx context.Context, sessionID, proposed string) (bool, error) {
	c.mu.Lock()
	open := c.sessionID
	current := c.snap.SystemMessage
	c.mu.Unlock()

	if sessionID == "" || sessionID != open || proposed == current {
		return false, nil
	}
	if err := c.store.UpdateSystemMessage(ctx, sessionID, proposed); err != nil {
		return true, fmt.Errorf("persist system message for %s: %w", sessionID, err)
	}

	c.mu.Lock()
	if c.sessionID == sessionID {
		c.snap.SystemMessage = proposed
	}
	c.mu.Unlock()
	c.logger.Info("system message saved", "session_id", sessionID)
	return true, nil
}

// Apply folds values that were confirmed sent for sessionID back into the
// snapshot. It is a no-op once another session is open.
func (c *SessionCache) Apply(sessionID string, p Params, systemMessage string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sessionID != c.sessionID {
		return
	}
	c.snap.TopK = p.TopK
	c.snap.Temperature = p.Temperature
	c.snap.HistoryLimit = p.HistoryLimit
	c.snap.SystemMessage = systemMessage
}

// Rename follows a server-side id change of the open session.
func (c *SessionCache) Rename(oldID, newID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == oldID {
		c.sessionID = newID
	}
}

// Current returns the open session id ("" when none) and its snapshot.
func (c *SessionCache) Current() (string, Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.snap
}
