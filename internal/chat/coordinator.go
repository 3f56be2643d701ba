package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MikeSquared-Agency/ragdesk/internal/ragapi"
)

// ErrSuperseded is returned for a turn that was cancelled by a newer turn
// or a session switch. It is not a failure and nothing was applied.
var ErrSuperseded = errors.New("chat request superseded")

// FallbackReply is appended in place of the assistant turn when a request
// fails.
const FallbackReply = "Sorry, the assistant could not answer. Please try again."

// Completer posts a chat turn to the server.
type Completer interface {
	SendChat(ctx context.Context, in ragapi.ChatRequest) (*ragapi.ChatResponse, error)
}

// Reply is one assistant turn as handed to the view.
type Reply struct {
	Content string `json:"content"`
	Raw     string `json:"raw,omitempty"`
	WordDoc string `json:"word_doc,omitempty"`
	Failed  bool   `json:"failed,omitempty"`
}

// View is the rendering side of a chat session. Methods are called with
// the coordinator's lock held and must not call back into it.
type View interface {
	ShowTyping(sessionID string)
	HideTyping(sessionID string)
	AppendAssistant(sessionID string, r Reply)
	SessionIDChanged(oldID, newID string)
}

// Turn is one outgoing user message with its settings already resolved.
type Turn struct {
	SessionID     string
	ModelID       string
	Message       string
	SystemMessage string
	Params        Params
}

func (t Turn) request() ragapi.ChatRequest {
	p := t.Params.Normalize()
	return ragapi.ChatRequest{
		Message:             t.Message,
		ChatID:              t.SessionID,
		ModelID:             t.ModelID,
		SystemMessage:       t.SystemMessage,
		RAGTopK:             p.TopK,
		Temperature:         p.Temperature,
		MessageHistoryLimit: p.HistoryLimit,
	}
}

// Coordinator keeps at most one chat request in flight. Starting a turn
// cancels the previous one, and a cancelled turn never touches the view.
type Coordinator struct {
	client Completer
	view   View
	logger *slog.Logger

	mu   sync.Mutex
	seq  uint64
	live *inflight
}

type inflight struct {
	seq       uint64
	sessionID string
	ctx       context.Context
	cancel    context.CancelFunc
	turn      Turn
}

func NewCoordinator(client Completer, view View, logger *slog.Logger) *Coordinator {
	return &Coordinator{client: client, view: view, logger: logger}
}

// SendTurn cancels any outstanding turn, posts this one and applies the
// outcome to the view if the turn is still current when it returns.
func (c *Coordinator) SendTurn(ctx context.Context, turn Turn) (*ragapi.ChatResponse, error) {
	return c.await(c.begin(ctx, turn))
}

func (c *Coordinator) begin(ctx context.Context, turn Turn) *inflight {
	reqCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.seq++
	tok := &inflight{
		seq:       c.seq,
		sessionID: turn.SessionID,
		ctx:       reqCtx,
		cancel:    cancel,
		turn:      turn,
	}
	c.live = tok
	c.view.ShowTyping(turn.SessionID)
	return tok
}

func (c *Coordinator) await(tok *inflight) (*ragapi.ChatResponse, error) {
	resp, err := c.client.SendChat(tok.ctx, tok.turn.request())

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live != tok {
		c.logger.Debug("discarding superseded chat reply", "seq", tok.seq, "session_id", tok.sessionID)
		return nil, ErrSuperseded
	}
	c.live = nil
	tok.cancel()
	c.view.HideTyping(tok.sessionID)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			// The caller gave up on the turn; treat it like a cancel.
			return nil, fmt.Errorf("send turn: %w", err)
		}
		c.logger.Error("chat turn failed", "session_id", tok.sessionID, "error", err)
		c.view.AppendAssistant(tok.sessionID, Reply{Content: FallbackReply, Failed: true})
		return nil, fmt.Errorf("send turn: %w", err)
	}

	c.view.AppendAssistant(tok.sessionID, Reply{
		Content: resp.Response,
		Raw:     resp.RawResponse,
		WordDoc: resp.WordDoc,
	})
	if resp.ChatID != "" && resp.ChatID != tok.sessionID {
		c.logger.Info("session id changed", "old", tok.sessionID, "new", resp.ChatID)
		c.view.SessionIDChanged(tok.sessionID, resp.ChatID)
	}
	return resp, nil
}

// CancelActive aborts the outstanding turn, if any, and clears its typing
// indicator. It reports whether a turn was cancelled.
func (c *Coordinator) CancelActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelLocked()
}

func (c *Coordinator) cancelLocked() bool {
	if c.live == nil {
		return false
	}
	c.live.cancel()
	c.view.HideTyping(c.live.sessionID)
	c.logger.Debug("chat turn cancelled", "seq", c.live.seq, "session_id", c.live.sessionID)
	c.live = nil
	return true
}

// Busy reports whether a turn is in flight.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live != nil
}
