package ragapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// ErrConflict is returned when a knowledge base name is already taken.
var ErrConflict = errors.New("conflict")

// KnowledgeBase is a saved copy of a chat's vector store that other chats
// can attach to widen retrieval.
type KnowledgeBase struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CreatedAt    string `json:"created_at,omitempty"`
	Attached     bool   `json:"attached"`
	SourceChatID string `json:"source_chat_id,omitempty"`
}

// KnowledgeBases is the catalog as seen from one chat.
type KnowledgeBases struct {
	Bases    []KnowledgeBase `json:"knowledge_bases"`
	Attached []string        `json:"attached_bases"`
}

// ListKnowledgeBases returns the saved bases, marking the ones attached to
// chatID. An empty chatID lists them without attachment state.
func (c *Client) ListKnowledgeBases(ctx context.Context, chatID string) (*KnowledgeBases, error) {
	path := "/api/knowledge_bases"
	if chatID != "" {
		path = chatPath(chatID, "/knowledge_bases")
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var out KnowledgeBases
	if err := c.doJSON(req, &out); err != nil {
		return nil, fmt.Errorf("list knowledge bases: %w", kbError(err))
	}
	if out.Bases == nil {
		out.Bases = []KnowledgeBase{}
	}
	if out.Attached == nil {
		out.Attached = []string{}
	}
	return &out, nil
}

// SaveKnowledgeBase stores chatID's indexed documents under name.
func (c *Client) SaveKnowledgeBase(ctx context.Context, chatID, name string) (*KnowledgeBase, error) {
	var out struct {
		Success       bool          `json:"success"`
		KnowledgeBase KnowledgeBase `json:"knowledge_base"`
	}
	in := map[string]string{"name": name, "chat_id": chatID}
	if err := c.postJSON(ctx, http.MethodPost, "/api/knowledge_bases", in, &out); err != nil {
		return nil, fmt.Errorf("save knowledge base %q: %w", name, kbError(err))
	}
	return &out.KnowledgeBase, nil
}

// AttachKnowledgeBase adds kbID to the bases chatID retrieves from and
// returns the resulting set.
func (c *Client) AttachKnowledgeBase(ctx context.Context, chatID, kbID string) ([]string, error) {
	return c.setAttachment(ctx, http.MethodPost, chatID, kbID)
}

// DetachKnowledgeBase removes kbID from chatID. Detaching a base that is not
// attached succeeds.
func (c *Client) DetachKnowledgeBase(ctx context.Context, chatID, kbID string) ([]string, error) {
	return c.setAttachment(ctx, http.MethodDelete, chatID, kbID)
}

func (c *Client) setAttachment(ctx context.Context, method, chatID, kbID string) ([]string, error) {
	req, err := c.newRequest(ctx, method, chatPath(chatID, "/knowledge_bases/"+url.PathEscape(kbID)), nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Attached []string `json:"attached_bases"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return nil, fmt.Errorf("%s knowledge base %s on chat %s: %w", attachVerb(method), kbID, chatID, kbError(err))
	}
	if out.Attached == nil {
		out.Attached = []string{}
	}
	return out.Attached, nil
}

func attachVerb(method string) string {
	if method == http.MethodDelete {
		return "detach"
	}
	return "attach"
}

// kbError maps the statuses callers branch on to sentinels, keeping the
// server's text.
func kbError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, apiErr.Message)
	}
	return err
}
