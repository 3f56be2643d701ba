package ragapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat is the server's view of one session. The numeric settings are left
// untyped because older chats store them as strings or omit them; callers
// clamp them on the way in.
type Chat struct {
	Messages            []Message `json:"messages"`
	SystemMessage       string    `json:"system_message"`
	Title               string    `json:"title,omitempty"`
	RAGTopK             any       `json:"rag_top_k,omitempty"`
	Temperature         any       `json:"temperature,omitempty"`
	MessageHistoryLimit any       `json:"message_history_limit,omitempty"`
}

type ChatSummary struct {
	ID            string `json:"id"`
	Timestamp     string `json:"timestamp"`
	Preview       string `json:"preview"`
	SystemMessage string `json:"system_message"`
}

type ChatRequest struct {
	Message             string  `json:"message"`
	ChatID              string  `json:"chat_id"`
	ModelID             string  `json:"model_id"`
	SystemMessage       string  `json:"system_message"`
	RAGTopK             int     `json:"rag_top_k"`
	Temperature         float64 `json:"temperature"`
	MessageHistoryLimit int     `json:"message_history_limit"`
}

type ChatResponse struct {
	Response    string `json:"response"`
	RawResponse string `json:"raw_response,omitempty"`
	ChatID      string `json:"chat_id"`
	WordDoc     string `json:"word_doc,omitempty"`
}

type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NewChat creates an empty session and returns its id.
func (c *Client) NewChat(ctx context.Context, systemMessage string) (string, error) {
	in := map[string]any{}
	if systemMessage != "" {
		in["system_message"] = systemMessage
	}
	var out struct {
		ChatID string `json:"chat_id"`
	}
	if err := c.postJSON(ctx, http.MethodPost, "/api/new_chat", in, &out); err != nil {
		return "", fmt.Errorf("new chat: %w", err)
	}
	if out.ChatID == "" {
		return "", fmt.Errorf("new chat: empty chat_id")
	}
	return out.ChatID, nil
}

// GetChat loads a session. It also makes that session the server-side
// active chat, which later uploads attach to.
func (c *Client) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	req, err := c.newRequest(ctx, http.MethodGet, chatPath(chatID, ""), nil)
	if err != nil {
		return nil, err
	}
	var out Chat
	if err := c.doJSON(req, &out); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("get chat %s: %w", chatID, ErrNotFound)
		}
		return nil, fmt.Errorf("get chat %s: %w", chatID, err)
	}
	return &out, nil
}

func (c *Client) UpdateSystemMessage(ctx context.Context, chatID, systemMessage string) error {
	var out struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	in := map[string]string{"system_message": systemMessage}
	if err := c.postJSON(ctx, http.MethodPut, chatPath(chatID, "/system_message"), in, &out); err != nil {
		return fmt.Errorf("update system message: %w", err)
	}
	if !out.Success {
		return fmt.Errorf("update system message: %s", orUnknown(out.Error))
	}
	return nil
}

// SendChat posts one user turn. Cancelling ctx aborts the request.
func (c *Client) SendChat(ctx context.Context, in ChatRequest) (*ChatResponse, error) {
	var out ChatResponse
	if err := c.postJSON(ctx, http.MethodPost, "/api/chat", in, &out); err != nil {
		return nil, fmt.Errorf("send chat: %w", err)
	}
	return &out, nil
}

func (c *Client) ListChats(ctx context.Context) ([]ChatSummary, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/chats", nil)
	if err != nil {
		return nil, err
	}
	var out []ChatSummary
	if err := c.doJSON(req, &out); err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return out, nil
}

func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/models", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Models []Model `json:"models"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return out.Models, nil
}

func orUnknown(msg string) string {
	if msg == "" {
		return "unknown error"
	}
	return msg
}
