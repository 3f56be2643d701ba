package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/ragdesk/internal/chat"
	"github.com/MikeSquared-Agency/ragdesk/internal/ragapi"
	"github.com/MikeSquared-Agency/ragdesk/internal/transcript"
)

// SessionRequest carries the editor's system message for the session being
// left. Omit it when there is no edit.
type SessionRequest struct {
	SystemMessage *string `json:"system_message,omitempty" validate:"omitempty,max=20000"`
}

// ChatRequest is one user turn. The numeric settings are passed through as
// typed by the user and clamped server-side.
type ChatRequest struct {
	Message             string  `json:"message" validate:"max=100000"`
	ModelID             string  `json:"model_id,omitempty" validate:"omitempty,max=200"`
	SystemMessage       *string `json:"system_message,omitempty" validate:"omitempty,max=20000"`
	RAGTopK             any     `json:"rag_top_k,omitempty"`
	Temperature         any     `json:"temperature,omitempty"`
	MessageHistoryLimit any     `json:"message_history_limit,omitempty"`
}

type ChatResponse struct {
	Response   string `json:"response,omitempty"`
	ChatID     string `json:"chat_id,omitempty"`
	WordDoc    string `json:"word_doc,omitempty"`
	Superseded bool   `json:"superseded,omitempty"`
}

type SessionResponse struct {
	SessionID  string           `json:"session_id"`
	Settings   chat.Snapshot    `json:"settings"`
	Transcript *transcript.View `json:"transcript,omitempty"`
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) {
	id, snap := s.deps.Chat.Current()
	resp := SessionResponse{SessionID: id, Settings: snap}
	if id != "" && s.deps.Transcripts != nil {
		v := s.deps.Transcripts.Get(id)
		resp.Transcript = &v
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) newSession(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSessionRequest(w, r)
	if !ok {
		return
	}
	id, snap, err := s.deps.Chat.New(r.Context(), req.SystemMessage)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{SessionID: id, Settings: snap})
}

func (s *Server) openSession(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSessionRequest(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	snap, err := s.deps.Chat.Open(r.Context(), id, req.SystemMessage)
	if err != nil {
		if errors.Is(err, ragapi.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	resp := SessionResponse{SessionID: id, Settings: snap}
	if s.deps.Transcripts != nil {
		v := s.deps.Transcripts.Get(id)
		resp.Transcript = &v
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeSessionRequest(w http.ResponseWriter, r *http.Request) (SessionRequest, bool) {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return req, false
	}
	if err := validateRequest(req); err != nil {
		writeValidation(w, err)
		return req, false
	}
	return req, true
}

func (s *Server) sendChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := validateRequest(req); err != nil {
		writeValidation(w, err)
		return
	}

	resp, err := s.deps.Chat.Send(r.Context(), chat.SendInput{
		Message:       req.Message,
		ModelID:       req.ModelID,
		SystemMessage: req.SystemMessage,
		TopK:          req.RAGTopK,
		Temperature:   req.Temperature,
		HistoryLimit:  req.MessageHistoryLimit,
	})
	switch {
	case errors.Is(err, chat.ErrSuperseded):
		writeJSON(w, http.StatusOK, ChatResponse{Superseded: true})
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "message is required")
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, ChatResponse{
			Response: resp.Response,
			ChatID:   resp.ChatID,
			WordDoc:  resp.WordDoc,
		})
	}
}

func (s *Server) cancelChat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": s.deps.Chat.CancelActive()})
}

func (s *Server) models(w http.ResponseWriter, r *http.Request) {
	models, err := s.deps.Catalog.ListModels(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *Server) chats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.deps.Catalog.ListChats(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (s *Server) files(w http.ResponseWriter, r *http.Request) {
	files, err := s.deps.Catalog.ListFiles(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}
