package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/ragdesk/internal/ragapi"
)

// SaveKnowledgeBaseRequest names the open session's documents for reuse.
// ChatID defaults to the open session.
type SaveKnowledgeBaseRequest struct {
	Name   string `json:"name" validate:"required,max=200"`
	ChatID string `json:"chat_id,omitempty"`
}

// listKnowledgeBases handles GET /api/v1/knowledge_bases. Attachment state
// is reported for ?chat_id=, or for the open session when it is omitted.
func (s *Server) listKnowledgeBases(w http.ResponseWriter, r *http.Request) {
	if !s.knowledgeReady(w) {
		return
	}
	chatID := r.URL.Query().Get("chat_id")
	if chatID == "" {
		chatID, _ = s.deps.Chat.Current()
	}
	kbs, err := s.deps.Knowledge.ListKnowledgeBases(r.Context(), chatID)
	if err != nil {
		writeKnowledgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, kbs)
}

func (s *Server) saveKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	if !s.knowledgeReady(w) {
		return
	}
	var req SaveKnowledgeBaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := validateRequest(req); err != nil {
		writeValidation(w, err)
		return
	}
	if req.ChatID == "" {
		req.ChatID, _ = s.deps.Chat.Current()
	}
	if req.ChatID == "" {
		writeError(w, http.StatusBadRequest, "no open session to save")
		return
	}
	kb, err := s.deps.Knowledge.SaveKnowledgeBase(r.Context(), req.ChatID, req.Name)
	if err != nil {
		writeKnowledgeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, kb)
}

func (s *Server) attachKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	if !s.knowledgeReady(w) {
		return
	}
	ids, err := s.deps.Knowledge.AttachKnowledgeBase(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "kb_id"))
	if err != nil {
		writeKnowledgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attached_bases": ids})
}

func (s *Server) detachKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	if !s.knowledgeReady(w) {
		return
	}
	ids, err := s.deps.Knowledge.DetachKnowledgeBase(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "kb_id"))
	if err != nil {
		writeKnowledgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attached_bases": ids})
}

func (s *Server) knowledgeReady(w http.ResponseWriter) bool {
	if s.deps.Knowledge == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge bases are not configured")
		return false
	}
	return true
}

func writeKnowledgeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ragapi.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ragapi.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}
