package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/ragdesk/internal/chat"
	"github.com/MikeSquared-Agency/ragdesk/internal/events"
	"github.com/MikeSquared-Agency/ragdesk/internal/ragapi"
	"github.com/MikeSquared-Agency/ragdesk/internal/store"
	"github.com/MikeSquared-Agency/ragdesk/internal/transcript"
	"github.com/MikeSquared-Agency/ragdesk/internal/uploadq"
)

type Queue interface {
	Enqueue(f uploadq.File, mode uploadq.Mode) (uploadq.Item, error)
	Items() []uploadq.Item
	Item(id string) (uploadq.Item, bool)
	Wait(ctx context.Context) error
}

type Chat interface {
	Open(ctx context.Context, sessionID string, pendingSystemMessage *string) (chat.Snapshot, error)
	New(ctx context.Context, pendingSystemMessage *string) (string, chat.Snapshot, error)
	Send(ctx context.Context, in chat.SendInput) (*ragapi.ChatResponse, error)
	CancelActive() bool
	Current() (string, chat.Snapshot)
	Busy() bool
}

type Transcripts interface {
	Get(sessionID string) transcript.View
}

// History is the upload journal. It is optional.
type History interface {
	RecentUploads(ctx context.Context, limit int) ([]store.UploadRow, error)
}

// Catalog lists what the chat server offers.
type Catalog interface {
	ListModels(ctx context.Context) ([]ragapi.Model, error)
	ListChats(ctx context.Context) ([]ragapi.ChatSummary, error)
	ListFiles(ctx context.Context) ([]ragapi.File, error)
}

// Knowledge manages saved knowledge bases and which chats retrieve from
// them.
type Knowledge interface {
	ListKnowledgeBases(ctx context.Context, chatID string) (*ragapi.KnowledgeBases, error)
	SaveKnowledgeBase(ctx context.Context, chatID, name string) (*ragapi.KnowledgeBase, error)
	AttachKnowledgeBase(ctx context.Context, chatID, kbID string) ([]string, error)
	DetachKnowledgeBase(ctx context.Context, chatID, kbID string) ([]string, error)
}

// Activity replays recent events to a UI that attaches late.
type Activity interface {
	Events() []events.Event
}

// Live streams events as they happen.
type Live interface {
	Subscribe(buffer int) (<-chan events.Event, func())
}

type Deps struct {
	Queue       Queue
	Chat        Chat
	Transcripts Transcripts
	History     History
	Catalog     Catalog
	Knowledge   Knowledge
	Activity    Activity
	Live        Live
}

type Server struct {
	router *chi.Mux
	port   int
	deps   Deps
	http   *http.Server
}

func NewServer(port int, deps Deps) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   port,
		deps:   deps,
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	router.Get("/health", s.health)
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/queue", s.listQueue)
		r.Post("/queue", s.enqueue)
		r.Get("/uploads/history", s.uploadHistory)

		r.Get("/session", s.session)
		r.Post("/session/new", s.newSession)
		r.Post("/session/{id}/open", s.openSession)

		r.Post("/chat", s.sendChat)
		r.Post("/chat/cancel", s.cancelChat)

		r.Get("/models", s.models)
		r.Get("/chats", s.chats)
		r.Get("/files", s.files)

		r.Get("/knowledge_bases", s.listKnowledgeBases)
		r.Post("/knowledge_bases", s.saveKnowledgeBase)
		r.Post("/session/{id}/knowledge_bases/{kb_id}", s.attachKnowledgeBase)
		r.Delete("/session/{id}/knowledge_bases/{kb_id}", s.detachKnowledgeBase)

		r.Get("/events", s.recentEvents)
		r.Get("/events/stream", s.streamEvents)
	})

	return s
}

func (s *Server) Start() error {
	slog.Info("API server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"busy":   s.deps.Chat.Busy(),
	})
}

// recentEvents handles GET /api/v1/events, optionally filtered by ?type=.
func (s *Server) recentEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Activity == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []events.Event{}})
		return
	}
	all := s.deps.Activity.Events()
	typ := r.URL.Query().Get("type")
	out := make([]events.Event, 0, len(all))
	for _, e := range all {
		if typ == "" || e.Type == typ {
			out = append(out, e)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
