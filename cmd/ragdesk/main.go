package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/ragdesk/internal/api"
	"github.com/MikeSquared-Agency/ragdesk/internal/chat"
	"github.com/MikeSquared-Agency/ragdesk/internal/config"
	"github.com/MikeSquared-Agency/ragdesk/internal/events"
	"github.com/MikeSquared-Agency/ragdesk/internal/hermes"
	"github.com/MikeSquared-Agency/ragdesk/internal/ragapi"
	"github.com/MikeSquared-Agency/ragdesk/internal/store"
	"github.com/MikeSquared-Agency/ragdesk/internal/transcript"
	"github.com/MikeSquared-Agency/ragdesk/internal/uploadq"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("ragdesk starting", "port", cfg.Port, "server", cfg.ServerURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := ragapi.NewClient(cfg.ServerURL, cfg.SessionCookie, cfg.HTTPTimeout)

	activity := events.NewRecorder(500)
	live := events.NewBroadcaster()
	sinks := []events.Sink{events.NewLogSink(slog.Default()), activity, live}

	// NATS/Hermes (optional, events are only logged without it)
	var hermesClient *hermes.Client
	if cfg.NatsURL != "" {
		var err error
		hermesClient, err = hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer hermesClient.Close()
		sinks = append(sinks, hermesClient)
		slog.Info("NATS connected", "url", cfg.NatsURL)
	}
	sink := events.Multi(sinks...)

	// Upload journal (optional)
	var journal uploadq.Journal
	var history api.History
	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare database", "error", err)
			os.Exit(1)
		}
		journal, history = db, db
		slog.Info("database connected")
	} else {
		slog.Warn("DATABASE_URL not set, upload history disabled")
	}

	transcripts := transcript.New(sink)
	controller := chat.NewController(client, transcripts, sink, cfg.DefaultModel, slog.Default())

	queue := uploadq.New(client, uploadq.Options{
		PollInterval: cfg.PollInterval,
		History:      cfg.QueueHistory,
	}, sink, journal, slog.Default())
	defer queue.Close()

	if hermesClient != nil {
		if err := hermesClient.Subscribe(hermes.SubjectCancelChat, func(string, []byte) {
			if controller.CancelActive() {
				slog.Info("chat turn cancelled over NATS")
			}
		}); err != nil {
			slog.Error("failed to subscribe to cancel requests", "error", err)
			os.Exit(1)
		}
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, api.Deps{
		Queue:       queue,
		Chat:        controller,
		Transcripts: transcripts,
		History:     history,
		Catalog:     client,
		Knowledge:   client,
		Activity:    activity,
		Live:        live,
	})
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	if hermesClient != nil {
		if err := hermesClient.Publish(hermes.Subject("agent.started"), map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"port":      cfg.Port,
			"server":    cfg.ServerURL,
		}); err != nil {
			slog.Warn("failed to publish startup", "error", err)
		}
	}

	slog.Info("ragdesk ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
	controller.CancelActive()
	queue.Close()
	if err := queue.Wait(shutdownCtx); err != nil {
		slog.Warn("active upload did not finish", "error", err)
	}
	cancel()
	slog.Info("ragdesk stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
