//go:build integration

package hermes

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/ragdesk/internal/events"
)

func skipWithoutNATS(t *testing.T) string {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}
	return url
}

func TestIntegration_EmitPublishesOnEventSubject(t *testing.T) {
	natsURL := skipWithoutNATS(t)
	ctx := context.Background()
	logger := slog.Default()

	client, err := NewClient(ctx, natsURL, os.Getenv("NATS_TOKEN"), logger)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	received := make(chan events.Event, 1)
	err = client.Subscribe(SubjectPrefix+".upload.>", func(subject string, data []byte) {
		if subject != "ragdesk.upload.completed" {
			return
		}
		var e events.Event
		json.Unmarshal(data, &e)
		received <- e
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// Give subscription time to propagate
	time.Sleep(100 * time.Millisecond)

	client.Emit(events.Event{
		Type:    events.UploadCompleted,
		JobID:   "job-1",
		Message: "report.pdf",
		Time:    time.Now().UTC(),
	})

	select {
	case e := <-received:
		if e.JobID != "job-1" || e.Message != "report.pdf" {
			t.Errorf("unexpected event %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
