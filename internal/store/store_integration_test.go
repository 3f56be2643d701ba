//go:build integration

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/ragdesk/internal/progress"
	"github.com/MikeSquared-Agency/ragdesk/internal/uploadq"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestIntegration_RecordAndListUploads(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	it := uploadq.Item{
		ID:         uuid.NewString(),
		File:       uploadq.FileFromBytes("integration.pdf", "application/pdf", []byte("pdf")),
		Mode:       uploadq.ModeOCROnly,
		Status:     uploadq.StatusCompleted,
		Logs:       []uploadq.LogEntry{{Time: now, Message: `File "integration.pdf" uploaded successfully.`}},
		Progress:   &progress.Record{Stage: progress.StageCompleted, Completed: true},
		Chunks:     9,
		EnqueuedAt: now.Add(-time.Minute),
		StartedAt:  now.Add(-50 * time.Second),
		FinishedAt: now,
	}

	if err := s.RecordUpload(ctx, it); err != nil {
		t.Fatalf("RecordUpload failed: %v", err)
	}
	// A second write for the same job updates it in place.
	it.Error = "late note"
	if err := s.RecordUpload(ctx, it); err != nil {
		t.Fatalf("RecordUpload (update) failed: %v", err)
	}

	rows, err := s.RecentUploads(ctx, 20)
	if err != nil {
		t.Fatalf("RecentUploads failed: %v", err)
	}
	var found *UploadRow
	for i := range rows {
		if rows[i].ID.String() == it.ID {
			found = &rows[i]
		}
	}
	if found == nil {
		t.Fatal("recorded job not returned")
	}
	if found.Status != "completed" || found.Stage != "completed" || found.Chunks != 9 {
		t.Errorf("unexpected row %+v", found)
	}
	if found.ProcessMode != "ocr_only" || found.SizeBytes != 3 {
		t.Errorf("unexpected file fields %+v", found)
	}
	if found.Error != "late note" {
		t.Errorf("expected updated error, got %q", found.Error)
	}
	if len(found.Logs) != 1 || found.FinishedAt == nil {
		t.Errorf("expected logs and finished_at, got %+v", found)
	}
}

func TestIntegration_RecordUploadRejectsBadID(t *testing.T) {
	s := setupTestStore(t)
	err := s.RecordUpload(context.Background(), uploadq.Item{ID: "not-a-uuid"})
	if err == nil {
		t.Fatal("expected error for non-uuid job id")
	}
}
