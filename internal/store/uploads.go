package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/ragdesk/internal/uploadq"
)

type UploadRow struct {
	ID          uuid.UUID  `json:"id"`
	Filename    string     `json:"filename"`
	ContentType string     `json:"content_type"`
	SizeBytes   int64      `json:"size_bytes"`
	ProcessMode string     `json:"process_mode"`
	Status      string     `json:"status"`
	Stage       string     `json:"stage,omitempty"`
	Chunks      int        `json:"chunks"`
	IsImage     bool       `json:"is_image"`
	Error       string     `json:"error,omitempty"`
	Logs        []string   `json:"logs"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// RecordUpload writes a finished upload job. Writing the same job twice
// keeps the latest state.
func (s *Store) RecordUpload(ctx context.Context, it uploadq.Item) error {
	id, err := uuid.Parse(it.ID)
	if err != nil {
		return fmt.Errorf("parse job id %q: %w", it.ID, err)
	}
	var stage string
	if it.Progress != nil {
		stage = string(it.Progress.Stage)
	}
	logs := make([]string, len(it.Logs))
	for i, e := range it.Logs {
		logs[i] = e.String()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO upload_jobs (id, filename, content_type, size_bytes, process_mode, status, stage, chunks, is_image, error, logs, enqueued_at, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			stage = EXCLUDED.stage,
			chunks = EXCLUDED.chunks,
			is_image = EXCLUDED.is_image,
			error = EXCLUDED.error,
			logs = EXCLUDED.logs,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at`,
		id, it.File.Name, it.File.ContentType, it.File.Size, string(it.Mode), string(it.Status), stage,
		it.Chunks, it.IsImage, it.Error, logs, it.EnqueuedAt, nullTime(it.StartedAt), nullTime(it.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert upload job: %w", err)
	}
	return nil
}

// RecentUploads returns the most recently finished jobs, newest first.
func (s *Store) RecentUploads(ctx context.Context, limit int) ([]UploadRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, filename, content_type, size_bytes, process_mode, status, stage, chunks, is_image, error, logs, enqueued_at, started_at, finished_at
		FROM upload_jobs
		ORDER BY finished_at DESC NULLS LAST, enqueued_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query upload jobs: %w", err)
	}
	defer rows.Close()

	out := []UploadRow{}
	for rows.Next() {
		var r UploadRow
		if err := rows.Scan(&r.ID, &r.Filename, &r.ContentType, &r.SizeBytes, &r.ProcessMode, &r.Status, &r.Stage,
			&r.Chunks, &r.IsImage, &r.Error, &r.Logs, &r.EnqueuedAt, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan upload job: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upload jobs: %w", err)
	}
	return out, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
