package progress

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/ragdesk/internal/ragapi"
)

// Stage is the server-reported phase of one ingestion job.
type Stage string

const (
	StageQueued         Stage = "queued"
	StageDocumentLoaded Stage = "document_loaded"
	StageChunking       Stage = "chunking"
	StageVectorizing    Stage = "vectorizing"
	StageRateLimited    Stage = "rate_limited"
	StageRetrying       Stage = "retrying"
	StageRebuilding     Stage = "rebuilding"
	StageCompleted      Stage = "completed"
	StageFailed         Stage = "failed"
)

// ParseStage normalises the wire status. "starting" and "processing" are
// what the embedding loop reports while it works and mean the same thing as
// "vectorizing"; "reintentando" is the server's untranslated retry marker.
func ParseStage(raw string) Stage {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "starting", "processing", "vectorizing":
		return StageVectorizing
	case "reintentando", "retrying":
		return StageRetrying
	}
	return Stage(s)
}

// Record is the last known ingestion state for one job.
type Record struct {
	Stage       Stage     `json:"stage"`
	Attempt     int       `json:"attempt,omitempty"`
	WaitSeconds float64   `json:"wait_seconds,omitempty"`
	Error       string    `json:"error,omitempty"`
	Completed   bool      `json:"completed"`
	Filename    string    `json:"filename,omitempty"`
	Chunks      int       `json:"chunks,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}

func FromWire(p *ragapi.Progress) Record {
	rec := Record{
		Stage:     ParseStage(p.Status),
		Attempt:   p.Attempt,
		Error:     p.Error,
		Filename:  p.Filename,
		Chunks:    p.Chunks,
		FetchedAt: time.Now().UTC(),
	}
	if p.WaitingSeconds > 0 {
		rec.WaitSeconds = p.WaitingSeconds
	}
	if rec.Attempt < 0 {
		rec.Attempt = 0
	}
	// Terminal stages are terminal whatever the flag says.
	rec.Completed = p.Completed || rec.Stage == StageCompleted || rec.Stage == StageFailed
	return rec
}

// Message renders the detail line logged for a record.
func Message(r Record) string {
	switch r.Stage {
	case StageQueued:
		return "Queued on the server, preparing processing..."
	case StageDocumentLoaded:
		return "Content loaded, analyzing document..."
	case StageChunking:
		return "Splitting document into fragments..."
	case StageVectorizing:
		if r.Attempt > 0 {
			return fmt.Sprintf("Generating embeddings (attempt %d)...", r.Attempt)
		}
		return "Generating embeddings..."
	case StageRateLimited:
		if r.WaitSeconds > 0 {
			return fmt.Sprintf("Rate limit reached, retrying in %s seconds...", strconv.FormatFloat(r.WaitSeconds, 'f', -1, 64))
		}
		return "Rate limit reached, retrying..."
	case StageRetrying:
		return "Retrying embedding generation..."
	case StageRebuilding:
		return "Rebuilding the vector index..."
	case StageCompleted:
		return "Embeddings generated successfully."
	case StageFailed:
		if r.Error != "" {
			return "Embedding generation failed: " + r.Error
		}
		return "Embedding generation failed: unknown error"
	case "":
		return "Processing..."
	}
	return fmt.Sprintf("Processing (%s)...", r.Stage)
}

// Label is the coarse one-line status shown next to a queue entry.
func Label(s Stage) string {
	switch s {
	case StageQueued:
		return "Queued"
	case StageDocumentLoaded:
		return "Document loaded"
	case StageChunking:
		return "Chunking"
	case StageVectorizing:
		return "Generating embeddings"
	case StageRateLimited:
		return "Rate limited"
	case StageRetrying:
		return "Retrying"
	case StageRebuilding:
		return "Rebuilding index"
	case StageCompleted:
		return "Completed"
	case StageFailed:
		return "Failed"
	}
	return "Processing"
}
