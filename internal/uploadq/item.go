package uploadq

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/ragdesk/internal/progress"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Mode selects how the server ingests a document. It is fixed at enqueue time.
type Mode string

const (
	ModeFull     Mode = "full"      // text plus OCR/description of embedded images
	ModeTextOnly Mode = "text_only" // skip images
	ModeOCROnly  Mode = "ocr_only"
)

// ParseMode accepts the three mode names and the legacy "true"/"false"
// process_images flag. Anything else means full processing.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text_only", "false":
		return ModeTextOnly
	case "ocr_only":
		return ModeOCROnly
	}
	return ModeFull
}

// File is the document handed to the queue. Only Name is interpreted; the
// content is streamed to the server as-is.
type File struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size"`

	open func() (io.ReadCloser, error)
}

func (f File) Open() (io.ReadCloser, error) {
	if f.open == nil {
		return nil, fmt.Errorf("file %s has no content", f.Name)
	}
	return f.open()
}

func FileFromBytes(name, contentType string, data []byte) File {
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(name))
	}
	return File{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func FileFromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	return File{
		Name:        filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Size:        info.Size(),
		open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

func (e LogEntry) String() string {
	return "[" + e.Time.Format("15:04:05") + "] " + e.Message
}

// Item is one upload job. The queue owns the live copy; everything handed
// out is a snapshot.
type Item struct {
	ID                  string           `json:"id"`
	File                File             `json:"file"`
	Mode                Mode             `json:"mode"`
	Status              Status           `json:"status"`
	Logs                []LogEntry       `json:"logs"`
	Progress            *progress.Record `json:"progress,omitempty"`
	ProgressLabel       string           `json:"progress_label,omitempty"`
	LastProgressMessage string           `json:"last_progress_message,omitempty"`
	Chunks              int              `json:"chunks,omitempty"`
	IsImage             bool             `json:"is_image,omitempty"`
	Error               string           `json:"error,omitempty"`
	EnqueuedAt          time.Time        `json:"enqueued_at"`
	StartedAt           time.Time        `json:"started_at,omitzero"`
	FinishedAt          time.Time        `json:"finished_at,omitzero"`
}

func (it *Item) snapshot() Item {
	out := *it
	out.Logs = make([]LogEntry, len(it.Logs))
	copy(out.Logs, it.Logs)
	if it.Progress != nil {
		p := *it.Progress
		out.Progress = &p
	}
	return out
}

// Messages returns the log text without timestamps.
func (it Item) Messages() []string {
	out := make([]string, len(it.Logs))
	for i, e := range it.Logs {
		out[i] = e.Message
	}
	return out
}
