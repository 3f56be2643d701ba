package uploadq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/ragdesk/internal/events"
	"github.com/MikeSquared-Agency/ragdesk/internal/progress"
	"github.com/MikeSquared-Agency/ragdesk/internal/ragapi"
)

var ErrClosed = errors.New("upload queue closed")

var errUnreadable = errors.New("could not read file")

const connectivityMessage = "could not reach the server, check your connection"

// Service is the part of the ingestion API the queue needs.
type Service interface {
	progress.Fetcher
	Upload(ctx context.Context, in ragapi.UploadRequest) (*ragapi.UploadResponse, error)
}

// Journal records finished jobs. Errors are logged and otherwise ignored.
type Journal interface {
	RecordUpload(ctx context.Context, it Item) error
}

type Options struct {
	PollInterval time.Duration
	// History caps how many finished items are kept; 0 keeps all of them.
	History int
}

// Queue runs uploads one at a time in the order they were enqueued.
type Queue struct {
	api     Service
	tracker *progress.Tracker
	sink    events.Sink
	journal Journal
	history int
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	items   []*Item
	index   map[string]*Item
	active  bool
	closed  bool
	changed chan struct{}
}

func New(api Service, opts Options, sink events.Sink, journal Journal, logger *slog.Logger) *Queue {
	if sink == nil {
		sink = events.Discard
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		api:     api,
		sink:    sink,
		journal: journal,
		history: opts.History,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		index:   make(map[string]*Item),
		changed: make(chan struct{}),
	}
	q.tracker = progress.NewTracker(api, opts.PollInterval, q.onProgress, logger)
	return q
}

// Enqueue appends a job to the tail of the queue and starts it if nothing
// else is running.
func (q *Queue) Enqueue(f File, mode Mode) (Item, error) {
	if mode == "" {
		mode = ModeFull
	}
	it := &Item{
		ID:         uuid.NewString(),
		File:       f,
		Mode:       mode,
		Status:     StatusPending,
		EnqueuedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Item{}, ErrClosed
	}
	q.items = append(q.items, it)
	q.index[it.ID] = it
	logEv := q.logLocked(it, fmt.Sprintf("File %q added to the processing queue.", f.Name))
	snap := it.snapshot()
	q.notifyLocked()
	q.mu.Unlock()

	q.logger.Info("upload queued", "job_id", it.ID, "file", f.Name, "mode", mode)
	q.emit(events.UploadQueued, snap.ID, f.Name, map[string]any{"mode": string(mode), "size": f.Size})
	q.sink.Emit(logEv)

	q.processNext()
	return snap, nil
}

// processNext starts the oldest pending job unless one is already active.
func (q *Queue) processNext() {
	q.mu.Lock()
	if q.active || q.closed {
		q.mu.Unlock()
		return
	}
	var next *Item
	for _, it := range q.items {
		if it.Status == StatusPending {
			next = it
			break
		}
	}
	if next == nil {
		q.notifyLocked()
		q.mu.Unlock()
		return
	}
	q.active = true
	next.Status = StatusProcessing
	next.StartedAt = time.Now().UTC()
	logEv := q.logLocked(next, fmt.Sprintf("Starting processing of %q...", next.File.Name))
	pending := q.countLocked(StatusPending)
	job := next.snapshot()
	q.notifyLocked()
	q.mu.Unlock()

	q.emit(events.UploadStarted, job.ID, job.File.Name, nil)
	q.sink.Emit(logEv)
	q.emit(events.UploadStatus, job.ID, fmt.Sprintf("Processing %s (%d waiting)", job.File.Name, pending), nil)

	go q.run(job)
}

func (q *Queue) run(job Item) {
	q.appendLog(job.ID, fmt.Sprintf("Uploading %q...", job.File.Name))
	q.tracker.Start(q.ctx, job.ID)

	resp, err := q.upload(job)
	switch {
	case errors.Is(err, context.Canceled):
		q.logger.Info("upload cancelled", "job_id", job.ID, "file", job.File.Name)
		q.fail(job, "upload cancelled")
	case errors.Is(err, errUnreadable):
		q.logger.Error("upload file unreadable", "job_id", job.ID, "file", job.File.Name, "error", err)
		q.fail(job, fmt.Sprintf("could not read file %q", job.File.Name))
	case err != nil:
		q.logger.Error("upload failed", "job_id", job.ID, "file", job.File.Name, "error", err)
		q.fail(job, connectivityMessage)
	case !resp.Success:
		reason := resp.Error
		if reason == "" {
			reason = resp.Message
		}
		if reason == "" {
			reason = "unknown error"
		}
		q.logger.Warn("upload rejected", "job_id", job.ID, "file", job.File.Name, "reason", reason)
		q.fail(job, reason)
	default:
		q.complete(job, resp)
	}

	q.tracker.Stop(job.ID)
	// The final forced fetch makes the log reflect the server's end state
	// even when its message was already logged.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(q.ctx), 10*time.Second)
	_ = q.tracker.FetchOnce(ctx, job.ID, true)
	cancel()

	q.finish(job.ID)
	q.processNext()
}

func (q *Queue) upload(job Item) (*ragapi.UploadResponse, error) {
	body, err := job.File.Open()
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", errUnreadable, job.File.Name, err)
	}
	defer body.Close()

	return q.api.Upload(q.ctx, ragapi.UploadRequest{
		UploadID:    job.ID,
		Filename:    job.File.Name,
		ContentType: job.File.ContentType,
		Body:        body,
		ProcessMode: string(job.Mode),
	})
}

func (q *Queue) complete(job Item, resp *ragapi.UploadResponse) {
	msgs := []string{fmt.Sprintf("File %q uploaded successfully.", job.File.Name)}
	if !resp.IsImage && resp.Chunks > 0 {
		msgs = append(msgs, fmt.Sprintf("%d fragments indexed for retrieval.", resp.Chunks))
	}

	q.mu.Lock()
	it, ok := q.index[job.ID]
	if !ok {
		q.mu.Unlock()
		return
	}
	it.Status = StatusCompleted
	it.Chunks = resp.Chunks
	it.IsImage = resp.IsImage
	it.FinishedAt = time.Now().UTC()
	var logEvs []events.Event
	for _, m := range msgs {
		logEvs = append(logEvs, q.logLocked(it, m))
	}
	q.notifyLocked()
	q.mu.Unlock()

	q.logger.Info("upload completed", "job_id", job.ID, "file", job.File.Name, "chunks", resp.Chunks, "is_image", resp.IsImage)
	for _, e := range logEvs {
		q.sink.Emit(e)
	}
	q.emit(events.UploadCompleted, job.ID, job.File.Name, map[string]any{"chunks": resp.Chunks, "is_image": resp.IsImage})
	if !resp.IsImage {
		confirm := resp.Message
		if confirm == "" {
			confirm = fmt.Sprintf("%s is ready for questions.", job.File.Name)
		}
		q.emit(events.UploadConfirmed, job.ID, confirm, nil)
	}
	if resp.Message != "" {
		q.emit(events.UploadStatus, job.ID, resp.Message, nil)
	}
}

func (q *Queue) fail(job Item, reason string) {
	q.mu.Lock()
	it, ok := q.index[job.ID]
	if !ok {
		q.mu.Unlock()
		return
	}
	it.Status = StatusError
	it.Error = reason
	it.FinishedAt = time.Now().UTC()
	logEv := q.logLocked(it, "Failed to process file: "+reason)
	q.notifyLocked()
	q.mu.Unlock()

	q.sink.Emit(logEv)
	q.emit(events.UploadFailed, job.ID, reason, map[string]any{"file": job.File.Name})
}

// finish journals the job, evicts old history and releases the active slot.
func (q *Queue) finish(jobID string) {
	q.mu.Lock()
	var final Item
	it, ok := q.index[jobID]
	if ok {
		final = it.snapshot()
	}
	evicted := q.evictLocked()
	q.active = false
	q.notifyLocked()
	q.mu.Unlock()

	for _, id := range evicted {
		q.tracker.Forget(id)
	}
	if ok && q.journal != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(q.ctx), 5*time.Second)
		if err := q.journal.RecordUpload(ctx, final); err != nil {
			q.logger.Warn("journal upload failed", "job_id", jobID, "error", err)
		}
		cancel()
	}
}

func (q *Queue) evictLocked() []string {
	if q.history <= 0 {
		return nil
	}
	finished := 0
	for _, it := range q.items {
		if it.Status.Terminal() {
			finished++
		}
	}
	drop := finished - q.history
	if drop <= 0 {
		return nil
	}
	var evicted []string
	kept := q.items[:0]
	for _, it := range q.items {
		if drop > 0 && it.Status.Terminal() {
			drop--
			evicted = append(evicted, it.ID)
			delete(q.index, it.ID)
			continue
		}
		kept = append(kept, it)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	return evicted
}

func (q *Queue) onProgress(u progress.Update) {
	q.mu.Lock()
	it, ok := q.index[u.JobID]
	if !ok {
		q.mu.Unlock()
		return
	}
	rec := u.Record
	it.Progress = &rec
	it.ProgressLabel = u.Label
	var logEv events.Event
	if u.Logged {
		it.LastProgressMessage = u.Message
		logEv = q.logLocked(it, u.Message)
	}
	q.notifyLocked()
	q.mu.Unlock()

	q.emit(events.UploadProgress, u.JobID, u.Message, map[string]any{
		"stage":     string(rec.Stage),
		"label":     u.Label,
		"attempt":   rec.Attempt,
		"completed": rec.Completed,
	})
	if u.Logged {
		q.sink.Emit(logEv)
	}
}

func (q *Queue) appendLog(jobID, msg string) {
	q.mu.Lock()
	it, ok := q.index[jobID]
	if !ok {
		q.mu.Unlock()
		return
	}
	ev := q.logLocked(it, msg)
	q.notifyLocked()
	q.mu.Unlock()
	q.sink.Emit(ev)
}

func (q *Queue) logLocked(it *Item, msg string) events.Event {
	now := time.Now().UTC()
	it.Logs = append(it.Logs, LogEntry{Time: now, Message: msg})
	return events.Event{Type: events.UploadLog, JobID: it.ID, Message: msg, Time: now}
}

func (q *Queue) emit(typ, jobID, msg string, data map[string]any) {
	q.sink.Emit(events.Event{Type: typ, JobID: jobID, Message: msg, Data: data, Time: time.Now().UTC()})
}

func (q *Queue) countLocked(s Status) int {
	n := 0
	for _, it := range q.items {
		if it.Status == s {
			n++
		}
	}
	return n
}

// notifyLocked wakes every Wait caller.
func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Items returns a snapshot of the queue in enqueue order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	for i, it := range q.items {
		out[i] = it.snapshot()
	}
	return out
}

func (q *Queue) Item(id string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.index[id]
	if !ok {
		return Item{}, false
	}
	return it.snapshot(), true
}

// Wait blocks until no job is pending or processing. After Close it only
// waits for the active job.
func (q *Queue) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		idle := !q.active && (q.closed || q.countLocked(StatusPending) == 0)
		ch := q.changed
		q.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops accepting jobs and cancels the active upload and its poll
// loop. Pending jobs stay pending.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.notifyLocked()
	q.mu.Unlock()
	q.cancel()
}
