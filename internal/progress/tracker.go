package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/ragdesk/internal/ragapi"
)

const DefaultInterval = 5 * time.Second

// Fetcher reads one job's progress from the ingestion service. found=false
// means the server does not know the job yet.
type Fetcher interface {
	UploadProgress(ctx context.Context, uploadID string) (*ragapi.Progress, bool, error)
}

// Update is handed to the tracker's handler after every accepted fetch.
// Logged is true when Message is new for the job (or the fetch was forced)
// and should be appended to the job log.
type Update struct {
	JobID   string
	Record  Record
	Message string
	Label   string
	Logged  bool
}

// Tracker polls progress for upload jobs. Each job gets one poll loop; the
// loop stops on Stop or when the server reports a terminal record.
type Tracker struct {
	fetcher  Fetcher
	interval time.Duration
	handler  func(Update)
	logger   *slog.Logger

	mu   sync.Mutex
	jobs map[string]*jobState
}

type jobState struct {
	// deliver serializes handler calls for the job. The stopped check is
	// repeated under it so a poll result cannot land after the final fetch.
	deliver sync.Mutex

	stop        chan struct{} // nil when no loop is running
	stopped     bool
	record      *Record
	lastMessage string
}

func NewTracker(f Fetcher, interval time.Duration, handler func(Update), logger *slog.Logger) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if handler == nil {
		handler = func(Update) {}
	}
	return &Tracker{
		fetcher:  f,
		interval: interval,
		handler:  handler,
		logger:   logger,
		jobs:     make(map[string]*jobState),
	}
}

// Start fetches once right away and then every interval until the job is
// stopped. Starting a job that is already polling is a no-op.
func (t *Tracker) Start(ctx context.Context, jobID string) {
	t.mu.Lock()
	j := t.jobLocked(jobID)
	if j.stop != nil {
		t.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	j.stop = stop
	j.stopped = false
	t.mu.Unlock()

	go t.poll(ctx, jobID, stop)
}

// Stop cancels the job's poll loop. The last record is kept.
func (t *Tracker) Stop(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[jobID]
	if !ok {
		return
	}
	j.stopped = true
	if j.stop != nil {
		close(j.stop)
		j.stop = nil
	}
}

// Running reports whether a poll loop is active for the job.
func (t *Tracker) Running(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[jobID]
	return ok && j.stop != nil
}

// Record returns the last accepted record for the job.
func (t *Tracker) Record(jobID string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[jobID]
	if !ok || j.record == nil {
		return Record{}, false
	}
	return *j.record, true
}

// Forget stops the job and drops everything the tracker holds for it.
func (t *Tracker) Forget(jobID string) {
	t.Stop(jobID)
	t.mu.Lock()
	delete(t.jobs, jobID)
	t.mu.Unlock()
}

// FetchOnce reads the job's progress and hands it to the handler. A job the
// server does not know yet is not an error. Once a job is stopped only
// forced fetches are accepted, so a poll that was in flight during Stop
// cannot overwrite the final state.
func (t *Tracker) FetchOnce(ctx context.Context, jobID string, force bool) error {
	p, found, err := t.fetcher.UploadProgress(ctx, jobID)
	if err != nil {
		t.logger.Warn("progress fetch failed", "job_id", jobID, "error", err)
		return err
	}
	if !found {
		return nil
	}
	t.accept(jobID, FromWire(p), force)
	return nil
}

func (t *Tracker) accept(jobID string, rec Record, force bool) {
	msg := Message(rec)

	t.mu.Lock()
	j := t.jobLocked(jobID)
	t.mu.Unlock()

	j.deliver.Lock()
	defer j.deliver.Unlock()

	t.mu.Lock()
	if j.stopped && !force {
		t.mu.Unlock()
		t.logger.Debug("dropping progress for stopped job", "job_id", jobID, "stage", rec.Stage)
		return
	}
	j.record = &rec
	logged := force || msg != j.lastMessage
	if logged {
		j.lastMessage = msg
	}
	t.mu.Unlock()

	t.handler(Update{
		JobID:   jobID,
		Record:  rec,
		Message: msg,
		Label:   Label(rec.Stage),
		Logged:  logged,
	})

	if rec.Completed {
		t.Stop(jobID)
	}
}

func (t *Tracker) poll(ctx context.Context, jobID string, stop chan struct{}) {
	_ = t.FetchOnce(ctx, jobID, false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			t.mu.Lock()
			if j, ok := t.jobs[jobID]; ok && j.stop == stop {
				close(stop)
				j.stop = nil
			}
			t.mu.Unlock()
			return
		case <-ticker.C:
			// A terminal record seen by the previous fetch closes stop; check
			// it before issuing another request.
			select {
			case <-stop:
				return
			default:
			}
			_ = t.FetchOnce(ctx, jobID, false)
		}
	}
}

func (t *Tracker) jobLocked(jobID string) *jobState {
	j, ok := t.jobs[jobID]
	if !ok {
		j = &jobState{}
		t.jobs[jobID] = j
	}
	return j
}
