package uploadq

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/ragdesk/internal/events"
	"github.com/MikeSquared-Agency/ragdesk/internal/ragapi"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeService answers uploads from a per-filename table. Upload blocks on
// gate when one is set, so tests can observe the queue mid-job.
type fakeService struct {
	mu        sync.Mutex
	responses map[string]*ragapi.UploadResponse
	errs      map[string]error
	progress  map[string]*ragapi.Progress
	gate      chan struct{}
	uploads   []ragapi.UploadRequest
	bodies    map[string]string
	fetches   map[string]int
	snapshots [][]Item
	queue     *Queue
}

func newFakeService() *fakeService {
	return &fakeService{
		responses: make(map[string]*ragapi.UploadResponse),
		errs:      make(map[string]error),
		progress:  make(map[string]*ragapi.Progress),
		bodies:    make(map[string]string),
		fetches:   make(map[string]int),
	}
}

func (f *fakeService) Upload(ctx context.Context, in ragapi.UploadRequest) (*ragapi.UploadResponse, error) {
	data, _ := io.ReadAll(in.Body)

	f.mu.Lock()
	f.uploads = append(f.uploads, in)
	f.bodies[in.Filename] = string(data)
	gate := f.gate
	q := f.queue
	f.mu.Unlock()

	if q != nil {
		items := q.Items()
		f.mu.Lock()
		f.snapshots = append(f.snapshots, items)
		f.mu.Unlock()
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[in.Filename]; err != nil {
		return nil, err
	}
	if resp, ok := f.responses[in.Filename]; ok {
		return resp, nil
	}
	return &ragapi.UploadResponse{Success: true, Filename: in.Filename, Chunks: 4}, nil
}

func (f *fakeService) UploadProgress(ctx context.Context, id string) (*ragapi.Progress, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[id]++
	p, ok := f.progress[id]
	return p, ok, nil
}

func (f *fakeService) fetchCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[id]
}

func waitIdle(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Wait(ctx); err != nil {
		t.Fatalf("queue did not drain: %v", err)
	}
}

func file(name string) File {
	return FileFromBytes(name, "", []byte("content of "+name))
}

func TestEnqueue_EndToEndLogOrder(t *testing.T) {
	svc := newFakeService()
	q := New(svc, Options{PollInterval: time.Hour}, nil, nil, testLogger())
	defer q.Close()

	it, err := q.Enqueue(file("a.pdf"), ParseMode("true"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if it.Mode != ModeFull {
		t.Errorf("expected full mode, got %s", it.Mode)
	}
	waitIdle(t, q)

	got, ok := q.Item(it.ID)
	if !ok {
		t.Fatal("item missing")
	}
	if got.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%v)", got.Status, got.Messages())
	}

	want := []string{
		`File "a.pdf" added to the processing queue.`,
		`Uploading "a.pdf"...`,
		`File "a.pdf" uploaded successfully.`,
	}
	msgs := got.Messages()
	pos := 0
	for _, m := range msgs {
		if pos < len(want) && m == want[pos] {
			pos++
		}
	}
	if pos != len(want) {
		t.Errorf("log missing expected entries in order; got %v", msgs)
	}

	if len(svc.uploads) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(svc.uploads))
	}
	up := svc.uploads[0]
	if up.UploadID != it.ID {
		t.Errorf("upload id %q should be the job id %q", up.UploadID, it.ID)
	}
	if up.ProcessMode != "full" {
		t.Errorf("expected process mode full, got %q", up.ProcessMode)
	}
	if svc.bodies["a.pdf"] != "content of a.pdf" {
		t.Errorf("unexpected body %q", svc.bodies["a.pdf"])
	}
}

func TestEnqueue_FIFOSingleProcessing(t *testing.T) {
	svc := newFakeService()
	q := New(svc, Options{PollInterval: time.Hour}, nil, nil, testLogger())
	defer q.Close()
	svc.queue = q

	names := []string{"a.txt", "b.txt", "c.txt", "d.txt"}
	for _, n := range names {
		if _, err := q.Enqueue(file(n), ModeTextOnly); err != nil {
			t.Fatalf("Enqueue %s: %v", n, err)
		}
	}
	waitIdle(t, q)

	if len(svc.uploads) != len(names) {
		t.Fatalf("expected %d uploads, got %d", len(names), len(svc.uploads))
	}
	for i, n := range names {
		if svc.uploads[i].Filename != n {
			t.Errorf("upload %d: got %s, want %s", i, svc.uploads[i].Filename, n)
		}
	}

	// Each snapshot was taken while a job was uploading.
	for i, snap := range svc.snapshots {
		processing := 0
		for _, it := range snap {
			if it.Status == StatusProcessing {
				processing++
				if it.File.Name != names[i] {
					t.Errorf("snapshot %d: %s processing, want %s", i, it.File.Name, names[i])
				}
			}
		}
		if processing != 1 {
			t.Errorf("snapshot %d: %d items processing", i, processing)
		}
		// Earlier jobs are terminal, later ones still pending.
		for j, it := range snap {
			switch {
			case j < i && it.Status != StatusCompleted:
				t.Errorf("snapshot %d: %s should be completed, got %s", i, it.File.Name, it.Status)
			case j > i && it.Status != StatusPending:
				t.Errorf("snapshot %d: %s should be pending, got %s", i, it.File.Name, it.Status)
			}
		}
	}
}

func TestEnqueue_FirstCompletesBeforeSecondStarts(t *testing.T) {
	svc := newFakeService()
	rec := events.NewRecorder(0)
	q := New(svc, Options{PollInterval: time.Hour}, rec, nil, testLogger())
	defer q.Close()

	a, _ := q.Enqueue(file("a.txt"), ModeFull)
	b, _ := q.Enqueue(file("b.txt"), ModeFull)
	waitIdle(t, q)

	completedA, startedB := -1, -1
	for i, e := range rec.Events() {
		if e.Type == events.UploadCompleted && e.JobID == a.ID {
			completedA = i
		}
		if e.Type == events.UploadStarted && e.JobID == b.ID {
			startedB = i
		}
	}
	if completedA < 0 || startedB < 0 {
		t.Fatalf("missing events: completed a=%d started b=%d", completedA, startedB)
	}
	if completedA > startedB {
		t.Errorf("b.txt started (event %d) before a.txt completed (event %d)", startedB, completedA)
	}
}

func TestEnqueue_FailureDoesNotBlockNext(t *testing.T) {
	svc := newFakeService()
	svc.errs["broken.pdf"] = errors.New("dial tcp: connection refused")
	svc.responses["rejected.docx"] = &ragapi.UploadResponse{Success: false, Error: "unsupported format"}
	rec := events.NewRecorder(0)
	q := New(svc, Options{PollInterval: time.Hour}, rec, nil, testLogger())
	defer q.Close()

	broken, _ := q.Enqueue(file("broken.pdf"), ModeFull)
	rejected, _ := q.Enqueue(file("rejected.docx"), ModeFull)
	ok, _ := q.Enqueue(file("ok.txt"), ModeFull)
	waitIdle(t, q)

	it, _ := q.Item(broken.ID)
	if it.Status != StatusError {
		t.Errorf("broken.pdf: expected error, got %s", it.Status)
	}
	if last := it.Messages()[len(it.Logs)-1]; last != "Failed to process file: "+connectivityMessage {
		t.Errorf("broken.pdf: unexpected last log %q", last)
	}

	it, _ = q.Item(rejected.ID)
	if it.Status != StatusError || it.Error != "unsupported format" {
		t.Errorf("rejected.docx: expected server error, got %s %q", it.Status, it.Error)
	}

	it, _ = q.Item(ok.ID)
	if it.Status != StatusCompleted {
		t.Errorf("ok.txt: expected completed, got %s", it.Status)
	}
	if n := len(rec.OfType(events.UploadFailed)); n != 2 {
		t.Errorf("expected 2 failure events, got %d", n)
	}
}

func TestEnqueue_UnreadableFileIsNotAConnectivityError(t *testing.T) {
	svc := newFakeService()
	q := New(svc, Options{PollInterval: time.Hour}, nil, nil, testLogger())
	defer q.Close()

	gone := File{Name: "gone.pdf", open: func() (io.ReadCloser, error) {
		return nil, errors.New("open /tmp/gone.pdf: no such file or directory")
	}}
	job, _ := q.Enqueue(gone, ModeFull)
	next, _ := q.Enqueue(file("next.txt"), ModeFull)
	waitIdle(t, q)

	it, _ := q.Item(job.ID)
	if it.Status != StatusError {
		t.Fatalf("expected error, got %s", it.Status)
	}
	want := `Failed to process file: could not read file "gone.pdf"`
	if last := it.Messages()[len(it.Logs)-1]; last != want {
		t.Errorf("unexpected last log %q, want %q", last, want)
	}
	if containsMessage(it, connectivityMessage) {
		t.Error("a local read failure must not be reported as a connectivity problem")
	}
	svc.mu.Lock()
	uploads := len(svc.uploads)
	svc.mu.Unlock()
	if uploads != 1 {
		t.Errorf("only next.txt should reach the server, got %d uploads", uploads)
	}
	if it, _ := q.Item(next.ID); it.Status != StatusCompleted {
		t.Errorf("next.txt: expected completed, got %s", it.Status)
	}
}

func TestEnqueue_ConfirmationOnlyForDocuments(t *testing.T) {
	svc := newFakeService()
	svc.responses["photo.png"] = &ragapi.UploadResponse{Success: true, IsImage: true, Message: "image stored"}
	svc.responses["notes.md"] = &ragapi.UploadResponse{Success: true, Chunks: 7, Message: "notes.md indexed"}
	rec := events.NewRecorder(0)
	q := New(svc, Options{PollInterval: time.Hour}, rec, nil, testLogger())
	defer q.Close()

	img, _ := q.Enqueue(file("photo.png"), ModeFull)
	doc, _ := q.Enqueue(file("notes.md"), ModeFull)
	waitIdle(t, q)

	confirmed := rec.OfType(events.UploadConfirmed)
	if len(confirmed) != 1 || confirmed[0].JobID != doc.ID {
		t.Fatalf("expected a single confirmation for notes.md, got %+v", confirmed)
	}
	if confirmed[0].Message != "notes.md indexed" {
		t.Errorf("unexpected confirmation %q", confirmed[0].Message)
	}

	it, _ := q.Item(doc.ID)
	if !containsMessage(it, "7 fragments indexed for retrieval.") {
		t.Errorf("expected chunk summary in log: %v", it.Messages())
	}
	it, _ = q.Item(img.ID)
	if containsMessage(it, "fragments indexed") {
		t.Errorf("images should not log a chunk summary: %v", it.Messages())
	}
}

func TestRun_StopsPollingWithFinalForcedFetch(t *testing.T) {
	svc := newFakeService()
	svc.gate = make(chan struct{})
	q := New(svc, Options{PollInterval: 5 * time.Millisecond}, nil, nil, testLogger())
	defer q.Close()

	it, _ := q.Enqueue(file("big.pdf"), ModeFull)
	svc.mu.Lock()
	svc.progress[it.ID] = &ragapi.Progress{Status: "chunking"}
	svc.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for svc.fetchCount(it.ID) < 3 {
		if time.Now().After(deadline) {
			t.Fatal("poller never ran")
		}
		time.Sleep(time.Millisecond)
	}

	svc.mu.Lock()
	svc.progress[it.ID] = &ragapi.Progress{Status: "completed", Completed: true, Chunks: 12}
	svc.mu.Unlock()
	close(svc.gate)
	waitIdle(t, q)

	after := svc.fetchCount(it.ID)
	time.Sleep(30 * time.Millisecond)
	if n := svc.fetchCount(it.ID); n != after {
		t.Errorf("polling continued after the job finished: %d -> %d", after, n)
	}

	got, _ := q.Item(it.ID)
	if got.Progress == nil || !got.Progress.Completed {
		t.Fatalf("expected final progress record, got %+v", got.Progress)
	}
	if got.LastProgressMessage != "Embeddings generated successfully." {
		t.Errorf("unexpected last progress message %q", got.LastProgressMessage)
	}
	chunking := 0
	for _, m := range got.Messages() {
		if m == "Splitting document into fragments..." {
			chunking++
		}
	}
	if chunking != 1 {
		t.Errorf("repeated progress should be logged once, got %d", chunking)
	}
}

func TestQueue_EvictsOldestFinished(t *testing.T) {
	svc := newFakeService()
	q := New(svc, Options{PollInterval: time.Hour, History: 2}, nil, nil, testLogger())
	defer q.Close()

	for _, n := range []string{"1.txt", "2.txt", "3.txt", "4.txt"} {
		q.Enqueue(file(n), ModeFull)
	}
	waitIdle(t, q)

	items := q.Items()
	if len(items) != 2 {
		t.Fatalf("expected 2 items kept, got %d", len(items))
	}
	if items[0].File.Name != "3.txt" || items[1].File.Name != "4.txt" {
		t.Errorf("expected newest items kept, got %s and %s", items[0].File.Name, items[1].File.Name)
	}
}

type memJournal struct {
	mu    sync.Mutex
	items []Item
}

func (j *memJournal) RecordUpload(ctx context.Context, it Item) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.items = append(j.items, it)
	return nil
}

func TestQueue_JournalsTerminalJobs(t *testing.T) {
	svc := newFakeService()
	svc.errs["b.txt"] = errors.New("reset by peer")
	j := &memJournal{}
	q := New(svc, Options{PollInterval: time.Hour}, nil, j, testLogger())
	defer q.Close()

	q.Enqueue(file("a.txt"), ModeFull)
	q.Enqueue(file("b.txt"), ModeFull)
	waitIdle(t, q)

	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.items) != 2 {
		t.Fatalf("expected 2 journal entries, got %d", len(j.items))
	}
	if j.items[0].Status != StatusCompleted || j.items[1].Status != StatusError {
		t.Errorf("unexpected journal statuses %s, %s", j.items[0].Status, j.items[1].Status)
	}
}

func TestQueue_CloseRejectsAndCancels(t *testing.T) {
	svc := newFakeService()
	svc.gate = make(chan struct{})
	q := New(svc, Options{PollInterval: time.Hour}, nil, nil, testLogger())

	it, _ := q.Enqueue(file("slow.pdf"), ModeFull)
	q.Enqueue(file("next.pdf"), ModeFull)
	q.Close()
	waitIdle(t, q)

	if _, err := q.Enqueue(file("late.pdf"), ModeFull); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	got, _ := q.Item(it.ID)
	if got.Status != StatusError {
		t.Errorf("active upload should end in error after Close, got %s", got.Status)
	}
	items := q.Items()
	if items[1].Status != StatusPending {
		t.Errorf("pending job should stay pending, got %s", items[1].Status)
	}
}

func TestParseMode(t *testing.T) {
	tests := map[string]Mode{
		"full":      ModeFull,
		"text_only": ModeTextOnly,
		"OCR_ONLY":  ModeOCROnly,
		"false":     ModeTextOnly,
		"true":      ModeFull,
		"":          ModeFull,
	}
	for in, want := range tests {
		if got := ParseMode(in); got != want {
			t.Errorf("ParseMode(%q) = %s, want %s", in, got, want)
		}
	}
}

func containsMessage(it Item, sub string) bool {
	for _, m := range it.Messages() {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}
