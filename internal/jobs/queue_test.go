package jobs

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raulgabino/panwhat-sub000/internal/analysis"
	"github.com/raulgabino/panwhat-sub000/internal/domain"
	"github.com/raulgabino/panwhat-sub000/internal/storage/sqlite"
)

type recordingAnalyzer struct {
	mu    sync.Mutex
	texts []string
	err   error
	block chan struct{}
}

func (a *recordingAnalyzer) Analyze(ctx context.Context, text string, now time.Time) (domain.AnalysisResult, error) {
	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return domain.AnalysisResult{}, ctx.Err()
		}
	}
	a.mu.Lock()
	a.texts = append(a.texts, text)
	a.mu.Unlock()
	if a.err != nil {
		return domain.AnalysisResult{}, a.err
	}
	return domain.AnalysisResult{Summary: domain.Summary{TotalMessages: strings.Count(text, "\n") + 1, GeneratedAt: now}}, nil
}

func (a *recordingAnalyzer) seen() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.texts...)
}

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func waitTerminal(t *testing.T, db *sql.DB, id string) domain.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := sqlite.GetJob(db, id)
		if err != nil {
			t.Fatalf("GetJob(%s) failed: %v", id, err)
		}
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return domain.Job{}
}

func TestQueueCompletesJob(t *testing.T) {
	db := testDB(t)
	fixed := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	a := &recordingAnalyzer{}
	q := NewQueue(db, a, Options{Workers: 2, QueueSize: 4, Now: func() time.Time { return fixed }})

	hookCalls := make(chan domain.Job, 1)
	q.OnComplete(func(ctx context.Context, job domain.Job, result domain.AnalysisResult) error {
		hookCalls <- job
		return errors.New("hook errors are only logged")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		q.Wait()
	}()
	q.Start(ctx)

	job, err := q.Submit(ctx, "line one\nline two", false)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if job.Status != domain.JobPending || job.ID == "" {
		t.Fatalf("submitted job = %+v, want pending with id", job)
	}

	done := waitTerminal(t, db, job.ID)
	if done.Status != domain.JobCompleted {
		t.Fatalf("status = %s (%s), want completed", done.Status, done.Error)
	}
	if done.CompletedAt == nil {
		t.Fatal("CompletedAt should be stamped")
	}

	result, err := sqlite.GetResult(db, job.ID)
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if result.Summary.TotalMessages != 2 || !result.Summary.GeneratedAt.Equal(fixed) {
		t.Fatalf("summary = %+v", result.Summary)
	}

	select {
	case hooked := <-hookCalls:
		if hooked.ID != job.ID || hooked.Status != domain.JobCompleted {
			t.Fatalf("hook job = %+v", hooked)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("completion hook not called")
	}
}

func TestQueueMarksAnalyzerErrorFailed(t *testing.T) {
	db := testDB(t)
	q := NewQueue(db, &recordingAnalyzer{err: errors.New("boom")}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		q.Wait()
	}()
	q.Start(ctx)

	job, err := q.Submit(ctx, "x", false)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	done := waitTerminal(t, db, job.ID)
	if done.Status != domain.JobFailed || done.Error != "boom" {
		t.Fatalf("job = %+v, want failed with boom", done)
	}
	if _, err := sqlite.GetResult(db, job.ID); !errors.Is(err, sqlite.ErrResultNotFound) {
		t.Fatalf("GetResult err = %v, want ErrResultNotFound", err)
	}
}

func TestQueueFull(t *testing.T) {
	db := testDB(t)
	// Not started, so nothing drains the buffer.
	q := NewQueue(db, &recordingAnalyzer{}, Options{QueueSize: 1})
	ctx := context.Background()

	if _, err := q.Submit(ctx, "first", false); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	job, err := q.Submit(ctx, "second", false)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	stored, err := sqlite.GetJob(db, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if stored.Status != domain.JobFailed || stored.Error != ErrQueueFull.Error() {
		t.Fatalf("stored job = %+v, want failed with queue full", stored)
	}
}

func TestAccumulativeJobsSeeEarlierTranscripts(t *testing.T) {
	db := testDB(t)
	a := &recordingAnalyzer{}
	q := NewQueue(db, a, Options{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		q.Wait()
	}()
	q.Start(ctx)

	first, err := q.Submit(ctx, "a", false)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitTerminal(t, db, first.ID)

	second, err := q.Submit(ctx, "b", true)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitTerminal(t, db, second.ID)

	re, err := q.SubmitReanalysis(ctx)
	if err != nil {
		t.Fatalf("SubmitReanalysis failed: %v", err)
	}
	if !re.Accumulative {
		t.Fatal("reanalysis job should be accumulative")
	}
	waitTerminal(t, db, re.ID)

	want := []string{"a", "a\nb", "a\nb"}
	got := a.seen()
	if len(got) != len(want) {
		t.Fatalf("analyzed %d texts, want %d: %q", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("text[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestQueueWithRealAnalyzer(t *testing.T) {
	db := testDB(t)
	an, err := analysis.New(analysis.DefaultTuning(), analysis.Options{BakeryName: "Panaderia Quilantan", Workers: 2})
	if err != nil {
		t.Fatalf("analysis.New failed: %v", err)
	}
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	q := NewQueue(db, an, Options{Now: func() time.Time { return now }})
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		q.Wait()
	}()
	q.Start(ctx)

	text := "[8:00 AM, 3/7/2025] Ana: 2 pastelitos 1 donas\n[9:15 AM, 3/8/2025] Luis: 10 conchas"
	job, err := q.Submit(ctx, text, false)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if done := waitTerminal(t, db, job.ID); done.Status != domain.JobCompleted {
		t.Fatalf("status = %s (%s), want completed", done.Status, done.Error)
	}
	result, err := sqlite.GetResult(db, job.ID)
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if result.Summary.TotalClients != 2 || result.Summary.TotalPieces != 13 {
		t.Fatalf("summary = %+v, want 2 clients / 13 pieces", result.Summary)
	}
	if result.Summary.FallbackProfiles != 2 {
		t.Fatalf("FallbackProfiles = %d, want 2", result.Summary.FallbackProfiles)
	}
	usage, err := sqlite.GetResultUsage(db, job.ID)
	if err != nil {
		t.Fatalf("GetResultUsage failed: %v", err)
	}
	if usage.InputTokens != 0 || usage.OutputTokens != 0 {
		t.Fatalf("usage = %+v, want zero without remote enrichment", usage)
	}
}

func TestSubmitCanceledContext(t *testing.T) {
	db := testDB(t)
	q := NewQueue(db, &recordingAnalyzer{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Submit(ctx, "x", false); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	jobs, err := sqlite.ListJobs(db, 10)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != domain.JobFailed {
		t.Fatalf("jobs = %+v, want one failed job", jobs)
	}
}

func TestStartResumesInterruptedJobs(t *testing.T) {
	db := testDB(t)

	// A previous run queued one job and was mid-way through another when it stopped.
	before := NewQueue(db, &recordingAnalyzer{}, Options{})
	queued, err := before.Submit(context.Background(), "left in the channel", false)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	running, err := before.Submit(context.Background(), "was running", false)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := sqlite.UpdateJobStatus(db, running.ID, domain.JobProcessing, ""); err != nil {
		t.Fatalf("UpdateJobStatus failed: %v", err)
	}

	a := &recordingAnalyzer{}
	after := NewQueue(db, a, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		after.Wait()
	}()
	after.Start(ctx)

	for _, id := range []string{queued.ID, running.ID} {
		if job := waitTerminal(t, db, id); job.Status != domain.JobCompleted {
			t.Fatalf("job %s = %s (%s), want completed", id, job.Status, job.Error)
		}
	}
	if got := a.seen(); len(got) != 2 {
		t.Fatalf("analyzed %d transcripts, want 2: %q", len(got), got)
	}
}

func TestStartDoesNotRequeueOwnPendingJobs(t *testing.T) {
	db := testDB(t)
	a := &recordingAnalyzer{}
	q := NewQueue(db, a, Options{})
	job, err := q.Submit(context.Background(), "once", false)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	if done := waitTerminal(t, db, job.ID); done.Status != domain.JobCompleted {
		t.Fatalf("status = %s, want completed", done.Status)
	}
	cancel()
	q.Wait()
	if got := a.seen(); len(got) != 1 {
		t.Fatalf("analyzed %d times, want 1", len(got))
	}
}

func TestStartFailsInterruptedJobsThatDoNotFit(t *testing.T) {
	db := testDB(t)
	before := NewQueue(db, &recordingAnalyzer{}, Options{QueueSize: 2})
	var ids []string
	for _, text := range []string{"a", "b"} {
		job, err := before.Submit(context.Background(), text, false)
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		ids = append(ids, job.ID)
	}

	after := NewQueue(db, &recordingAnalyzer{}, Options{QueueSize: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		after.Wait()
	}()
	after.Start(ctx)

	first := waitTerminal(t, db, ids[0])
	second := waitTerminal(t, db, ids[1])
	if first.Status != domain.JobCompleted {
		t.Fatalf("oldest job = %s (%s), want completed", first.Status, first.Error)
	}
	if second.Status != domain.JobFailed || second.Error != ErrQueueFull.Error() {
		t.Fatalf("overflow job = %+v, want failed with queue full", second)
	}
}
