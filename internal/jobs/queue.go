package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raulgabino/panwhat-sub000/internal/domain"
	"github.com/raulgabino/panwhat-sub000/internal/integrations/llm"
	"github.com/raulgabino/panwhat-sub000/internal/metrics"
	"github.com/raulgabino/panwhat-sub000/internal/storage/sqlite"
)

var ErrQueueFull = errors.New("job queue is full")

type Analyzer interface {
	Analyze(ctx context.Context, text string, now time.Time) (domain.AnalysisResult, error)
}

// CompletionHook runs after a job's result is stored. Errors are logged and
// never change the job's status.
type CompletionHook func(ctx context.Context, job domain.Job, result domain.AnalysisResult) error

type Options struct {
	Workers   int
	QueueSize int
	// Now is the analysis clock; it must return naive wall-clock time.
	Now func() time.Time
}

type Queue struct {
	db       *sql.DB
	analyzer Analyzer
	workers  int
	now      func() time.Time
	pending  chan string

	mu     sync.RWMutex
	hooks  []CompletionHook
	queued map[string]bool

	wg sync.WaitGroup
}

func NewQueue(db *sql.DB, analyzer Analyzer, opts Options) *Queue {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	size := opts.QueueSize
	if size < 1 {
		size = 64
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Queue{
		db:       db,
		analyzer: analyzer,
		workers:  workers,
		now:      now,
		pending:  make(chan string, size),
		queued:   make(map[string]bool),
	}
}

func (q *Queue) OnComplete(h CompletionHook) {
	q.mu.Lock()
	q.hooks = append(q.hooks, h)
	q.mu.Unlock()
}

// Start re-queues jobs a previous run left pending or processing, then
// launches the workers. They stop when ctx is done; Wait blocks until they have.
func (q *Queue) Start(ctx context.Context) {
	q.resume(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func(worker int) {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-q.pending:
					metrics.QueueDepth.Dec()
					q.process(ctx, worker, id)
				}
			}
		}(i)
	}
	log.Printf("job queue started workers=%d capacity=%d", q.workers, cap(q.pending))
}

// resume picks up jobs stored as pending or processing that are not in this
// queue's channel. Ones that no longer fit are failed by enqueue.
func (q *Queue) resume(ctx context.Context) {
	stale, err := sqlite.ListJobsByStatus(q.db, domain.JobPending, domain.JobProcessing)
	if err != nil {
		log.Printf("job resume error err=%v", err)
		return
	}
	resumed := 0
	for _, job := range stale {
		if q.isQueued(job.ID) {
			continue
		}
		if job.Status == domain.JobProcessing {
			if err := sqlite.UpdateJobStatus(q.db, job.ID, domain.JobPending, ""); err != nil {
				log.Printf("job status update error id=%s err=%v", job.ID, err)
				continue
			}
			job.Status = domain.JobPending
		}
		if _, err := q.enqueue(ctx, job); err == nil {
			resumed++
		}
	}
	if len(stale) > 0 {
		log.Printf("job queue resumed interrupted jobs=%d found=%d", resumed, len(stale))
	}
}

func (q *Queue) isQueued(id string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.queued[id]
}

func (q *Queue) Wait() {
	q.wg.Wait()
}

// Submit stores a job and its transcript and queues it. A full queue fails
// the job immediately and returns it together with ErrQueueFull.
func (q *Queue) Submit(ctx context.Context, text string, accumulative bool) (domain.Job, error) {
	job, err := q.create(accumulative)
	if err != nil {
		return domain.Job{}, err
	}
	if err := sqlite.InsertTranscript(q.db, job.ID, text); err != nil {
		q.fail(job.ID, err)
		return domain.Job{}, fmt.Errorf("store transcript: %w", err)
	}
	return q.enqueue(ctx, job)
}

// SubmitReanalysis queues an accumulative job over every transcript stored so far.
func (q *Queue) SubmitReanalysis(ctx context.Context) (domain.Job, error) {
	job, err := q.create(true)
	if err != nil {
		return domain.Job{}, err
	}
	return q.enqueue(ctx, job)
}

func (q *Queue) create(accumulative bool) (domain.Job, error) {
	now := time.Now().UTC()
	job := domain.Job{
		ID:           uuid.NewString(),
		Status:       domain.JobPending,
		Accumulative: accumulative,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := sqlite.CreateJob(q.db, job); err != nil {
		return domain.Job{}, fmt.Errorf("create job: %w", err)
	}
	metrics.ObserveJob(domain.JobPending)
	return job, nil
}

func (q *Queue) enqueue(ctx context.Context, job domain.Job) (domain.Job, error) {
	if err := ctx.Err(); err != nil {
		q.fail(job.ID, err)
		return domain.Job{}, err
	}
	q.mu.Lock()
	q.queued[job.ID] = true
	q.mu.Unlock()
	select {
	case q.pending <- job.ID:
		metrics.QueueDepth.Inc()
		log.Printf("job queued id=%s accumulative=%t", job.ID, job.Accumulative)
		return job, nil
	default:
		q.mu.Lock()
		delete(q.queued, job.ID)
		q.mu.Unlock()
		q.fail(job.ID, ErrQueueFull)
		job.Status = domain.JobFailed
		job.Error = ErrQueueFull.Error()
		return job, ErrQueueFull
	}
}

func (q *Queue) process(ctx context.Context, worker int, id string) {
	q.mu.Lock()
	delete(q.queued, id)
	q.mu.Unlock()
	if err := sqlite.UpdateJobStatus(q.db, id, domain.JobProcessing, ""); err != nil {
		log.Printf("job status update error id=%s err=%v", id, err)
		return
	}
	job, err := sqlite.GetJob(q.db, id)
	if err != nil {
		q.fail(id, err)
		return
	}

	var text string
	if job.Accumulative {
		parts, loadErr := sqlite.GetTranscriptsUpTo(q.db, id)
		text, err = sqlite.JoinTranscripts(parts), loadErr
	} else {
		text, err = sqlite.GetTranscriptForJob(q.db, id)
	}
	if err != nil {
		q.fail(id, fmt.Errorf("load transcripts: %w", err))
		return
	}

	log.Printf("job processing id=%s worker=%d accumulative=%t chars=%d", id, worker, job.Accumulative, len(text))
	var usage llm.UsageCounter
	started := time.Now()
	result, err := q.analyzer.Analyze(llm.WithUsageCounter(ctx, &usage), text, q.now())
	metrics.ObserveAnalysis(time.Since(started))
	if err != nil {
		q.fail(id, err)
		return
	}

	tokens := usage.Total()
	metrics.ObserveTokens(tokens.InputTokens, tokens.OutputTokens)
	if err := sqlite.SaveResult(q.db, id, result, sqlite.ResultUsage{InputTokens: tokens.InputTokens, OutputTokens: tokens.OutputTokens}); err != nil {
		q.fail(id, fmt.Errorf("save result: %w", err))
		return
	}
	if err := sqlite.UpdateJobStatus(q.db, id, domain.JobCompleted, ""); err != nil {
		log.Printf("job status update error id=%s err=%v", id, err)
		return
	}
	metrics.ObserveJob(domain.JobCompleted)
	log.Printf("job completed id=%s clients=%d orders=%d took=%s tokens_in=%d tokens_out=%d cache_read=%d",
		id, result.Summary.TotalClients, result.Summary.TotalOrders, time.Since(started).Round(time.Millisecond),
		tokens.InputTokens, tokens.OutputTokens, tokens.CacheReadInputTokens)

	if job, err = sqlite.GetJob(q.db, id); err != nil {
		log.Printf("job reload error id=%s err=%v", id, err)
		return
	}
	q.mu.RLock()
	hooks := append([]CompletionHook(nil), q.hooks...)
	q.mu.RUnlock()
	for _, h := range hooks {
		if err := h(ctx, job, result); err != nil {
			log.Printf("job completion hook error id=%s err=%v", id, err)
		}
	}
}

func (q *Queue) fail(id string, cause error) {
	log.Printf("job failed id=%s err=%v", id, cause)
	metrics.ObserveJob(domain.JobFailed)
	if err := sqlite.UpdateJobStatus(q.db, id, domain.JobFailed, cause.Error()); err != nil {
		log.Printf("job status update error id=%s err=%v", id, err)
	}
}
