package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/billingsync/internal/pkg/cache"
	"github.com/ManuelReschke/billingsync/internal/pkg/metrics"
)

const (
	// DefaultNamespace prefixes every redis key the queue owns.
	DefaultNamespace = "billingsync:jobs"

	DefaultMaxRetries = 3
	JobTTL            = 24 * time.Hour

	// A job left in processing longer than this is assumed orphaned by a
	// crashed worker and goes back to pending.
	stuckAfter = 10 * time.Minute
)

// keys names the redis structures of one queue namespace:
// a pending list, a processing list, a delayed set scored by due time in
// unix milliseconds, and one string per job body.
type keys string

func (k keys) job(id string) string { return string(k) + ":job:" + id }
func (k keys) pending() string      { return string(k) + ":pending" }
func (k keys) processing() string   { return string(k) + ":processing" }
func (k keys) delayed() string      { return string(k) + ":delayed" }

// Handler processes one job. Returning an error schedules a retry.
type Handler func(ctx context.Context, job *Job) error

// Queue is a redis-backed at-least-once job queue. Retries wait in the
// delayed set so a restart does not lose them.
type Queue struct {
	client       *redis.Client
	keys         keys
	workers      int
	retryBackoff time.Duration
	pollInterval time.Duration

	handlersMu sync.RWMutex
	handlers   map[JobType]Handler

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewQueue creates a new job queue. A nil client falls back to the shared
// cache client.
func NewQueue(client *redis.Client, workers int) *Queue {
	if workers <= 0 {
		workers = 3
	}
	if client == nil {
		client = cache.GetClient()
	}
	return &Queue{
		client:       client,
		keys:         keys(DefaultNamespace),
		workers:      workers,
		retryBackoff: time.Minute,
		pollInterval: time.Second,
		handlers:     make(map[JobType]Handler),
	}
}

// Register binds a handler to a job type. Call before Start.
func (q *Queue) Register(jobType JobType, handler Handler) {
	q.handlersMu.Lock()
	defer q.handlersMu.Unlock()
	q.handlers[jobType] = handler
}

func (q *Queue) handler(jobType JobType) (Handler, bool) {
	q.handlersMu.RLock()
	defer q.handlersMu.RUnlock()
	h, ok := q.handlers[jobType]
	return h, ok
}

// Start launches the workers and the maintenance loop.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.running = true
	log.Infof("[JobQueue] Starting %d workers on %s", q.workers, q.keys)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.wg.Add(1)
	go q.maintain(ctx)
}

// Stop cancels the workers and waits for the job in hand to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return
	}

	log.Info("[JobQueue] Stopping workers...")
	q.cancel()
	q.wg.Wait()
	q.running = false
	log.Info("[JobQueue] All workers stopped")
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		job, err := q.dequeueJob(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			log.Errorf("[JobQueue] Worker %d: dequeue: %v", id, err)
			if !sleepCtx(ctx, q.pollInterval) {
				return
			}
			continue
		}
		log.Debugf("[JobQueue] Worker %d running job %s (%s)", id, job.ID, job.Type)
		// The handler runs to completion even while stopping.
		q.processJob(context.WithoutCancel(ctx), job)
	}
}

// maintain promotes due retries and recovers orphaned jobs.
func (q *Queue) maintain(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := q.promoteDue(ctx, now); err != nil && ctx.Err() == nil {
				log.Errorf("[JobQueue] Promoting delayed jobs: %v", err)
			}
			if _, err := q.recoverStuck(ctx, now, stuckAfter); err != nil && ctx.Err() == nil {
				log.Errorf("[JobQueue] Recovering stuck jobs: %v", err)
			}
		}
	}
}

// EnqueueJob stores the job body and pushes its ID onto the pending list.
func (q *Queue) EnqueueJob(ctx context.Context, jobType JobType, payload json.RawMessage) (*Job, error) {
	now := time.Now()
	job := &Job{
		ID:         uuid.New().String(),
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: DefaultMaxRetries,
	}
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.keys.job(job.ID), body, JobTTL)
	pipe.LPush(ctx, q.keys.pending(), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", jobType, err)
	}
	log.Debugf("[JobQueue] Enqueued job %s (%s)", job.ID, job.Type)
	return job, nil
}

// dequeueJob moves the oldest pending ID onto the processing list and loads
// its body. It returns redis.Nil when nothing arrived within the poll window.
func (q *Queue) dequeueJob(ctx context.Context) (*Job, error) {
	id, err := q.client.BLMove(ctx, q.keys.pending(), q.keys.processing(), "RIGHT", "LEFT", q.pollInterval).Result()
	if err != nil {
		return nil, err
	}
	job, err := q.loadJob(ctx, id)
	if err != nil {
		q.client.LRem(ctx, q.keys.processing(), 1, id)
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	return job, nil
}

func (q *Queue) loadJob(ctx context.Context, id string) (*Job, error) {
	body, err := q.client.Get(ctx, q.keys.job(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

func (q *Queue) processJob(ctx context.Context, job *Job) {
	job.MarkAsProcessing()
	q.saveJob(ctx, job)

	var err error
	if handle, ok := q.handler(job.Type); ok {
		err = handle(ctx, job)
	} else {
		err = fmt.Errorf("unknown job type: %s", job.Type)
	}

	if err == nil {
		job.MarkAsCompleted()
		metrics.JobsTotal.WithLabelValues(string(job.Type), "completed").Inc()
		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, q.keys.processing(), 1, job.ID)
		pipe.Del(ctx, q.keys.job(job.ID))
		if _, err := pipe.Exec(ctx); err != nil {
			log.Errorf("[JobQueue] Clearing completed job %s: %v", job.ID, err)
		}
		return
	}

	job.MarkAsFailed(err.Error())
	if !job.IsRetryable() {
		log.Errorf("[JobQueue] Job %s (%s) gave up after %d attempts: %v", job.ID, job.Type, job.RetryCount, err)
		metrics.JobsTotal.WithLabelValues(string(job.Type), "failed").Inc()
		q.saveJob(ctx, job)
		q.client.LRem(ctx, q.keys.processing(), 1, job.ID)
		return
	}

	job.MarkAsRetrying()
	due := time.Now().Add(q.retryBackoff * time.Duration(job.RetryCount))
	log.Warnf("[JobQueue] Job %s (%s) failed, attempt %d/%d, retry at %s: %v",
		job.ID, job.Type, job.RetryCount, job.MaxRetries, due.Format(time.RFC3339), err)
	metrics.JobsTotal.WithLabelValues(string(job.Type), "retried").Inc()
	q.saveJob(ctx, job)

	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.keys.processing(), 1, job.ID)
	pipe.ZAdd(ctx, q.keys.delayed(), redis.Z{Score: float64(due.UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("[JobQueue] Scheduling retry for job %s: %v", job.ID, err)
	}
}

func (q *Queue) saveJob(ctx context.Context, job *Job) {
	body, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Marshal job %s: %v", job.ID, err)
		return
	}
	if err := q.client.Set(ctx, q.keys.job(job.ID), body, JobTTL).Err(); err != nil {
		log.Errorf("[JobQueue] Save job %s: %v", job.ID, err)
	}
}

// promoteDue moves retries whose backoff has elapsed back to pending. ZREM
// decides ownership, so concurrent instances promote each ID once.
func (q *Queue) promoteDue(ctx context.Context, now time.Time) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.keys.delayed(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, q.keys.delayed(), id).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.keys.pending(), id).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// recoverStuck requeues jobs that have sat in processing longer than maxAge.
// Entries whose body is gone or that already failed for good are dropped.
func (q *Queue) recoverStuck(ctx context.Context, now time.Time, maxAge time.Duration) (int, error) {
	ids, err := q.client.LRange(ctx, q.keys.processing(), 0, -1).Result()
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, id := range ids {
		job, err := q.loadJob(ctx, id)
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Errorf("[JobQueue] Dropping unreadable job %s: %v", id, err)
			}
			q.client.LRem(ctx, q.keys.processing(), 1, id)
			continue
		}
		idle := now.Sub(job.UpdatedAt)
		if idle <= maxAge {
			continue
		}
		if job.Status == JobStatusFailed {
			q.client.LRem(ctx, q.keys.processing(), 1, id)
			continue
		}

		log.Warnf("[JobQueue] Recovering job %s (%s, %s) idle for %s", job.ID, job.Type, job.Status, idle.Round(time.Second))
		job.Status = JobStatusPending
		job.ErrorMsg = "recovered after worker loss"
		job.UpdatedAt = now
		q.saveJob(ctx, job)
		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, q.keys.processing(), 1, id)
		pipe.RPush(ctx, q.keys.pending(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return recovered, err
		}
		metrics.JobsTotal.WithLabelValues(string(job.Type), "recovered").Inc()
		recovered++
	}
	return recovered, nil
}

// Depth is the number of jobs per queue state.
type Depth struct {
	Pending    int64
	Processing int64
	Delayed    int64
}

// Depth reads the three queue sizes in one round trip.
func (q *Queue) Depth(ctx context.Context) (Depth, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, q.keys.pending())
	processing := pipe.LLen(ctx, q.keys.processing())
	delayed := pipe.ZCard(ctx, q.keys.delayed())
	if _, err := pipe.Exec(ctx); err != nil {
		return Depth{}, err
	}
	return Depth{Pending: pending.Val(), Processing: processing.Val(), Delayed: delayed.Val()}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
