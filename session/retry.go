package session

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"ops-console/domain"
	"ops-console/metrics"
)

type RetryConfig struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
	Timeout     time.Duration
}

type retryJob struct {
	userID  string
	items   []domain.Item
	gen     uint64
	attempt int
	timer   clockwork.Timer
}

// RetryQueue re-attempts failed saves with exponential backoff. Only the
// newest collection per user is kept.
type RetryQueue struct {
	cfg    RetryConfig
	store  Saver
	clock  clockwork.Clock
	logger *log.Logger

	mu      sync.Mutex
	pending map[string]*retryJob
	onSaved func(userID string, gen uint64)
	closed  bool
	wg      sync.WaitGroup
}

func NewRetryQueue(cfg RetryConfig, store Saver, clock clockwork.Clock, logger *log.Logger) *RetryQueue {
	if cfg.Initial <= 0 {
		cfg.Initial = 500 * time.Millisecond
	}
	if cfg.Max <= 0 {
		cfg.Max = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RetryQueue{
		cfg:     cfg,
		store:   store,
		clock:   clock,
		logger:  logger,
		pending: make(map[string]*retryJob),
	}
}

// OnSaved registers a callback for successful retries.
func (q *RetryQueue) OnSaved(fn func(userID string, gen uint64)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onSaved = fn
}

// Schedule queues items for userID. A newer collection replaces a pending one
// and keeps its backoff.
func (q *RetryQueue) Schedule(userID string, items []domain.Item, gen uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if job, ok := q.pending[userID]; ok {
		job.items = items
		job.gen = gen
		return
	}
	job := &retryJob{userID: userID, items: items, gen: gen, attempt: 1}
	q.pending[userID] = job
	q.armLocked(job)
	metrics.LayoutSaveRetriesPending.Set(float64(len(q.pending)))
}

// Forget drops the pending retry for userID.
func (q *RetryQueue) Forget(userID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.pending[userID]; ok {
		job.timer.Stop()
		delete(q.pending, userID)
		metrics.LayoutSaveRetriesPending.Set(float64(len(q.pending)))
	}
}

// Pending reports whether a retry is queued for userID.
func (q *RetryQueue) Pending(userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[userID]
	return ok
}

// Close stops all timers and waits for running retries.
func (q *RetryQueue) Close() {
	q.mu.Lock()
	q.closed = true
	for id, job := range q.pending {
		job.timer.Stop()
		delete(q.pending, id)
	}
	metrics.LayoutSaveRetriesPending.Set(0)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *RetryQueue) armLocked(job *retryJob) {
	delay := exponentialBackoff(job.attempt, q.cfg.Initial, q.cfg.Max)
	job.timer = q.clock.AfterFunc(delay, func() { q.fire(job) })
}

func (q *RetryQueue) fire(job *retryJob) {
	q.mu.Lock()
	if q.closed || q.pending[job.userID] != job {
		q.mu.Unlock()
		return
	}
	q.wg.Add(1)
	items, gen := job.items, job.gen
	q.mu.Unlock()
	defer q.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.Timeout)
	err := q.store.SaveLayout(ctx, job.userID, items)
	cancel()
	metrics.LayoutSaves.WithLabelValues("retry", metrics.Result(err)).Inc()

	q.mu.Lock()
	if q.pending[job.userID] != job {
		q.mu.Unlock()
		return
	}
	if err != nil {
		q.logger.WithError(err).WithFields(log.Fields{"user": job.userID, "attempt": job.attempt}).Warn("layout save retry failed")
		if q.cfg.MaxAttempts > 0 && job.attempt >= q.cfg.MaxAttempts {
			delete(q.pending, job.userID)
			metrics.LayoutSaveRetriesPending.Set(float64(len(q.pending)))
			q.mu.Unlock()
			q.logger.WithField("user", job.userID).Error("layout save retries exhausted")
			return
		}
		if !q.closed {
			job.attempt++
			q.armLocked(job)
		}
		q.mu.Unlock()
		return
	}

	newer := job.gen != gen
	if newer {
		// A newer collection arrived during the save; send it next.
		job.attempt = 1
		q.armLocked(job)
		q.mu.Unlock()
		return
	}
	delete(q.pending, job.userID)
	metrics.LayoutSaveRetriesPending.Set(float64(len(q.pending)))
	onSaved := q.onSaved
	q.mu.Unlock()

	if onSaved != nil {
		onSaved(job.userID, gen)
	}
}

func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt <= 0 {
		if initial <= 0 {
			return time.Second
		}
		return initial
	}
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := 0.2 * backoff
	return time.Duration(backoff + (rand.Float64()-0.5)*2*jitter)
}
