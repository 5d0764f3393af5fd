// Package jobs tracks long-running upstream operations by polling their status
// until they reach a terminal state.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"ops-console/domain"
	"ops-console/metrics"
)

const (
	// DefaultInterval is the delay between status checks.
	DefaultInterval = 2 * time.Second
	// DefaultRetention is how long a finished job stays readable by id.
	DefaultRetention = 15 * time.Minute
)

var (
	ErrAlreadyTracked = errors.New("job is already being polled")
	ErrClosed         = errors.New("poller is closed")
)

// Report is a status response for a polled job.
type Report interface {
	JobState() domain.JobStatus
	JobProgress() int
	JobError() string
}

// State is the client-side lifecycle of a tracked job.
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Done reports whether no further checks will run.
func (s State) Done() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Snapshot is the observable state of one job. Terminal snapshots never change.
type Snapshot[R Report] struct {
	ID        string           `json:"id"`
	Kind      string           `json:"kind"`
	Owner     string           `json:"owner,omitempty"`
	State     State            `json:"state"`
	Status    domain.JobStatus `json:"status,omitempty"`
	Progress  int              `json:"progress"`
	Report    R                `json:"report"`
	Error     string           `json:"error,omitempty"`
	StartedAt time.Time        `json:"startedAt"`
	EndedAt   *time.Time       `json:"endedAt,omitempty"`
}

// StatusFunc fetches the current status of a job.
type StatusFunc[R Report] func(ctx context.Context, jobID string) (R, error)

type options struct {
	interval  time.Duration
	retention time.Duration
	maxErrors int
	clock     clockwork.Clock
	logger    *log.Logger
}

type Option func(*options)

// WithInterval sets the delay between checks. Non-positive values keep the default.
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithRetention sets how long finished jobs stay available to Get, Watch and
// Cancel before they are pruned. History is unaffected.
func WithRetention(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retention = d
		}
	}
}

// WithMaxConsecutiveErrors fails a job after n status calls in a row fail.
// Zero, the default, retries forever.
func WithMaxConsecutiveErrors(n int) Option {
	return func(o *options) { o.maxErrors = max(n, 0) }
}

func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

type job[R Report] struct {
	snap   Snapshot[R]
	cancel context.CancelFunc
	done   chan struct{}
	subs   map[chan Snapshot[R]]struct{}
}

// Poller tracks jobs of one kind, each on its own ticker.
type Poller[R Report] struct {
	kind    string
	status  StatusFunc[R]
	history History[R]
	opts    options

	mu     sync.Mutex
	jobs   map[string]*job[R]
	closed bool
}

// NewPoller creates a poller. A nil history keeps the default in-memory ring.
func NewPoller[R Report](kind string, status StatusFunc[R], history History[R], opts ...Option) *Poller[R] {
	o := options{interval: DefaultInterval, retention: DefaultRetention, clock: clockwork.NewRealClock(), logger: log.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	if history == nil {
		history = NewMemoryHistory[R](0)
	}
	return &Poller[R]{
		kind:    kind,
		status:  status,
		history: history,
		opts:    o,
		jobs:    make(map[string]*job[R]),
	}
}

func (p *Poller[R]) Kind() string { return p.kind }

func (p *Poller[R]) History() History[R] { return p.history }

// Start begins polling jobID. The first check runs one interval later.
// onDone, which may be nil, is called exactly once when the job completes or
// fails; it is not called for cancelled jobs. The loop outlives ctx's
// cancellation but keeps its values.
func (p *Poller[R]) Start(ctx context.Context, jobID string, onDone func(Snapshot[R])) error {
	return p.StartFor(ctx, jobID, "", onDone)
}

// StartFor is Start for a job owned by owner. The owner is recorded on every
// snapshot of the job.
func (p *Poller[R]) StartFor(ctx context.Context, jobID, owner string, onDone func(Snapshot[R])) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if j, ok := p.jobs[jobID]; ok && !j.snap.State.Done() {
		return ErrAlreadyTracked
	}
	p.pruneLocked()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j := &job[R]{
		snap: Snapshot[R]{
			ID:        jobID,
			Kind:      p.kind,
			Owner:     owner,
			State:     StateStarting,
			Status:    domain.JobPending,
			StartedAt: p.opts.clock.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
		subs:   make(map[chan Snapshot[R]]struct{}),
	}
	p.jobs[jobID] = j

	metrics.JobsActive.WithLabelValues(p.kind).Inc()
	ticker := p.opts.clock.NewTicker(p.opts.interval)
	go p.run(loopCtx, jobID, j, ticker, onDone)
	return nil
}

func (p *Poller[R]) run(ctx context.Context, id string, j *job[R], ticker clockwork.Ticker, onDone func(Snapshot[R])) {
	defer close(j.done)
	defer ticker.Stop()

	entry := p.opts.logger.WithFields(log.Fields{"job": id, "kind": p.kind})
	p.mu.Lock()
	if j.snap.State == StateStarting {
		j.snap.State = StatePolling
		p.notifyLocked(j)
	}
	p.mu.Unlock()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		rep, err := p.status(ctx, id)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
			entry.WithError(err).WithField("failures", failures).Warn("job status check failed")
			if p.opts.maxErrors > 0 && failures >= p.opts.maxErrors {
				var zero R
				p.finish(ctx, j, zero, false, StateFailed, fmt.Sprintf("status unavailable after %d attempts: %v", failures, err), onDone)
				return
			}
			continue
		}
		failures = 0

		switch st := rep.JobState(); st {
		case domain.JobCompleted:
			p.finish(ctx, j, rep, true, StateCompleted, "", onDone)
			return
		case domain.JobFailed:
			p.finish(ctx, j, rep, true, StateFailed, rep.JobError(), onDone)
			return
		default:
			p.mu.Lock()
			if j.snap.State.Done() {
				p.mu.Unlock()
				return
			}
			j.snap.Status = st
			j.snap.Progress = clampProgress(rep.JobProgress())
			j.snap.Report = rep
			progress := j.snap.Progress
			p.notifyLocked(j)
			p.mu.Unlock()
			entry.WithField("progress", progress).Debug("job progress")
		}
	}
}

func (p *Poller[R]) finish(ctx context.Context, j *job[R], rep R, hasReport bool, state State, msg string, onDone func(Snapshot[R])) {
	p.mu.Lock()
	if j.snap.State.Done() {
		p.mu.Unlock()
		return
	}
	now := p.opts.clock.Now().UTC()
	j.snap.State = state
	j.snap.EndedAt = &now
	j.snap.Error = msg
	if hasReport {
		j.snap.Report = rep
		j.snap.Progress = clampProgress(rep.JobProgress())
	}
	if state == StateCompleted {
		j.snap.Status = domain.JobCompleted
		j.snap.Progress = 100
	} else {
		j.snap.Status = domain.JobFailed
	}
	p.notifyLocked(j)
	p.closeSubsLocked(j)
	snap := j.snap
	p.mu.Unlock()
	metrics.JobsActive.WithLabelValues(p.kind).Dec()
	metrics.JobsFinished.WithLabelValues(p.kind, string(state)).Inc()

	if err := p.history.Append(ctx, snap); err != nil {
		p.opts.logger.WithError(err).WithField("job", snap.ID).Warn("job history not recorded")
	}
	p.opts.logger.WithFields(log.Fields{"job": snap.ID, "kind": p.kind, "state": snap.State}).Info("job finished")
	if onDone != nil {
		onDone(snap)
	}
}

// Cancel stops checks for jobID and waits for its loop to exit. It reports
// false, doing nothing, when the job is unknown or already finished.
func (p *Poller[R]) Cancel(jobID string) bool {
	p.mu.Lock()
	j, ok := p.jobs[jobID]
	if !ok || j.snap.State.Done() {
		p.mu.Unlock()
		return false
	}
	now := p.opts.clock.Now().UTC()
	j.snap.State = StateCancelled
	j.snap.EndedAt = &now
	j.cancel()
	p.notifyLocked(j)
	p.closeSubsLocked(j)
	p.mu.Unlock()
	metrics.JobsActive.WithLabelValues(p.kind).Dec()
	metrics.JobsFinished.WithLabelValues(p.kind, string(StateCancelled)).Inc()

	<-j.done
	return true
}

// Get returns the latest snapshot of jobID.
func (p *Poller[R]) Get(jobID string) (Snapshot[R], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[jobID]
	if !ok {
		return Snapshot[R]{}, false
	}
	return j.snap, true
}

// Watch streams snapshots of jobID. The first value is the current snapshot;
// the channel is closed once the job is done or stop is called. Slow readers
// miss intermediate snapshots but always see the final one.
func (p *Poller[R]) Watch(jobID string) (<-chan Snapshot[R], func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[jobID]
	if !ok {
		return nil, func() {}, false
	}
	ch := make(chan Snapshot[R], 1)
	ch <- j.snap
	if j.snap.State.Done() {
		close(ch)
		return ch, func() {}, true
	}
	j.subs[ch] = struct{}{}
	stop := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := j.subs[ch]; ok {
			delete(j.subs, ch)
			close(ch)
		}
	}
	return ch, stop, true
}

// Close cancels every running job and rejects new ones.
func (p *Poller[R]) Close() {
	p.mu.Lock()
	p.closed = true
	ids := make([]string, 0, len(p.jobs))
	for id, j := range p.jobs {
		if !j.snap.State.Done() {
			ids = append(ids, id)
		}
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.Cancel(id)
	}
}

// pruneLocked forgets jobs that finished at least one retention period ago.
func (p *Poller[R]) pruneLocked() {
	now := p.opts.clock.Now()
	for id, j := range p.jobs {
		if j.snap.State.Done() && j.snap.EndedAt != nil && now.Sub(*j.snap.EndedAt) >= p.opts.retention {
			delete(p.jobs, id)
		}
	}
}

func (p *Poller[R]) notifyLocked(j *job[R]) {
	for ch := range j.subs {
		select {
		case <-ch:
		default:
		}
		ch <- j.snap
	}
}

func (p *Poller[R]) closeSubsLocked(j *job[R]) {
	for ch := range j.subs {
		close(ch)
		delete(j.subs, ch)
	}
}

func clampProgress(v int) int {
	return min(max(v, 0), 100)
}
