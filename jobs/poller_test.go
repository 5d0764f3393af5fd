package jobs

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"ops-console/domain"
)

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

type scripted struct {
	mu        sync.Mutex
	responses []domain.SyncStatus
	err       error
	calls     int
}

func (s *scripted) status(ctx context.Context, id string) (domain.SyncStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if s.err != nil {
		return domain.SyncStatus{}, s.err
	}
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

func (s *scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestPoller(clock clockwork.Clock, status StatusFunc[domain.SyncStatus], opts ...Option) *Poller[domain.SyncStatus] {
	opts = append([]Option{WithClock(clock), WithLogger(quietLogger())}, opts...)
	return NewPoller("sync", status, nil, opts...)
}

func TestPollerRunsToCompletion(t *testing.T) {
	clock := clockwork.NewFakeClock()
	st := &scripted{responses: []domain.SyncStatus{
		{Status: domain.JobPending, Progress: 0},
		{Status: domain.JobRunning, Progress: 50},
		{Status: domain.JobCompleted, Progress: 100, Result: []byte(`{"synced":12}`)},
	}}
	p := newTestPoller(clock, st.status)
	defer p.Close()

	done := make(chan Snapshot[domain.SyncStatus], 2)
	if err := p.Start(context.Background(), "job-1", func(s Snapshot[domain.SyncStatus]) { done <- s }); err != nil {
		t.Fatalf("start: %v", err)
	}
	if st.Calls() != 0 {
		t.Fatalf("no check expected before the first interval")
	}

	clock.Advance(DefaultInterval)
	waitFor(t, "first check", func() bool { return st.Calls() == 1 })

	clock.Advance(DefaultInterval)
	waitFor(t, "running progress", func() bool {
		s, _ := p.Get("job-1")
		return s.Progress == 50 && s.Status == domain.JobRunning && s.State == StatePolling
	})

	clock.Advance(DefaultInterval)
	var final Snapshot[domain.SyncStatus]
	select {
	case final = <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("onDone not called")
	}
	if final.State != StateCompleted || final.Progress != 100 || string(final.Report.Result) != `{"synced":12}` {
		t.Fatalf("unexpected final snapshot %+v", final)
	}
	if final.EndedAt == nil {
		t.Fatalf("expected end time")
	}

	clock.Advance(3 * DefaultInterval)
	select {
	case <-done:
		t.Fatalf("onDone called twice")
	case <-time.After(50 * time.Millisecond):
	}
	if st.Calls() != 3 {
		t.Fatalf("expected no checks after terminal status, got %d calls", st.Calls())
	}

	hist, err := p.History().List(context.Background())
	if err != nil || len(hist) != 1 || hist[0].ID != "job-1" {
		t.Fatalf("expected job in history, got %+v %v", hist, err)
	}
}

func TestPollerFailedJob(t *testing.T) {
	clock := clockwork.NewFakeClock()
	st := &scripted{responses: []domain.SyncStatus{{Status: domain.JobFailed, Progress: 30, Error: "directory unreachable"}}}
	p := newTestPoller(clock, st.status)
	defer p.Close()

	done := make(chan Snapshot[domain.SyncStatus], 1)
	_ = p.Start(context.Background(), "job-1", func(s Snapshot[domain.SyncStatus]) { done <- s })
	clock.Advance(DefaultInterval)

	select {
	case s := <-done:
		if s.State != StateFailed || s.Error != "directory unreachable" || s.Progress != 30 {
			t.Fatalf("unexpected snapshot %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("onDone not called")
	}
}

func TestPollerCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	st := &scripted{responses: []domain.SyncStatus{{Status: domain.JobRunning, Progress: 10}}}
	p := newTestPoller(clock, st.status)
	defer p.Close()

	called := false
	_ = p.Start(context.Background(), "job-1", func(Snapshot[domain.SyncStatus]) { called = true })
	clock.Advance(DefaultInterval)
	waitFor(t, "first check", func() bool { return st.Calls() == 1 })

	if !p.Cancel("job-1") {
		t.Fatalf("expected cancel to stop a running job")
	}
	clock.Advance(3 * DefaultInterval)
	time.Sleep(20 * time.Millisecond)
	if st.Calls() != 1 {
		t.Fatalf("expected no checks after cancel, got %d", st.Calls())
	}
	if s, _ := p.Get("job-1"); s.State != StateCancelled {
		t.Fatalf("expected cancelled state, got %s", s.State)
	}
	if p.Cancel("job-1") {
		t.Fatalf("cancelling a finished job must be a no-op")
	}
	if p.Cancel("unknown") {
		t.Fatalf("cancelling an unknown job must be a no-op")
	}
	if called {
		t.Fatalf("onDone must not run for cancelled jobs")
	}
	if hist, _ := p.History().List(context.Background()); len(hist) != 0 {
		t.Fatalf("cancelled jobs are not recorded, got %d", len(hist))
	}
}

func TestPollerCancelDuringCheck(t *testing.T) {
	clock := clockwork.NewFakeClock()
	entered := make(chan struct{})
	status := func(ctx context.Context, id string) (domain.SyncStatus, error) {
		close(entered)
		<-ctx.Done()
		return domain.SyncStatus{Status: domain.JobCompleted}, nil
	}
	p := newTestPoller(clock, status)

	called := false
	_ = p.Start(context.Background(), "job-1", func(Snapshot[domain.SyncStatus]) { called = true })
	clock.Advance(DefaultInterval)
	<-entered

	if !p.Cancel("job-1") {
		t.Fatalf("expected cancel")
	}
	if s, _ := p.Get("job-1"); s.State != StateCancelled {
		t.Fatalf("late response must not override cancel, got %s", s.State)
	}
	if called {
		t.Fatalf("onDone must not run after cancel")
	}
}

func TestPollerMaxConsecutiveErrors(t *testing.T) {
	clock := clockwork.NewFakeClock()
	st := &scripted{err: errors.New("502 bad gateway")}
	p := newTestPoller(clock, st.status, WithMaxConsecutiveErrors(2))
	defer p.Close()

	done := make(chan Snapshot[domain.SyncStatus], 1)
	_ = p.Start(context.Background(), "job-1", func(s Snapshot[domain.SyncStatus]) { done <- s })
	clock.Advance(DefaultInterval)
	waitFor(t, "first check", func() bool { return st.Calls() == 1 })
	clock.Advance(DefaultInterval)

	select {
	case s := <-done:
		if s.State != StateFailed || !strings.Contains(s.Error, "after 2 attempts") {
			t.Fatalf("unexpected snapshot %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected job to fail")
	}
}

func TestPollerRetriesErrorsByDefault(t *testing.T) {
	clock := clockwork.NewFakeClock()
	st := &scripted{err: errors.New("timeout")}
	p := newTestPoller(clock, st.status)
	defer p.Close()

	_ = p.Start(context.Background(), "job-1", nil)
	for i := 1; i <= 5; i++ {
		clock.Advance(DefaultInterval)
		waitFor(t, "check", func() bool { return st.Calls() == i })
	}
	if s, _ := p.Get("job-1"); s.State != StatePolling {
		t.Fatalf("expected job to keep polling, got %s", s.State)
	}
}

func TestPollerIndependentJobs(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var mu sync.Mutex
	calls := map[string]int{}
	status := func(ctx context.Context, id string) (domain.SyncStatus, error) {
		mu.Lock()
		defer mu.Unlock()
		calls[id]++
		if id == "fast" {
			return domain.SyncStatus{Status: domain.JobCompleted, Progress: 100}, nil
		}
		return domain.SyncStatus{Status: domain.JobRunning, Progress: 20}, nil
	}
	count := func(id string) int {
		mu.Lock()
		defer mu.Unlock()
		return calls[id]
	}
	p := newTestPoller(clock, status)
	defer p.Close()

	done := make(chan string, 2)
	_ = p.Start(context.Background(), "fast", func(s Snapshot[domain.SyncStatus]) { done <- s.ID })
	_ = p.Start(context.Background(), "slow", func(s Snapshot[domain.SyncStatus]) { done <- s.ID })

	clock.Advance(DefaultInterval)
	if id := <-done; id != "fast" {
		t.Fatalf("unexpected finished job %s", id)
	}
	waitFor(t, "slow check", func() bool { return count("slow") == 1 })

	clock.Advance(DefaultInterval)
	waitFor(t, "second slow check", func() bool { return count("slow") == 2 })
	if count("fast") != 1 {
		t.Fatalf("finished job polled again")
	}
	if !p.Cancel("slow") {
		t.Fatalf("expected slow job cancelled")
	}
}

func TestPollerRejectsDuplicateAndClosed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	st := &scripted{responses: []domain.SyncStatus{{Status: domain.JobRunning}}}
	p := newTestPoller(clock, st.status)

	if err := p.Start(context.Background(), "job-1", nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Start(context.Background(), "job-1", nil); !errors.Is(err, ErrAlreadyTracked) {
		t.Fatalf("expected ErrAlreadyTracked, got %v", err)
	}
	p.Close()
	if s, _ := p.Get("job-1"); s.State != StateCancelled {
		t.Fatalf("close should cancel running jobs, got %s", s.State)
	}
	if err := p.Start(context.Background(), "job-2", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestPollerSurvivesRequestContext(t *testing.T) {
	clock := clockwork.NewFakeClock()
	st := &scripted{responses: []domain.SyncStatus{{Status: domain.JobRunning}}}
	p := newTestPoller(clock, st.status)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	_ = p.Start(ctx, "job-1", nil)
	cancel()
	clock.Advance(DefaultInterval)
	waitFor(t, "check after request ended", func() bool { return st.Calls() == 1 })
}

func TestPollerWatch(t *testing.T) {
	clock := clockwork.NewFakeClock()
	st := &scripted{responses: []domain.SyncStatus{
		{Status: domain.JobRunning, Progress: 40},
		{Status: domain.JobCompleted, Progress: 100},
	}}
	p := newTestPoller(clock, st.status)
	defer p.Close()

	_ = p.Start(context.Background(), "job-1", nil)
	ch, stop, ok := p.Watch("job-1")
	if !ok {
		t.Fatalf("expected watch")
	}
	defer stop()

	clock.Advance(DefaultInterval)
	waitFor(t, "first check", func() bool { return st.Calls() == 1 })
	clock.Advance(DefaultInterval)

	var last Snapshot[domain.SyncStatus]
	timeout := time.After(2 * time.Second)
	for open := true; open; {
		select {
		case s, more := <-ch:
			if !more {
				open = false
				continue
			}
			last = s
		case <-timeout:
			t.Fatalf("watch channel not closed")
		}
	}
	if last.State != StateCompleted {
		t.Fatalf("expected final snapshot, got %s", last.State)
	}

	if _, _, ok := p.Watch("missing"); ok {
		t.Fatalf("unexpected watch for unknown job")
	}
}

func TestPollerPrunesFinishedJobs(t *testing.T) {
	clock := clockwork.NewFakeClock()
	st := &scripted{responses: []domain.SyncStatus{{Status: domain.JobRunning}}}
	p := newTestPoller(clock, st.status, WithRetention(time.Minute))
	defer p.Close()

	_ = p.Start(context.Background(), "job-1", nil)
	_ = p.StartFor(context.Background(), "job-2", "u1", nil)
	p.Cancel("job-1")

	clock.Advance(30 * time.Second)
	_ = p.Start(context.Background(), "job-3", nil)
	if _, ok := p.Get("job-1"); !ok {
		t.Fatalf("finished job pruned before its retention ran out")
	}

	clock.Advance(30 * time.Second)
	_ = p.Start(context.Background(), "job-4", nil)
	if _, ok := p.Get("job-1"); ok {
		t.Fatalf("expected finished job to be pruned")
	}
	s, ok := p.Get("job-2")
	if !ok {
		t.Fatalf("running jobs must never be pruned")
	}
	if s.Owner != "u1" {
		t.Fatalf("expected owner u1, got %q", s.Owner)
	}
}
