// Package session coordinates the in-memory layout of each user with its
// persistence. Mutations apply to memory first; with autosave on, every action
// is followed by exactly one save of the full collection.
package session

import (
	"context"
	"fmt"
	"slices"
	"sync"

	log "github.com/sirupsen/logrus"

	"ops-console/domain"
	"ops-console/layout"
	"ops-console/metrics"
)

// Saver persists a user's full collection.
type Saver interface {
	SaveLayout(ctx context.Context, userID string, items []domain.Item) error
}

// SaveError reports a failed save. The in-memory collection keeps the change.
type SaveError struct {
	UserID string
	Err    error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save layout for %s: %v", e.UserID, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

// Session owns the current collection of one user. Actions are serialised
// and a save triggered by an action completes before the next action runs.
type Session struct {
	userID string
	store  Saver
	retry  *RetryQueue
	logger *log.Logger

	mu       sync.Mutex
	items    []domain.Item
	autosave bool
	dirty    bool
	gen      uint64
	lastErr  error
}

type Option func(*Session)

func WithAutosave(on bool) Option {
	return func(s *Session) { s.autosave = on }
}

// WithRetryQueue re-attempts failed saves in the background.
func WithRetryQueue(q *RetryQueue) Option {
	return func(s *Session) { s.retry = q }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// New creates a session holding items. Autosave is on unless disabled.
func New(userID string, items []domain.Item, store Saver, opts ...Option) *Session {
	s := &Session{
		userID:   userID,
		store:    store,
		logger:   log.StandardLogger(),
		items:    slices.Clone(items),
		autosave: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) UserID() string { return s.userID }

// Items returns a copy of the current collection.
func (s *Session) Items() []domain.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

// Dirty reports whether the collection holds changes not yet saved.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// LastSaveError is the error of the most recent failed save, cleared by a
// successful one.
func (s *Session) LastSaveError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) Autosave() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autosave
}

// SetAutosave switches autosave. Turning it on with unsaved changes saves them.
func (s *Session) SetAutosave(ctx context.Context, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autosave = on
	if on && s.dirty {
		return s.saveLocked(ctx, "action")
	}
	return nil
}

// Reorder moves the item at from to to. Invalid indices are rejected without
// touching the collection or saving.
func (s *Session) Reorder(ctx context.Context, from, to int) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !layout.ValidMove(len(s.items), from, to) {
		return slices.Clone(s.items), layout.ErrInvalidMove
	}
	return s.applyLocked(ctx, layout.Reorder(s.items, from, to))
}

func (s *Session) ToggleVisibility(ctx context.Context, id string) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.ContainsFunc(s.items, func(it domain.Item) bool { return it.ID == id }) {
		return slices.Clone(s.items), layout.ErrItemNotFound
	}
	return s.applyLocked(ctx, layout.ToggleVisibility(s.items, id))
}

func (s *Session) Add(ctx context.Context, it domain.Item) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := layout.Add(s.items, it)
	if err != nil {
		return slices.Clone(s.items), err
	}
	return s.applyLocked(ctx, next)
}

func (s *Session) Update(ctx context.Context, it domain.Item) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := layout.Update(s.items, it)
	if err != nil {
		return slices.Clone(s.items), err
	}
	return s.applyLocked(ctx, next)
}

func (s *Session) Remove(ctx context.Context, id string) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := layout.Remove(s.items, id)
	if err != nil {
		return slices.Clone(s.items), err
	}
	return s.applyLocked(ctx, next)
}

// Replace swaps the whole collection, as template application, import
// confirmation and reset do. Repeated ids keep their first occurrence.
func (s *Session) Replace(ctx context.Context, items []domain.Item) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(ctx, layout.Normalize(items))
}

// ApplyTemplate replaces the collection with the items of t the principal
// may access and reports how many were applied.
func (s *Session) ApplyTemplate(ctx context.Context, t domain.Template, p domain.Principal) (int, []domain.Item, error) {
	next := layout.Instantiate(t, p)
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.applyLocked(ctx, next)
	return len(next), items, err
}

// Save persists the collection regardless of the autosave setting.
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx, "explicit")
}

func (s *Session) applyLocked(ctx context.Context, next []domain.Item) ([]domain.Item, error) {
	s.items = next
	s.dirty = true
	s.gen++
	out := slices.Clone(s.items)
	if !s.autosave {
		return out, nil
	}
	return out, s.saveLocked(ctx, "action")
}

func (s *Session) saveLocked(ctx context.Context, origin string) error {
	snapshot := slices.Clone(s.items)
	err := s.store.SaveLayout(ctx, s.userID, snapshot)
	metrics.LayoutSaves.WithLabelValues(origin, metrics.Result(err)).Inc()
	if err != nil {
		s.lastErr = err
		s.logger.WithError(err).WithFields(log.Fields{"user": s.userID, "items": len(snapshot)}).Warn("layout save failed")
		if s.retry != nil {
			s.retry.Schedule(s.userID, snapshot, s.gen)
		}
		return &SaveError{UserID: s.userID, Err: err}
	}
	s.dirty = false
	s.lastErr = nil
	if s.retry != nil {
		s.retry.Forget(s.userID)
	}
	return nil
}

// untouched reports whether no action has changed the collection since the
// session was opened.
func (s *Session) untouched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == 0 && !s.dirty
}

// markSaved clears the dirty flag if no action happened since generation gen.
func (s *Session) markSaved(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.dirty = false
		s.lastErr = nil
	}
}
