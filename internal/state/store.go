// Package state owns the in-memory study plan and is the only writer of it.
//
// # Overview
//
// A Store holds one model.AppData for the current identity. Every mutation
// goes through a named method that validates input, updates the aggregate,
// appends an audit entry, persists the result through the Persister and then
// notifies subscribers with a Change.
//
// # Lifecycle
//
//	s, _ := state.New(cfg)
//	s.Init(identity)        // backup, load, hydrate or seed, then ready
//	s.AddTask(task)         // mutate*
//	s.SwitchIdentity(other) // login / logout
//	s.Close()
//
// Calls made before Init return ErrNotReady.
//
// # Concurrency
//
// Methods are safe for concurrent use. Subscribers are called synchronously
// after the store's lock is released, in registration order.
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mschirtzinger/studysync/internal/logging"
	"github.com/mschirtzinger/studysync/internal/model"
)

var (
	ErrNotReady            = errors.New("state is not initialized")
	ErrNotConfirmed        = errors.New("action was not confirmed")
	ErrTaskNotFound        = errors.New("task not found")
	ErrDuplicateTask       = errors.New("task id already exists")
	ErrSubjectNotFound     = errors.New("subject not found")
	ErrDuplicateSubject    = errors.New("subject already exists")
	ErrRoutineSlotNotFound = errors.New("routine slot not found")
	ErrArchiveNotFound     = errors.New("archived plan not found")
	ErrInvalidDuration     = fmt.Errorf("plan length must be between %d and %d days", model.MinTotalDays, model.MaxTotalDays)
	ErrInvalidImport       = errors.New("invalid import file")
	ErrInvalidInput        = errors.New("invalid input")
)

// Persister is the local storage the store writes through.
// *localstore.Adapter satisfies it.
type Persister interface {
	Save(d *model.AppData, identity string) bool
	Put(d model.AppData, identity string) bool
	CreateBackup(identity string) bool
	Load(identity string) (model.AppData, bool)
	Exists(identity string) bool
	ClearAll(identity string) bool
}

// Confirmer gates destructive actions.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// AlwaysConfirm accepts every prompt.
var AlwaysConfirm Confirmer = ConfirmFunc(func(context.Context, string) (bool, error) { return true, nil })

// Level is the severity of a user-visible notice.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Notifier receives user-visible notices (toasts, status lines).
type Notifier interface {
	Notify(level Level, message string)
}

// NotifyFunc adapts a function to Notifier.
type NotifyFunc func(level Level, message string)

func (f NotifyFunc) Notify(level Level, message string) { f(level, message) }

// Origin says where a change came from.
type Origin int

const (
	// OriginLocal is a mutation requested through the store's methods.
	OriginLocal Origin = iota
	// OriginRemote is a document adopted from the remote store.
	OriginRemote
	// OriginHydrate is a reload from local storage (init or identity switch).
	OriginHydrate
)

func (o Origin) String() string {
	switch o {
	case OriginRemote:
		return "remote"
	case OriginHydrate:
		return "hydrate"
	default:
		return "local"
	}
}

// Change describes one committed update of the aggregate.
type Change struct {
	Revision    uint64
	Origin      Origin
	Action      string
	Identity    string
	LastUpdated int64
}

// Config holds store dependencies.
type Config struct {
	Persister Persister
	Confirmer Confirmer
	Notifier  Notifier
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Store is the single owner of the study-plan aggregate.
type Store struct {
	persister Persister
	confirmer Confirmer
	notifier  Notifier
	clock     clock.Clock
	logger    *zap.Logger

	mu           sync.Mutex
	data         model.AppData
	identity     string
	ready        bool
	revision     uint64
	listeners    map[int]func(Change)
	nextListener int
}

// New creates an uninitialized store. A missing Confirmer declines every
// destructive action.
func New(cfg Config) (*Store, error) {
	if cfg.Persister == nil {
		return nil, fmt.Errorf("persister is required")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	confirmer := cfg.Confirmer
	if confirmer == nil {
		confirmer = ConfirmFunc(func(context.Context, string) (bool, error) { return false, nil })
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NotifyFunc(func(Level, string) {})
	}
	return &Store{
		persister: cfg.Persister,
		confirmer: confirmer,
		notifier:  notifier,
		clock:     clk,
		logger:    logging.OrNop(cfg.Logger).Named("state"),
		listeners: make(map[int]func(Change)),
	}, nil
}

const unreadablePlanMessage = "Your saved plan could not be read, so a new one was started"

// Init resolves the aggregate for identity: it backs up the stored copy,
// loads it and hydrates from it, or seeds the built-in plan when nothing was
// stored. The store accepts mutations only after Init returns nil. Calling
// Init on a ready store switches identity.
func (s *Store) Init(identity string) error {
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		return s.SwitchIdentity(identity)
	}

	s.persister.CreateBackup(identity)

	var data model.AppData
	stored, found := s.persister.Load(identity)
	if found {
		var err error
		if data, err = hydrate(stored); err != nil {
			s.logger.Warn("stored plan unusable, seeding default", zap.String("identity", identity), zap.Error(err))
			found = false
		}
	}
	if !found && s.persister.Exists(identity) {
		s.notifier.Notify(LevelError, unreadablePlanMessage)
	}
	if !found {
		seeded, err := model.DefaultPlan(s.today())
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to seed default plan: %w", err)
		}
		data = seeded
		if !s.persister.Save(&data, identity) {
			s.notifier.Notify(LevelError, "Could not save your plan on this device")
		}
		s.logger.Info("seeded default plan", zap.String("identity", identity), zap.Int("tasks", len(data.Tasks)))
	} else {
		s.logger.Info("loaded plan", zap.String("identity", identity), zap.Int("tasks", len(data.Tasks)))
	}

	s.data = data
	s.identity = identity
	s.ready = true
	ch, listeners := s.commitLocked(OriginHydrate, "init")
	s.mu.Unlock()

	s.emit(ch, listeners)
	return nil
}

// SwitchIdentity re-hydrates the store from identity's slot, or resets it to
// an empty plan when that slot has never been written. The previous
// identity's in-memory state is discarded, never merged.
func (s *Store) SwitchIdentity(identity string) error {
	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return ErrNotReady
	}

	s.persister.CreateBackup(identity)
	data := model.NewAppData(s.today())
	recovered := false
	if stored, ok := s.persister.Load(identity); ok {
		hydrated, err := hydrate(stored)
		if err != nil {
			s.logger.Warn("stored plan unusable, starting empty", zap.String("identity", identity), zap.Error(err))
		} else {
			data, recovered = hydrated, true
		}
	}
	if !recovered && s.persister.Exists(identity) {
		s.notifier.Notify(LevelError, unreadablePlanMessage)
	}

	s.logger.Info("switched identity",
		zap.String("from", s.identity),
		zap.String("to", identity),
		zap.Int("tasks", len(data.Tasks)))
	s.data = data
	s.identity = identity
	ch, listeners := s.commitLocked(OriginHydrate, "switch_identity")
	s.mu.Unlock()

	s.emit(ch, listeners)
	return nil
}

// Close stops delivering changes and rejects further mutations.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = false
	clear(s.listeners)
	return nil
}

// Ready reports whether Init has completed.
func (s *Store) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Identity returns the identity the store is scoped to.
func (s *Store) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Snapshot returns a deep copy of the current aggregate.
func (s *Store) Snapshot() model.AppData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Clone()
}

// Today returns the current calendar date.
func (s *Store) Today() string {
	return s.today()
}

// TodayIndex returns the plan day that today falls on, clamped to the plan.
func (s *Store) TodayIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.DayIndexFor(s.data.StartDate, s.today(), s.data.TotalDays)
}

// Subscribe registers fn to receive every committed change and returns a
// function that removes it.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// mutate applies fn to a copy of the aggregate and commits it when fn
// succeeds. An error from fn leaves the store untouched.
func (s *Store) mutate(action, details string, fn func(d *model.AppData) error) error {
	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return ErrNotReady
	}

	work := s.data.Clone()
	if err := fn(&work); err != nil {
		s.mu.Unlock()
		return err
	}
	work.AppendAudit(model.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: s.clock.Now().UnixMilli(),
		Action:    action,
		Details:   details,
	})

	s.data = work
	saved := s.persister.Save(&s.data, s.identity)
	ch, listeners := s.commitLocked(OriginLocal, action)
	s.mu.Unlock()

	if !saved {
		s.notifier.Notify(LevelError, "Could not save your changes on this device")
	}
	s.logger.Debug("mutation committed", zap.String("action", action), zap.Uint64("revision", ch.Revision))
	s.emit(ch, listeners)
	return nil
}

// commitLocked bumps the revision and snapshots the listener list. The caller
// holds s.mu.
func (s *Store) commitLocked(origin Origin, action string) (Change, []func(Change)) {
	s.revision++
	ch := Change{
		Revision:    s.revision,
		Origin:      origin,
		Action:      action,
		Identity:    s.identity,
		LastUpdated: s.data.LastUpdated,
	}

	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	return ch, listeners
}

func (s *Store) emit(ch Change, listeners []func(Change)) {
	for _, fn := range listeners {
		fn(ch)
	}
}

// confirm asks the Confirmer and maps a decline to ErrNotConfirmed.
func (s *Store) confirm(ctx context.Context, prompt string) error {
	ok, err := s.confirmer.Confirm(ctx, prompt)
	if err != nil {
		return fmt.Errorf("failed to confirm: %w", err)
	}
	if !ok {
		return ErrNotConfirmed
	}
	return nil
}

// peek runs fn against the current aggregate under the lock.
func (s *Store) peek(fn func(d *model.AppData) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return ErrNotReady
	}
	return fn(&s.data)
}

func (s *Store) today() string {
	return model.FormatDate(s.clock.Now())
}
