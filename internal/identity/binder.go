package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mschirtzinger/studysync/internal/kvdb"
	"github.com/mschirtzinger/studysync/internal/localstore"
	"github.com/mschirtzinger/studysync/internal/logging"
	"github.com/mschirtzinger/studysync/internal/model"
	"github.com/mschirtzinger/studysync/internal/remote"
)

// SessionKey is the local KV key holding the current session.
const SessionKey = "session"

// KV persists the session.
type KV interface {
	GetContext(ctx context.Context, key string) ([]byte, error)
	PutContext(ctx context.Context, key string, value []byte) error
	DeleteContext(ctx context.Context, keys ...string) error
}

// StateStore is the part of *state.Store the binder drives.
type StateStore interface {
	SwitchIdentity(identity string) error
	Today() string
}

// Syncer is the part of *cloudsync.Coordinator the binder drives.
type Syncer interface {
	Bind(ctx context.Context, identity string, rs remote.Store) error
	Flush(ctx context.Context) error
	Unbind()
}

// RemoteFactory opens the remote store for a session.
type RemoteFactory func(s Session) (remote.Store, error)

// Config holds binder dependencies. Sync and Remote are optional; without
// them the binder only switches identities.
type Config struct {
	Provider Provider
	KV       KV
	State    StateStore
	Sync     Syncer
	Remote   RemoteFactory
	Logger   *zap.Logger
}

// Binder tracks the current session.
type Binder struct {
	provider Provider
	kv       KV
	state    StateStore
	sync     Syncer
	remote   RemoteFactory
	logger   *zap.Logger

	mu      sync.Mutex
	session Session
	loaded  bool
}

// New creates a binder.
func New(cfg Config) (*Binder, error) {
	if cfg.Provider == nil || cfg.KV == nil || cfg.State == nil {
		return nil, fmt.Errorf("provider, kv and state are required")
	}
	return &Binder{
		provider: cfg.Provider,
		kv:       cfg.KV,
		state:    cfg.State,
		sync:     cfg.Sync,
		remote:   cfg.Remote,
		logger:   logging.OrNop(cfg.Logger).Named("identity"),
	}, nil
}

// Current returns the stored session, or a zero Session when nobody is
// logged in.
func (b *Binder) Current(ctx context.Context) (Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loaded {
		return b.session, nil
	}

	raw, err := b.kv.GetContext(ctx, SessionKey)
	switch {
	case errors.Is(err, kvdb.ErrNotFound):
		b.session = Session{}
	case err != nil:
		return Session{}, fmt.Errorf("failed to read session: %w", err)
	default:
		var s Session
		if err := json.Unmarshal(raw, &s); err != nil {
			b.logger.Warn("discarding unreadable session", zap.Error(err))
			s = Session{}
		}
		b.session = s
	}
	b.loaded = true
	return b.session, nil
}

// Identity returns the identity that scopes local storage: the logged-in
// user id or the shared local slot.
func (b *Binder) Identity(ctx context.Context) string {
	s, err := b.Current(ctx)
	if err != nil || s.UserID == "" {
		return localstore.LocalIdentity
	}
	return s.UserID
}

// Resume binds sync for a session restored from disk. The state store must
// already be initialized for Identity.
func (b *Binder) Resume(ctx context.Context) error {
	s, err := b.Current(ctx)
	if err != nil {
		return err
	}
	if s.UserID == "" {
		return nil
	}
	return b.bind(ctx, s)
}

// Register creates an account and logs into it. The new identity's remote
// document starts from an empty plan; local data is not carried over.
func (b *Binder) Register(ctx context.Context, email, password string) (Session, error) {
	s, err := b.provider.Register(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	b.logger.Info("registered", zap.String("userId", s.UserID))

	if rs := b.openRemote(s); rs != nil {
		seed := model.NewAppData(b.state.Today())
		if err := rs.Put(ctx, s.UserID, seed); err != nil {
			b.logger.Warn("failed to seed remote document", zap.String("userId", s.UserID), zap.Error(err))
		}
	}
	return s, b.activate(ctx, s)
}

// Login authenticates and switches to the user's identity.
func (b *Binder) Login(ctx context.Context, email, password string) (Session, error) {
	s, err := b.provider.Login(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	b.logger.Info("logged in", zap.String("userId", s.UserID))
	return s, b.activate(ctx, s)
}

// Logout uploads pending changes, stops sync and returns to the local slot.
func (b *Binder) Logout(ctx context.Context) error {
	s, err := b.Current(ctx)
	if err != nil {
		return err
	}
	if s.UserID == "" {
		return nil
	}

	if b.sync != nil {
		if err := b.sync.Flush(ctx); err != nil {
			b.logger.Warn("failed to flush before logout", zap.Error(err))
		}
		b.sync.Unbind()
	}
	if err := b.provider.Logout(ctx, s); err != nil {
		b.logger.Warn("provider logout failed", zap.Error(err))
	}
	if err := b.kv.DeleteContext(ctx, SessionKey); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	b.mu.Lock()
	b.session = Session{}
	b.loaded = true
	b.mu.Unlock()

	b.logger.Info("logged out", zap.String("userId", s.UserID))
	if err := b.state.SwitchIdentity(localstore.LocalIdentity); err != nil {
		return fmt.Errorf("failed to switch to local identity: %w", err)
	}
	return nil
}

func (b *Binder) activate(ctx context.Context, s Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := b.kv.PutContext(ctx, SessionKey, raw); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	b.mu.Lock()
	b.session = s
	b.loaded = true
	b.mu.Unlock()

	if b.sync != nil {
		b.sync.Unbind()
	}
	if err := b.state.SwitchIdentity(s.UserID); err != nil {
		return fmt.Errorf("failed to switch identity: %w", err)
	}
	return b.bind(ctx, s)
}

// bind starts sync for s. Sync failures are reported by the coordinator and
// do not fail the login.
func (b *Binder) bind(ctx context.Context, s Session) error {
	if b.sync == nil {
		return nil
	}
	rs := b.openRemote(s)
	if rs == nil {
		return nil
	}
	if err := b.sync.Bind(ctx, s.UserID, rs); err != nil {
		b.logger.Warn("sync unavailable", zap.String("userId", s.UserID), zap.Error(err))
	}
	return nil
}

func (b *Binder) openRemote(s Session) remote.Store {
	if b.remote == nil {
		return nil
	}
	rs, err := b.remote(s)
	if err != nil {
		b.logger.Warn("failed to open remote store", zap.Error(err))
		return nil
	}
	return rs
}
