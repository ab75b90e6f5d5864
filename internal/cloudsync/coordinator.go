package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/mschirtzinger/studysync/internal/localstore"
	"github.com/mschirtzinger/studysync/internal/logging"
	"github.com/mschirtzinger/studysync/internal/model"
	"github.com/mschirtzinger/studysync/internal/remote"
	"github.com/mschirtzinger/studysync/internal/state"
)

// ErrNotBound is returned by Push when no identity is bound.
var ErrNotBound = errors.New("sync is not bound to an account")

// Status is the sync connection state shown to the user.
type Status string

const (
	StatusOffline      Status = "offline"
	StatusConnected    Status = "connected"
	StatusSyncing      Status = "syncing"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// StateStore is the part of *state.Store the coordinator uses.
type StateStore interface {
	Snapshot() model.AppData
	ApplyRemote(d model.AppData) (bool, error)
	Subscribe(fn func(state.Change)) (unsubscribe func())
}

// Config holds coordinator settings.
type Config struct {
	// DebounceInterval is the quiet period after the last local change
	// before uploading.
	DebounceInterval time.Duration

	// IgnoreWindow holds debounced uploads after a remote document is
	// adopted.
	IgnoreWindow time.Duration

	// ReconnectDelay is the wait before reopening a failed stream.
	ReconnectDelay time.Duration

	// RequestTimeout bounds each remote read or write.
	RequestTimeout time.Duration

	Clock    clock.Clock
	Notifier state.Notifier
	Logger   *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 5 * time.Second,
		IgnoreWindow:     2 * time.Second,
		ReconnectDelay:   10 * time.Second,
		RequestTimeout:   15 * time.Second,
	}
}

// Coordinator synchronizes one identity at a time.
type Coordinator struct {
	state    StateStore
	config   Config
	clock    clock.Clock
	notifier state.Notifier
	logger   *zap.Logger

	// uploadMu serializes uploads so stamps reach the remote in order.
	uploadMu sync.Mutex

	mu          sync.Mutex
	gen         uint64 // bumped on every Bind/Unbind; stale callbacks compare it
	identity    string
	remote      remote.Store
	bound       bool
	baseline    int64
	inflight    int64
	pending     bool
	localSeq    uint64 // counts local changes seen by OnChange
	timer       *clock.Timer
	reconnect   *clock.Timer
	ignoreUntil time.Time
	status      Status
	lastErr     error
	cancelSub   context.CancelFunc
	unsubscribe func()
}

// New creates an unbound coordinator for st.
func New(st StateStore, config *Config) *Coordinator {
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	cfg := *config
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = def.DebounceInterval
	}
	if cfg.IgnoreWindow < 0 {
		cfg.IgnoreWindow = 0
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = state.NotifyFunc(func(state.Level, string) {})
	}

	return &Coordinator{
		state:    st,
		config:   cfg,
		clock:    clk,
		notifier: notifier,
		logger:   logging.OrNop(cfg.Logger).Named("sync"),
		status:   StatusOffline,
	}
}

// Bind starts synchronizing identity against rs, replacing any previous
// binding. Anonymous identities are never bound. When the remote document
// does not exist yet the current local aggregate is uploaded as its seed.
//
// A returned error is informational: the binding stays in place, Status
// reports the failure and a reconnect is scheduled.
func (c *Coordinator) Bind(ctx context.Context, identity string, rs remote.Store) error {
	c.Unbind()
	if localstore.IsAnonymous(identity) || rs == nil {
		return nil
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.identity = identity
	c.remote = rs
	c.bound = true
	c.baseline = 0
	c.inflight = 0
	c.pending = false
	c.ignoreUntil = time.Time{}
	c.mu.Unlock()

	unsubscribe := c.state.Subscribe(c.OnChange)
	c.mu.Lock()
	if c.gen == gen {
		c.unsubscribe = unsubscribe
	} else {
		unsubscribe()
	}
	c.mu.Unlock()

	c.logger.Info("binding", zap.String("identity", identity))
	return c.connect(ctx, gen)
}

// Unbind stops synchronizing. Pending local changes are not uploaded; call
// Flush first to keep them.
func (c *Coordinator) Unbind() {
	c.mu.Lock()
	if !c.bound {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.bound = false
	c.pending = false
	c.stopTimersLocked()
	cancelSub, unsubscribe := c.cancelSub, c.unsubscribe
	c.cancelSub, c.unsubscribe = nil, nil
	identity := c.identity
	c.identity = ""
	c.remote = nil
	notify := c.setStatusLocked(StatusOffline, nil)
	c.mu.Unlock()

	if cancelSub != nil {
		cancelSub()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	notify()
	c.logger.Info("unbound", zap.String("identity", identity))
}

// Close unbinds the coordinator.
func (c *Coordinator) Close() error {
	c.Unbind()
	return nil
}

// Status returns the connection state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastError returns the error behind the current error or disconnected
// status.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Identity returns the bound identity, or "" when unbound.
func (c *Coordinator) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Pending reports whether a local change is waiting to be uploaded.
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// OnChange receives state changes. Only local mutations of the bound
// identity schedule an upload.
func (c *Coordinator) OnChange(ch state.Change) {
	if ch.Origin != state.OriginLocal {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.bound || ch.Identity != c.identity {
		return
	}
	c.pending = true
	c.localSeq++
	c.armLocked(c.config.DebounceInterval)
}

// Flush uploads a pending change immediately.
func (c *Coordinator) Flush(ctx context.Context) error {
	return c.flush(ctx, false)
}

// Push uploads the current aggregate even when nothing is pending.
func (c *Coordinator) Push(ctx context.Context) error {
	c.mu.Lock()
	bound := c.bound
	c.mu.Unlock()
	if !bound {
		return ErrNotBound
	}
	return c.flush(ctx, true)
}

func (c *Coordinator) flush(ctx context.Context, force bool) error {
	c.mu.Lock()
	if !c.bound || (!c.pending && !force) {
		c.mu.Unlock()
		return nil
	}
	gen := c.gen
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	return c.upload(ctx, gen, force)
}

// armLocked (re)starts the debounce timer. The caller holds c.mu.
func (c *Coordinator) armLocked(d time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	}
	gen := c.gen
	c.timer = c.clock.AfterFunc(d, func() { c.fire(gen) })
}

func (c *Coordinator) stopTimersLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

// fire runs when the debounce timer expires.
func (c *Coordinator) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.bound || !c.pending {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	if now := c.clock.Now(); now.Before(c.ignoreUntil) {
		wait := c.ignoreUntil.Sub(now)
		c.logger.Debug("upload held after remote apply", zap.Duration("wait", wait))
		c.armLocked(wait)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.config.RequestTimeout)
	defer cancel()
	_ = c.upload(ctx, gen, false)
}

// upload writes the current aggregate with a fresh stamp. Unless force is
// set it does nothing when no change is pending, so callers that raced
// past their own pending check upload once between them.
func (c *Coordinator) upload(ctx context.Context, gen uint64, force bool) error {
	c.uploadMu.Lock()
	defer c.uploadMu.Unlock()

	// pending is cleared before the snapshot is taken: a change committed
	// after this point re-arms it and is sent by a later upload.
	c.mu.Lock()
	if gen != c.gen || !c.bound || (!c.pending && !force) {
		c.mu.Unlock()
		return nil
	}
	c.pending = false
	c.mu.Unlock()

	snap := c.state.Snapshot()

	c.mu.Lock()
	if gen != c.gen || !c.bound {
		c.mu.Unlock()
		return nil
	}
	rs, identity := c.remote, c.identity
	stamp := max(c.clock.Now().UnixMilli(), c.baseline+1, snap.LastUpdated)
	c.inflight = stamp
	notify := c.setStatusLocked(StatusSyncing, nil)
	c.mu.Unlock()
	notify()

	snap.LastUpdated = stamp
	err := rs.Put(ctx, identity, snap)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return nil
	}
	c.inflight = 0
	if err != nil {
		c.pending = true
		notify = c.setStatusLocked(StatusError, err)
		c.mu.Unlock()
		notify()
		c.logger.Warn("upload failed", zap.String("identity", identity), zap.Error(err))
		return fmt.Errorf("failed to upload: %w", err)
	}
	c.baseline = max(c.baseline, stamp)
	notify = c.setStatusLocked(StatusConnected, nil)
	c.mu.Unlock()
	notify()

	c.logger.Debug("uploaded", zap.String("identity", identity), zap.Int64("lastUpdated", stamp))
	return nil
}

// onRemote handles a document pushed by the remote store or fetched on
// connect.
func (c *Coordinator) onRemote(gen uint64, doc model.AppData) {
	c.mu.Lock()
	if gen != c.gen || !c.bound {
		c.mu.Unlock()
		return
	}
	if doc.LastUpdated <= max(c.baseline, c.inflight) {
		c.mu.Unlock()
		c.logger.Debug("ignoring remote echo", zap.Int64("lastUpdated", doc.LastUpdated))
		return
	}
	c.ignoreUntil = c.clock.Now().Add(c.config.IgnoreWindow)
	seq := c.localSeq
	c.mu.Unlock()

	applied, err := c.state.ApplyRemote(doc)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	if err != nil {
		c.logger.Warn("failed to apply remote document", zap.Error(err))
		return
	}
	c.baseline = max(c.baseline, doc.LastUpdated)
	if !applied {
		return
	}
	c.logger.Info("adopted remote document", zap.Int64("lastUpdated", doc.LastUpdated))
	if c.localSeq != seq {
		// A local edit landed while the document was being applied.
		c.logger.Debug("keeping local change made during remote apply")
		return
	}
	// The adopted document replaces any unsent local edits.
	c.pending = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// connect opens the remote stream and reconciles with the current remote
// document.
func (c *Coordinator) connect(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	if gen != c.gen || !c.bound {
		c.mu.Unlock()
		return nil
	}
	rs, identity := c.remote, c.identity
	notify := c.setStatusLocked(StatusSyncing, nil)
	c.mu.Unlock()
	notify()

	subCtx, cancelSub := context.WithCancel(context.Background())
	done, err := rs.Subscribe(subCtx, identity, func(d model.AppData) { c.onRemote(gen, d) })
	if err != nil {
		cancelSub()
		c.fail(gen, StatusDisconnected, err)
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		cancelSub()
		return nil
	}
	c.cancelSub = cancelSub
	c.mu.Unlock()
	go c.watchStream(gen, done)

	reqCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	doc, err := rs.Get(reqCtx, identity)
	switch {
	case errors.Is(err, remote.ErrNotFound):
		c.logger.Info("seeding remote document", zap.String("identity", identity))
		return c.upload(reqCtx, gen, true)
	case err != nil:
		c.fail(gen, StatusError, err)
		return fmt.Errorf("failed to fetch remote document: %w", err)
	}

	c.onRemote(gen, doc)
	if local := c.state.Snapshot(); local.LastUpdated > doc.LastUpdated {
		return c.upload(reqCtx, gen, true)
	}

	c.mu.Lock()
	if gen == c.gen {
		notify = c.setStatusLocked(StatusConnected, nil)
	}
	c.mu.Unlock()
	notify()
	return nil
}

// watchStream waits for the subscription to end and reconnects after a
// failure.
func (c *Coordinator) watchStream(gen uint64, done <-chan error) {
	err, ok := <-done
	if !ok || err == nil {
		return
	}
	c.fail(gen, StatusDisconnected, err)
}

// fail records a connection failure and schedules a reconnect.
func (c *Coordinator) fail(gen uint64, st Status, err error) {
	c.mu.Lock()
	if gen != c.gen || !c.bound {
		c.mu.Unlock()
		return
	}
	if c.cancelSub != nil {
		c.cancelSub()
		c.cancelSub = nil
	}
	if c.reconnect != nil {
		c.reconnect.Stop()
	}
	c.reconnect = c.clock.AfterFunc(c.config.ReconnectDelay, func() {
		_ = c.connect(context.Background(), gen)
	})
	notify := c.setStatusLocked(st, err)
	c.mu.Unlock()

	notify()
	c.logger.Warn("sync connection failed", zap.String("status", string(st)), zap.Error(err))
}

// setStatusLocked updates the status and returns the notification to send
// once c.mu is released.
func (c *Coordinator) setStatusLocked(st Status, err error) func() {
	prev := c.status
	c.status = st
	c.lastErr = err
	if prev == st && err == nil {
		return func() {}
	}

	var level state.Level
	var msg string
	switch st {
	case StatusError:
		level, msg = state.LevelError, fmt.Sprintf("Sync failed: %v", err)
	case StatusDisconnected:
		level, msg = state.LevelWarning, "Sync disconnected, changes are kept on this device"
	case StatusConnected:
		switch prev {
		case StatusError, StatusDisconnected:
			level, msg = state.LevelSuccess, "Sync restored"
		case StatusOffline:
			level, msg = state.LevelInfo, "Sync connected"
		}
	}
	if msg == "" {
		return func() {}
	}
	notifier := c.notifier
	return func() { notifier.Notify(level, msg) }
}
