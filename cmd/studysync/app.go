package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mschirtzinger/studysync/internal/cloudsync"
	"github.com/mschirtzinger/studysync/internal/identity"
	"github.com/mschirtzinger/studysync/internal/kvdb"
	"github.com/mschirtzinger/studysync/internal/localstore"
	"github.com/mschirtzinger/studysync/internal/remote"
	"github.com/mschirtzinger/studysync/internal/state"
	"github.com/mschirtzinger/studysync/internal/ui"
)

// app is the wired client side for one command invocation.
type app struct {
	db     *kvdb.DB
	store  *state.Store
	sync   *cloudsync.Coordinator // nil when sync is disabled
	binder *identity.Binder
}

// openApp opens the local database, initializes the plan for the current
// identity and, for a logged-in user, binds sync.
func openApp(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()

	db, err := kvdb.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	if err := db.InitSchemaContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	notifier := &ui.Notifier{Out: os.Stderr}
	st, err := state.New(state.Config{
		Persister: localstore.New(db, &localstore.Config{Logger: logger}),
		Confirmer: &ui.Confirmer{AssumeYes: assumeYes},
		Notifier:  notifier,
		Logger:    logger,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &app{db: db, store: st}
	var syncer identity.Syncer
	var factory identity.RemoteFactory
	if cfg.Sync.Enabled {
		a.sync = cloudsync.New(st, &cloudsync.Config{
			DebounceInterval: cfg.Sync.Debounce,
			IgnoreWindow:     cfg.Sync.IgnoreWindow,
			RequestTimeout:   cfg.Sync.RequestTimeout,
			Notifier:         notifier,
			Logger:           logger,
		})
		syncer = a.sync
		factory = func(s identity.Session) (remote.Store, error) {
			return remote.NewClient(remote.ClientConfig{
				BaseURL: cfg.Sync.ServerURL,
				Token:   s.Token,
				Timeout: cfg.Sync.RequestTimeout,
				Logger:  logger,
			})
		}
	}

	provider, err := identity.NewHTTPProvider(identity.HTTPConfig{
		BaseURL: cfg.Sync.ServerURL,
		Timeout: cfg.Sync.RequestTimeout,
		Logger:  logger,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	a.binder, err = identity.New(identity.Config{
		Provider: provider,
		KV:       db,
		State:    st,
		Sync:     syncer,
		Remote:   factory,
		Logger:   logger,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := st.Init(a.binder.Identity(ctx)); err != nil {
		db.Close()
		return nil, err
	}
	if err := a.binder.Resume(ctx); err != nil {
		logger.Warn("failed to resume session", zap.Error(err))
	}
	return a, nil
}

// Close uploads pending changes and releases everything.
func (a *app) Close() {
	if a.sync != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Sync.RequestTimeout)
		_ = a.sync.Flush(ctx)
		cancel()
		_ = a.sync.Close()
	}
	_ = a.store.Close()
	_ = a.db.Close()
}

// withApp runs fn with an opened app.
func withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, args, a)
	}
}

// resolveID matches arg against ids, accepting a unique prefix.
func resolveID(kind string, ids []string, arg string) (string, error) {
	if slices.Contains(ids, arg) {
		return arg, nil
	}
	var matches []string
	for _, id := range ids {
		if strings.HasPrefix(id, arg) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no %s matches %q", kind, arg)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q matches %d %ss, use more characters", arg, len(matches), kind)
	}
}

// parseDateFlag resolves a --date style value against the local clock.
func parseDateFlag(value string) (string, error) {
	return ui.ParseDate(value, time.Now())
}

// shortID trims uuid-based ids to their first eight hex digits.
func shortID(id string) string {
	if len(id) >= 36 {
		return id[:len(id)-28]
	}
	return id
}
