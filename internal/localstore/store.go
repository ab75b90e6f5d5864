// Package localstore persists the study-plan aggregate on the device.
//
// # Overview
//
// Each identity owns one primary slot and one backup slot in the key-value
// database. A process-wide "last known good" slot holds the most recent
// backup of any identity.
//
//	studyPlan_data                  anonymous / local identity
//	studyPlan_data_backup
//	studyPlan_<id>_data             authenticated identity <id>
//	studyPlan_<id>_data_backup
//	studyPlan_lastKnownGood         global emergency backup
//
// # Failure semantics
//
// Save, CreateBackup and Load never return errors. Failures are logged and
// reported as false / "no data". A corrupt primary slot is recovered from the
// identity backup, then from the global backup. A slot that was never written
// yields no data, which callers treat as a first run.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/mschirtzinger/studysync/internal/kvdb"
	"github.com/mschirtzinger/studysync/internal/logging"
	"github.com/mschirtzinger/studysync/internal/model"
)

// KV is the subset of kvdb.DB the adapter needs.
type KV interface {
	GetContext(ctx context.Context, key string) ([]byte, error)
	PutContext(ctx context.Context, key string, value []byte) error
	DeleteContext(ctx context.Context, keys ...string) error
}

// Config holds adapter dependencies.
type Config struct {
	Clock  clock.Clock
	Logger *zap.Logger
}

// Adapter reads and writes aggregates scoped by identity.
type Adapter struct {
	kv     KV
	clock  clock.Clock
	logger *zap.Logger
}

// New creates an adapter over kv. A nil config uses the wall clock and a
// no-op logger.
func New(kv KV, cfg *Config) *Adapter {
	if cfg == nil {
		cfg = &Config{}
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Adapter{
		kv:     kv,
		clock:  clk,
		logger: logging.OrNop(cfg.Logger).Named("localstore"),
	}
}

// Save stamps d with the current schema version and a fresh LastUpdated,
// then writes it to identity's primary slot. LastUpdated is strictly greater
// than the value d carried before the call.
func (a *Adapter) Save(d *model.AppData, identity string) bool {
	if d == nil {
		return false
	}

	d.SchemaVersion = CurrentSchemaVersion
	d.LastUpdated = max(a.clock.Now().UnixMilli(), d.LastUpdated+1)
	return a.write(d, identity)
}

// Put writes d to identity's primary slot keeping its LastUpdated stamp. It is
// used for documents adopted from the remote store, whose stamp is the sync
// baseline.
func (a *Adapter) Put(d model.AppData, identity string) bool {
	if d.SchemaVersion < CurrentSchemaVersion {
		d.SchemaVersion = CurrentSchemaVersion
	}
	return a.write(&d, identity)
}

func (a *Adapter) write(d *model.AppData, identity string) bool {
	raw, err := json.Marshal(d)
	if err != nil {
		a.logger.Error("failed to encode aggregate", zap.String("identity", identity), zap.Error(err))
		return false
	}

	key := StorageKey(identity)
	if err := a.kv.PutContext(context.Background(), key, raw); err != nil {
		a.logger.Error("failed to save aggregate", zap.String("key", key), zap.Error(err))
		return false
	}

	a.logger.Debug("saved aggregate",
		zap.String("key", key),
		zap.Int("tasks", len(d.Tasks)),
		zap.Int64("lastUpdated", d.LastUpdated))
	return true
}

// CreateBackup copies identity's primary blob into its backup slot and the
// global backup slot. It is a no-op (returning true) when nothing is stored.
func (a *Adapter) CreateBackup(identity string) bool {
	ctx := context.Background()
	key := StorageKey(identity)

	raw, err := a.kv.GetContext(ctx, key)
	if errors.Is(err, kvdb.ErrNotFound) {
		return true
	}
	if err != nil {
		a.logger.Warn("failed to read aggregate for backup", zap.String("key", key), zap.Error(err))
		return false
	}

	// Only a record Load could use is worth keeping as a backup. Anything
	// else would overwrite the last good copy.
	if _, err := decode(raw); err != nil {
		a.logger.Warn("skipping backup of unusable aggregate", zap.String("key", key), zap.Error(err))
		return false
	}

	for _, dst := range []string{BackupKey(identity), GlobalBackupKey} {
		if err := a.kv.PutContext(ctx, dst, raw); err != nil {
			a.logger.Warn("failed to write backup", zap.String("key", dst), zap.Error(err))
			return false
		}
	}

	a.logger.Debug("backup created", zap.String("key", key))
	return true
}

// Load reads identity's aggregate. ok is false when the slot has never been
// written, or when it is corrupt and no backup could be parsed. A record that
// parses but has no valid startDate counts as corrupt.
func (a *Adapter) Load(identity string) (d model.AppData, ok bool) {
	ctx := context.Background()
	key := StorageKey(identity)

	raw, err := a.kv.GetContext(ctx, key)
	if errors.Is(err, kvdb.ErrNotFound) {
		return model.AppData{}, false
	}
	if err == nil {
		if d, err = decode(raw); err == nil {
			return a.finish(d, key)
		}
	}
	a.logger.Warn("primary slot unreadable, trying backups", zap.String("key", key), zap.Error(err))

	for _, fallback := range []string{BackupKey(identity), GlobalBackupKey} {
		raw, err := a.kv.GetContext(ctx, fallback)
		if err != nil {
			continue
		}
		d, err := decode(raw)
		if err != nil {
			a.logger.Warn("backup slot unreadable", zap.String("key", fallback), zap.Error(err))
			continue
		}
		a.logger.Info("recovered aggregate from backup", zap.String("key", key), zap.String("backup", fallback))
		return a.finish(d, fallback)
	}

	a.logger.Error("no readable data or backup", zap.String("key", key))
	return model.AppData{}, false
}

// Exists reports whether identity's primary slot holds anything, usable or
// not.
func (a *Adapter) Exists(identity string) bool {
	_, err := a.kv.GetContext(context.Background(), StorageKey(identity))
	return !errors.Is(err, kvdb.ErrNotFound)
}

// ClearAll removes identity's primary and backup slots. An empty identity
// clears the shared default slot.
func (a *Adapter) ClearAll(identity string) bool {
	if err := a.kv.DeleteContext(context.Background(), StorageKey(identity), BackupKey(identity)); err != nil {
		a.logger.Error("failed to clear storage", zap.String("identity", identity), zap.Error(err))
		return false
	}
	return true
}

func (a *Adapter) finish(d model.AppData, from string) (model.AppData, bool) {
	if err := Migrate(&d); err != nil {
		a.logger.Error("failed to migrate aggregate", zap.String("key", from), zap.Error(err))
		return model.AppData{}, false
	}
	return d, true
}

// decode parses a stored blob and rejects records that cannot anchor a
// plan.
func decode(raw []byte) (model.AppData, error) {
	var d model.AppData
	if err := json.Unmarshal(raw, &d); err != nil {
		return model.AppData{}, err
	}
	if d.StartDate == "" {
		return model.AppData{}, errors.New("startDate is missing")
	}
	if _, err := model.ParseDate(d.StartDate); err != nil {
		return model.AppData{}, fmt.Errorf("invalid startDate: %w", err)
	}
	return d, nil
}
