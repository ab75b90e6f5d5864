// Package remote holds the one-document-per-identity stores the sync
// coordinator talks to.
//
// A Store keeps the whole study-plan aggregate for an identity as a single
// document. Writers replace the document; subscribers receive the whole
// document each time it changes.
//
// Implementations:
//
//	MemoryStore  in-process, used by tests and the default server backend
//	RedisStore   SET plus PUBLISH on a per-document channel
//	MongoStore   upsert into a collection, change streams for updates
//	Client       HTTP and websocket client of the document server
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mschirtzinger/studysync/internal/model"
)

var (
	ErrNotFound = errors.New("remote document not found")
	ErrNoID     = errors.New("document id is required")
)

// Store is a remote key-value document store addressed by identity.
type Store interface {
	// Get returns the document for id, or ErrNotFound.
	Get(ctx context.Context, id string) (model.AppData, error)

	// Put replaces the document for id.
	Put(ctx context.Context, id string, d model.AppData) error

	// Subscribe starts delivering the document for id to fn each time it
	// changes. Delivery runs on its own goroutine until ctx is cancelled or
	// the subscription fails. The returned channel yields the terminal error
	// (nil after cancellation) and is then closed.
	Subscribe(ctx context.Context, id string, fn func(model.AppData)) (<-chan error, error)
}

func encode(d model.AppData) ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return raw, nil
}

func decode(raw []byte) (model.AppData, error) {
	var d model.AppData
	if err := json.Unmarshal(raw, &d); err != nil {
		return model.AppData{}, fmt.Errorf("failed to decode document: %w", err)
	}
	return d, nil
}

// finish reports err on done and closes it.
func finish(done chan<- error, err error) {
	done <- err
	close(done)
}
