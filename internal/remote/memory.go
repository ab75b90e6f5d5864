package remote

import (
	"context"
	"sync"

	"github.com/mschirtzinger/studysync/internal/model"
)

// MemoryStore keeps documents in process memory.
//
// Each subscriber holds at most one undelivered document; a newer write
// replaces it, since every document supersedes the previous one.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string][]byte
	subs map[string]map[int]chan []byte
	next int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string][]byte),
		subs: make(map[string]map[int]chan []byte),
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (model.AppData, error) {
	if id == "" {
		return model.AppData{}, ErrNoID
	}
	m.mu.Lock()
	raw, ok := m.docs[id]
	m.mu.Unlock()
	if !ok {
		return model.AppData{}, ErrNotFound
	}
	return decode(raw)
}

func (m *MemoryStore) Put(_ context.Context, id string, d model.AppData) error {
	if id == "" {
		return ErrNoID
	}
	raw, err := encode(d)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[id] = raw
	for _, ch := range m.subs[id] {
		offer(ch, raw)
	}
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, id string, fn func(model.AppData)) (<-chan error, error) {
	if id == "" {
		return nil, ErrNoID
	}

	ch := make(chan []byte, 1)
	m.mu.Lock()
	key := m.next
	m.next++
	if m.subs[id] == nil {
		m.subs[id] = make(map[int]chan []byte)
	}
	m.subs[id][key] = ch
	m.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.subs[id], key)
			m.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				finish(done, nil)
				return
			case raw := <-ch:
				d, err := decode(raw)
				if err != nil {
					continue
				}
				fn(d)
			}
		}
	}()
	return done, nil
}

// Subscribers returns the number of live subscriptions for id.
func (m *MemoryStore) Subscribers(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[id])
}

// offer delivers raw to ch, replacing an undelivered document.
func offer(ch chan []byte, raw []byte) {
	select {
	case ch <- raw:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- raw:
	default:
	}
}
