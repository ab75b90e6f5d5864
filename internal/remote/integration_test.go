package remote

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mschirtzinger/studysync/internal/model"
)

// exerciseStore runs the Store contract against s.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id := "test-" + uuid.NewString()

	if _, err := s.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}

	received := make(chan model.AppData, 4)
	if _, err := s.Subscribe(ctx, id, func(d model.AppData) { received <- d }); err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	doc := model.NewAppData("2026-03-01")
	doc.LastUpdated = 77
	if err := s.Put(ctx, id, doc); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil || got.LastUpdated != 77 {
		t.Fatalf("Get() = %d, %v", got.LastUpdated, err)
	}

	select {
	case d := <-received:
		if d.LastUpdated != 77 {
			t.Errorf("pushed LastUpdated = %d, want 77", d.LastUpdated)
		}
	case <-ctx.Done():
		t.Fatal("no document pushed")
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("STUDYSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("STUDYSYNC_TEST_REDIS_ADDR not set")
	}
	s, err := NewRedisStore(context.Background(), RedisConfig{Addr: addr, Prefix: "studysync-test"})
	if err != nil {
		t.Fatalf("NewRedisStore() failed: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("STUDYSYNC_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("STUDYSYNC_TEST_MONGO_URI not set")
	}
	s, err := NewMongoStore(context.Background(), MongoConfig{URI: uri, Database: "studysync_test"})
	if err != nil {
		t.Fatalf("NewMongoStore() failed: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestMemoryStore_Contract(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}
