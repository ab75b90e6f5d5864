package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mschirtzinger/studysync/internal/config"
	"github.com/mschirtzinger/studysync/internal/kvdb"
	"github.com/mschirtzinger/studysync/internal/remote"
)

func TestResolveID(t *testing.T) {
	ids := []string{"plan-d01-1", "plan-d01-2", "3f2a9c10-0000-4000-8000-000000000000"}
	tests := []struct {
		arg     string
		want    string
		wantErr string
	}{
		{arg: "plan-d01-2", want: "plan-d01-2"},
		{arg: "3f2a", want: "3f2a9c10-0000-4000-8000-000000000000"},
		{arg: "plan-d01", wantErr: "matches 2 tasks"},
		{arg: "zzz", wantErr: "no task matches"},
	}
	for _, tt := range tests {
		got, err := resolveID("task", ids, tt.arg)
		if tt.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("resolveID(%q) error = %v, want %q", tt.arg, err, tt.wantErr)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("resolveID(%q) = %q, %v; want %q", tt.arg, got, err, tt.want)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("3f2a9c10-0000-4000-8000-000000000000"); got != "3f2a9c10" {
		t.Errorf("shortID(uuid) = %q", got)
	}
	if got := shortID("plan-d03-2"); got != "plan-d03-2" {
		t.Errorf("shortID(plan id) = %q", got)
	}
}

func TestTokenSecretPersists(t *testing.T) {
	ctx := context.Background()
	db, err := kvdb.Open(filepath.Join(t.TempDir(), "accounts.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()
	if err := db.InitSchemaContext(ctx); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	first, err := tokenSecret(ctx, db, "")
	if err != nil {
		t.Fatalf("tokenSecret() failed: %v", err)
	}
	if len(first) != 64 {
		t.Errorf("generated secret length = %d, want 64", len(first))
	}
	second, err := tokenSecret(ctx, db, "")
	if err != nil {
		t.Fatalf("tokenSecret() failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("secret changed between runs")
	}

	configured, err := tokenSecret(ctx, db, "from-config")
	if err != nil || string(configured) != "from-config" {
		t.Errorf("configured secret = %q, %v", configured, err)
	}
}

func TestOpenBackend(t *testing.T) {
	store, closeStore, err := openBackend(context.Background(), config.ServerConfig{Backend: config.BackendMemory})
	if err != nil {
		t.Fatalf("openBackend(memory) failed: %v", err)
	}
	defer closeStore()
	if _, ok := store.(*remote.MemoryStore); !ok {
		t.Errorf("store = %T, want *remote.MemoryStore", store)
	}

	if _, _, err := openBackend(context.Background(), config.ServerConfig{Backend: "sqlite"}); err == nil {
		t.Error("expected an error for an unknown backend")
	}
}
