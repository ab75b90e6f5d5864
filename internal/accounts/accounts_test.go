package accounts

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/crypto/bcrypt"

	"github.com/mschirtzinger/studysync/internal/kvdb"
)

func setupService(t *testing.T) (*Service, *clock.Mock) {
	t.Helper()
	db, err := kvdb.Open(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s, err := New(db, Config{
		Secret:     []byte("test-secret"),
		TokenTTL:   time.Hour,
		BcryptCost: bcrypt.MinCost,
		Clock:      clk,
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return s, clk
}

func TestNew_RequiresSecret(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Error("New() without secret succeeded")
	}
}

func TestRegisterAuthenticate(t *testing.T) {
	s, _ := setupService(t)
	ctx := context.Background()

	acct, err := s.Register(ctx, "  Ada@Example.com ", "secret1")
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if acct.ID == "" || acct.Email != "ada@example.com" {
		t.Errorf("account = %+v", acct)
	}
	if acct.PasswordHash == "secret1" {
		t.Error("password stored in clear")
	}

	got, err := s.Authenticate(ctx, "ada@example.com", "secret1")
	if err != nil {
		t.Fatalf("Authenticate() failed: %v", err)
	}
	if got.ID != acct.ID {
		t.Errorf("Authenticate() id = %s, want %s", got.ID, acct.ID)
	}

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "ada@example.com", "nope123"},
		{"unknown email", "bob@example.com", "secret1"},
		{"malformed email", "not-an-email", "secret1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Authenticate(ctx, tt.email, tt.password); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("Authenticate() error = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestRegister_Validation(t *testing.T) {
	s, _ := setupService(t)
	ctx := context.Background()

	if _, err := s.Register(ctx, "ada@example.com", "secret1"); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"duplicate", "ADA@example.com", "another1", ErrEmailTaken},
		{"bad email", "ada", "secret1", ErrInvalidEmail},
		{"display name", "Ada <ada2@example.com>", "secret1", ErrInvalidEmail},
		{"short password", "bob@example.com", "123", ErrWeakPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Register(ctx, tt.email, tt.password); !errors.Is(err, tt.want) {
				t.Errorf("Register() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTokens(t *testing.T) {
	s, clk := setupService(t)
	acct, _ := s.Register(context.Background(), "ada@example.com", "secret1")

	token, err := s.IssueToken(acct)
	if err != nil {
		t.Fatalf("IssueToken() failed: %v", err)
	}

	uid, err := s.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken() failed: %v", err)
	}
	if uid != acct.ID {
		t.Errorf("VerifyToken() = %s, want %s", uid, acct.ID)
	}

	if _, err := s.VerifyToken(token + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("tampered token error = %v, want ErrInvalidToken", err)
	}

	other, _ := New(nil, Config{Secret: []byte("other"), Clock: clk})
	if _, err := other.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign secret error = %v, want ErrInvalidToken", err)
	}

	clk.Add(2 * time.Hour)
	if _, err := s.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token error = %v, want ErrInvalidToken", err)
	}
}
