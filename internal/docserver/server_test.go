package docserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mschirtzinger/studysync/internal/accounts"
	"github.com/mschirtzinger/studysync/internal/kvdb"
	"github.com/mschirtzinger/studysync/internal/model"
	"github.com/mschirtzinger/studysync/internal/remote"
)

type testServer struct {
	srv   *Server
	http  *httptest.Server
	store *remote.MemoryStore
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	db, err := kvdb.Open(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	accts, err := accounts.New(db, accounts.Config{Secret: []byte("test"), BcryptCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("accounts.New() failed: %v", err)
	}
	store := remote.NewMemoryStore()
	srv, err := NewServer(&Config{Store: store, Accounts: accts})
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Stop()
		ts.Close()
	})
	return &testServer{srv: srv, http: ts, store: store}
}

func (ts *testServer) auth(t *testing.T, route, email, password string) (Session, int) {
	t.Helper()
	body, _ := json.Marshal(Credentials{Email: email, Password: password})
	resp, err := http.Post(ts.http.URL+route, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", route, err)
	}
	defer resp.Body.Close()

	var s Session
	_ = json.NewDecoder(resp.Body).Decode(&s)
	return s, resp.StatusCode
}

func (ts *testServer) client(t *testing.T, token string) *remote.Client {
	t.Helper()
	c, err := remote.NewClient(remote.ClientConfig{BaseURL: ts.http.URL, Token: token})
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	return c
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	if _, err := NewServer(nil); err == nil {
		t.Error("NewServer(nil) succeeded")
	}
}

func TestAuthRoutes(t *testing.T) {
	ts := setupServer(t)

	reg, code := ts.auth(t, "/auth/register", "ada@example.com", "secret1")
	if code != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", code)
	}
	if reg.UserID == "" || reg.Token == "" {
		t.Errorf("register session = %+v", reg)
	}

	if _, code := ts.auth(t, "/auth/register", "ada@example.com", "secret1"); code != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want 409", code)
	}
	if _, code := ts.auth(t, "/auth/register", "bob@example.com", "1"); code != http.StatusBadRequest {
		t.Errorf("weak password status = %d, want 400", code)
	}

	login, code := ts.auth(t, "/auth/login", "ada@example.com", "secret1")
	if code != http.StatusOK || login.UserID != reg.UserID {
		t.Errorf("login = %+v status %d", login, code)
	}
	if _, code := ts.auth(t, "/auth/login", "ada@example.com", "wrong12"); code != http.StatusUnauthorized {
		t.Errorf("bad login status = %d, want 401", code)
	}
}

func TestDocuments_GetPut(t *testing.T) {
	ts := setupServer(t)
	sess, _ := ts.auth(t, "/auth/register", "ada@example.com", "secret1")
	c := ts.client(t, sess.Token)
	ctx := context.Background()

	if _, err := c.Get(ctx, sess.UserID); !errors.Is(err, remote.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}

	doc := model.NewAppData("2026-03-01")
	doc.XP = 30
	doc.LastUpdated = 1234
	if err := c.Put(ctx, sess.UserID, doc); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	got, err := c.Get(ctx, sess.UserID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.XP != 30 || got.LastUpdated != 1234 {
		t.Errorf("Get() xp=%d lastUpdated=%d", got.XP, got.LastUpdated)
	}
}

func TestDocuments_Authorization(t *testing.T) {
	ts := setupServer(t)
	ada, _ := ts.auth(t, "/auth/register", "ada@example.com", "secret1")
	bob, _ := ts.auth(t, "/auth/register", "bob@example.com", "secret1")
	ctx := context.Background()

	var se *remote.StatusError
	err := ts.client(t, bob.Token).Put(ctx, ada.UserID, model.NewAppData("2026-03-01"))
	if !errors.As(err, &se) || se.Code != http.StatusForbidden {
		t.Errorf("cross-user Put() error = %v, want 403", err)
	}

	_, err = ts.client(t, "").Get(ctx, ada.UserID)
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Errorf("anonymous Get() error = %v, want 401", err)
	}

	_, err = ts.client(t, "garbage").Get(ctx, ada.UserID)
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Errorf("bad token Get() error = %v, want 401", err)
	}
}

func TestWebSocket_StreamsDocuments(t *testing.T) {
	ts := setupServer(t)
	sess, _ := ts.auth(t, "/auth/register", "ada@example.com", "secret1")
	c := ts.client(t, sess.Token)

	first := model.NewAppData("2026-03-01")
	first.LastUpdated = 1
	if err := c.Put(context.Background(), sess.UserID, first); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan int64, 8)
	done, err := c.Subscribe(ctx, sess.UserID, func(d model.AppData) { received <- d.LastUpdated })
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	waitFor := func(want int64) {
		t.Helper()
		for {
			select {
			case got := <-received:
				if got == want {
					return
				}
			case <-ctx.Done():
				t.Fatalf("document %d not streamed", want)
			}
		}
	}
	waitFor(1)

	second := first
	second.LastUpdated = 2
	if err := c.Put(context.Background(), sess.UserID, second); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	waitFor(2)

	if n := ts.srv.ClientCount(); n != 1 {
		t.Errorf("ClientCount() = %d, want 1", n)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("done error = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not stop")
	}
}

func TestWebSocket_RejectsForeignToken(t *testing.T) {
	ts := setupServer(t)
	ada, _ := ts.auth(t, "/auth/register", "ada@example.com", "secret1")
	bob, _ := ts.auth(t, "/auth/register", "bob@example.com", "secret1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := ts.client(t, bob.Token).Subscribe(ctx, ada.UserID, func(model.AppData) {}); err == nil {
		t.Error("Subscribe() with foreign token succeeded")
	}
}

func TestHealth(t *testing.T) {
	ts := setupServer(t)
	resp, err := http.Get(ts.http.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("health = %v", body)
	}
}
