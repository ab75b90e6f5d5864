// Package identity maps authentication state onto the identity that scopes
// local storage and sync.
//
// A Binder owns the current Session. Logging in switches the state store to
// the user's slot and binds sync; logging out flushes and unbinds sync and
// returns to the shared local slot, leaving that slot's data in place.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mschirtzinger/studysync/internal/logging"
)

var (
	// ErrInvalidCredentials is returned for an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrEmailTaken is returned when registering an email that already has an
	// account.
	ErrEmailTaken = errors.New("email already registered")

	// ErrRejected is returned when the server refuses the request body.
	ErrRejected = errors.New("request rejected")
)

// Session is an authenticated user.
type Session struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Token  string `json:"token"`
}

// Provider authenticates users.
type Provider interface {
	Register(ctx context.Context, email, password string) (Session, error)
	Login(ctx context.Context, email, password string) (Session, error)
	Logout(ctx context.Context, s Session) error
}

// HTTPConfig configures an HTTPProvider.
type HTTPConfig struct {
	// BaseURL of the document server.
	BaseURL string

	// Timeout bounds each request (default 10s).
	Timeout time.Duration

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// HTTPProvider authenticates against the document server's /auth routes.
type HTTPProvider struct {
	base   string
	http   *http.Client
	logger *zap.Logger
}

// NewHTTPProvider creates a provider for the server at cfg.BaseURL.
func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &HTTPProvider{
		base:   base,
		http:   hc,
		logger: logging.OrNop(cfg.Logger).Named("identity"),
	}, nil
}

func (p *HTTPProvider) Register(ctx context.Context, email, password string) (Session, error) {
	return p.post(ctx, "/auth/register", email, password)
}

func (p *HTTPProvider) Login(ctx context.Context, email, password string) (Session, error) {
	return p.post(ctx, "/auth/login", email, password)
}

// Logout is local only; tokens expire on their own.
func (p *HTTPProvider) Logout(_ context.Context, s Session) error {
	p.logger.Debug("logout", zap.String("userId", s.UserID))
	return nil
}

func (p *HTTPProvider) post(ctx context.Context, route, email, password string) (Session, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return Session{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+route, bytes.NewReader(body))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return Session{}, ErrInvalidCredentials
		case http.StatusConflict:
			return Session{}, ErrEmailTaken
		case http.StatusBadRequest:
			return Session{}, fmt.Errorf("%w: %s", ErrRejected, e.Error)
		default:
			return Session{}, fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
		}
	}

	var s Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Session{}, fmt.Errorf("failed to decode session: %w", err)
	}
	if s.UserID == "" || s.Token == "" {
		return Session{}, fmt.Errorf("server returned an incomplete session")
	}
	return s, nil
}
