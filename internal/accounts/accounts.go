// Package accounts manages server-side user accounts and session tokens.
//
// Accounts are stored in the server's key-value database under
// "account:<email>". Passwords are hashed with bcrypt; sessions are HS256
// JWTs whose subject is the account id, which is also the identity that
// scopes the user's study-plan document.
package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mschirtzinger/studysync/internal/kvdb"
	"github.com/mschirtzinger/studysync/internal/logging"
)

var (
	ErrEmailTaken         = errors.New("email is already registered")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

const keyPrefix = "account:"

// KV is the account storage. *kvdb.DB satisfies it.
type KV interface {
	GetContext(ctx context.Context, key string) ([]byte, error)
	PutContext(ctx context.Context, key string, value []byte) error
}

// Account is a registered user.
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Config holds service settings.
type Config struct {
	// Secret signs session tokens. Required.
	Secret []byte

	// TokenTTL is the session lifetime (default 30 days).
	TokenTTL time.Duration

	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int

	Clock  clock.Clock
	Logger *zap.Logger
}

// Service registers and authenticates accounts.
type Service struct {
	kv     KV
	secret []byte
	ttl    time.Duration
	cost   int
	clock  clock.Clock
	logger *zap.Logger

	// mu serializes registration so the email uniqueness check holds.
	mu sync.Mutex
}

// New creates an account service over kv.
func New(kv KV, cfg Config) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("token secret is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 30 * 24 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Service{
		kv:     kv,
		secret: cfg.Secret,
		ttl:    cfg.TokenTTL,
		cost:   cfg.BcryptCost,
		clock:  cfg.Clock,
		logger: logging.OrNop(cfg.Logger).Named("accounts"),
	}, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// Register creates an account.
func (s *Service) Register(ctx context.Context, email, password string) (Account, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Account{}, err
	}
	if len(password) < MinPasswordLength {
		return Account{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Account{}, fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookup(ctx, email); err == nil {
		return Account{}, ErrEmailTaken
	} else if !errors.Is(err, kvdb.ErrNotFound) {
		return Account{}, err
	}

	acct := Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.clock.Now().UTC(),
	}
	raw, err := json.Marshal(acct)
	if err != nil {
		return Account{}, fmt.Errorf("failed to encode account: %w", err)
	}
	if err := s.kv.PutContext(ctx, keyPrefix+email, raw); err != nil {
		return Account{}, fmt.Errorf("failed to save account: %w", err)
	}

	s.logger.Info("account registered", zap.String("user_id", acct.ID))
	return acct, nil
}

// Authenticate checks email and password.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Account, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Account{}, ErrInvalidCredentials
	}
	acct, err := s.lookup(ctx, email)
	if errors.Is(err, kvdb.ErrNotFound) {
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return Account{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return Account{}, ErrInvalidCredentials
	}
	return acct, nil
}

func (s *Service) lookup(ctx context.Context, email string) (Account, error) {
	raw, err := s.kv.GetContext(ctx, keyPrefix+email)
	if err != nil {
		return Account{}, err
	}
	var acct Account
	if err := json.Unmarshal(raw, &acct); err != nil {
		return Account{}, fmt.Errorf("failed to decode account: %w", err)
	}
	return acct, nil
}

// IssueToken signs a session token for acct.
func (s *Service) IssueToken(acct Account) (string, error) {
	now := s.clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:   acct.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// VerifyToken validates a session token and returns its user id.
func (s *Service) VerifyToken(token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
