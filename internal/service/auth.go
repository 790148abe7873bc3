// Package service implements the application services wiring domain
// logic to ports.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/argussec/argus/internal/config"
	"github.com/argussec/argus/internal/domain"
	"github.com/argussec/argus/internal/domain/user"
	"github.com/argussec/argus/internal/port/cache"
	"github.com/argussec/argus/internal/port/database"
)

// APIKeyPrefix is prepended to generated project API keys.
const APIKeyPrefix = "ak_"

// keyCachePrefix namespaces API key entries in the shared cache.
const keyCachePrefix = "apikey:"

// AuthService handles user sessions and project API key resolution.
type AuthService struct {
	store database.Store
	cache cache.Cache
	cfg   config.Auth
	log   *slog.Logger
}

// NewAuthService creates a new authentication service.
func NewAuthService(store database.Store, c cache.Cache, cfg config.Auth, log *slog.Logger) *AuthService {
	return &AuthService{store: store, cache: c, cfg: cfg, log: log}
}

// Register creates a new user with a bcrypt-hashed password.
func (s *AuthService) Register(ctx context.Context, req *user.RegisterRequest) (*user.User, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &user.User{
		ID:           generateID(),
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: string(hash),
	}

	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Login authenticates a user and issues an opaque session token. Only
// the token's SHA-256 hash is stored.
func (s *AuthService) Login(ctx context.Context, req user.LoginRequest) (*user.LoginResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}

	u, err := s.store.UserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		return nil, fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized)
	}

	rawToken, err := generateRandomToken(32)
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	expiresAt := time.Now().Add(s.cfg.SessionTTL)
	sess := &user.Session{
		ID:        generateID(),
		UserID:    u.ID,
		TokenHash: hashSHA256(rawToken),
		ExpiresAt: expiresAt,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	return &user.LoginResponse{
		Token:     rawToken,
		ExpiresAt: expiresAt,
		User:      *u,
	}, nil
}

// Logout deletes the session for the given token. Unknown tokens are
// not an error.
func (s *AuthService) Logout(ctx context.Context, rawToken string) error {
	err := s.store.DeleteSession(ctx, hashSHA256(rawToken))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// UserForToken resolves a session token to its user, rejecting expired
// sessions.
func (s *AuthService) UserForToken(ctx context.Context, rawToken string) (*user.User, error) {
	if rawToken == "" {
		return nil, fmt.Errorf("%w: missing token", domain.ErrUnauthorized)
	}

	sess, err := s.store.SessionByTokenHash(ctx, hashSHA256(rawToken))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if time.Now().After(sess.ExpiresAt) {
		return nil, fmt.Errorf("%w: session expired", domain.ErrUnauthorized)
	}

	u, err := s.store.UserByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// ProjectIDForKey resolves a plain API key to its project, consulting
// the cache before the store. Only the key's hash ever leaves this
// function.
func (s *AuthService) ProjectIDForKey(ctx context.Context, rawKey string) (string, error) {
	if rawKey == "" {
		return "", fmt.Errorf("%w: missing api key", domain.ErrUnauthorized)
	}

	keyHash := hashSHA256(rawKey)
	cacheKey := keyCachePrefix + keyHash

	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, cacheKey); err == nil && ok {
			return string(data), nil
		}
	}

	p, err := s.store.ProjectByKeyHash(ctx, keyHash)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("%w: invalid api key", domain.ErrUnauthorized)
		}
		return "", fmt.Errorf("project by key: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, []byte(p.ID), s.cfg.KeyCacheTTL); err != nil {
			s.log.Debug("api key cache set failed", "error", err)
		}
	}
	return p.ID, nil
}

// ProjectIDForSession resolves a session token to the project owning
// runID, verifying ownership through the user.
func (s *AuthService) ProjectIDForSession(ctx context.Context, token, runID string) (string, error) {
	u, err := s.UserForToken(ctx, token)
	if err != nil {
		return "", err
	}

	projects, err := s.store.ListProjects(ctx, u.ID)
	if err != nil {
		return "", fmt.Errorf("list projects: %w", err)
	}
	for _, p := range projects {
		ok, err := s.store.RunExists(ctx, p.ID, runID)
		if err != nil {
			return "", fmt.Errorf("run exists: %w", err)
		}
		if ok {
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
}

// NewAPIKey generates a plain project API key and its storage hash.
func NewAPIKey() (plain, hash string, err error) {
	raw, err := generateRandomToken(32)
	if err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}
	plain = APIKeyPrefix + raw
	return plain, hashSHA256(plain), nil
}

func hashSHA256(data string) string {
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}

func generateRandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func generateID() string {
	return uuid.NewString()
}
