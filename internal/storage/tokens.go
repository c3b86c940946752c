package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/klinners/klinners_web/internal/identity"
	"github.com/klinners/klinners_web/internal/logging"
)

// Keys shared with the web front-end's local storage layout.
const (
	KeyToken             = "auth_token"
	KeyUserData          = "user_data"
	KeyVerificationEmail = "verification_email"
)

// Tokens is the persistence adapter for the session: bearer token, cached user
// record and the email awaiting PIN verification. Absent values come back as
// zero values with a nil error.
type Tokens struct {
	backend Backend
	logger  *slog.Logger
}

// NewTokens wraps backend. A nil backend behaves like NewNoop.
func NewTokens(backend Backend, logger *slog.Logger) *Tokens {
	if backend == nil {
		backend = NewNoop()
	}
	return &Tokens{backend: backend, logger: logging.Component(logger, "storage")}
}

// Token returns the persisted bearer token or "".
func (t *Tokens) Token(ctx context.Context) (string, error) {
	return t.get(ctx, KeyToken)
}

// SaveToken persists token as-is.
func (t *Tokens) SaveToken(ctx context.Context, token string) error {
	return t.backend.Set(ctx, KeyToken, token)
}

// RemoveToken forgets the bearer token.
func (t *Tokens) RemoveToken(ctx context.Context) error {
	return t.backend.Delete(ctx, KeyToken)
}

// UserData returns the cached user record, or nil when none is stored. A blob
// that no longer decodes is treated as absent.
func (t *Tokens) UserData(ctx context.Context) (identity.User, error) {
	raw, err := t.get(ctx, KeyUserData)
	if err != nil || raw == "" {
		return nil, err
	}
	var user identity.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		t.logger.Warn("discarding undecodable user data", slog.Any("error", err))
		return nil, nil
	}
	return user, nil
}

// SaveUserData caches user verbatim as JSON.
func (t *Tokens) SaveUserData(ctx context.Context, user identity.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user data: %w", err)
	}
	return t.backend.Set(ctx, KeyUserData, string(data))
}

// RemoveUserData drops the cached user record.
func (t *Tokens) RemoveUserData(ctx context.Context) error {
	return t.backend.Delete(ctx, KeyUserData)
}

// ClearAll removes the token and the user record together.
func (t *Tokens) ClearAll(ctx context.Context) error {
	return t.backend.Delete(ctx, KeyToken, KeyUserData)
}

// VerificationEmail returns the address a password-reset PIN was sent to.
func (t *Tokens) VerificationEmail(ctx context.Context) (string, error) {
	return t.get(ctx, KeyVerificationEmail)
}

func (t *Tokens) SaveVerificationEmail(ctx context.Context, email string) error {
	return t.backend.Set(ctx, KeyVerificationEmail, email)
}

func (t *Tokens) RemoveVerificationEmail(ctx context.Context) error {
	return t.backend.Delete(ctx, KeyVerificationEmail)
}

func (t *Tokens) get(ctx context.Context, key string) (string, error) {
	v, err := t.backend.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		return "", nil
	case errors.Is(err, ErrCorrupt):
		t.logger.Warn("storage document unreadable, treating as empty", slog.String("key", key), slog.Any("error", err))
		return "", nil
	}
	return v, err
}
