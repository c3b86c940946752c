package stubapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type claims struct {
	Version int `json:"ver"`
	jwt.RegisteredClaims
}

// TokenIssuer signs HS256 bearer tokens and checks them against the account
// store, so a bumped token version revokes tokens that are otherwise valid.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	repo   Repository
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration, repo Repository) *TokenIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, repo: repo, now: time.Now}
}

// Issue returns a signed token for account.
func (t *TokenIssuer) Issue(account Account) (string, error) {
	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Version: account.TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	})
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken implements middleware.TokenVerifier.
func (t *TokenIssuer) VerifyToken(ctx context.Context, raw string) (string, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil {
		return "", err
	}
	account, err := t.repo.FindByID(ctx, c.Subject)
	if err != nil {
		return "", err
	}
	if account.TokenVersion != c.Version {
		return "", errors.New("token revoked")
	}
	return account.ID, nil
}
