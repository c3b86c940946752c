package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// UserIDKey is the Locals key holding the authenticated subject.
const UserIDKey = "user_id"

// TokenVerifier resolves a bearer token to the account it was issued for. It
// must fail for expired, forged and revoked tokens alike.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (subject string, err error)
}

// JWTAuth rejects requests without a valid bearer token.
func JWTAuth(verifier TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])
		sub, err := verifier.VerifyToken(c.UserContext(), tokenStr)
		if err != nil || sub == "" {
			return fiber.NewError(http.StatusUnauthorized, "Your session has expired. Please sign in again.")
		}

		c.Locals(UserIDKey, sub)
		return c.Next()
	}
}
