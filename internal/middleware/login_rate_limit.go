package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const loginWindow = time.Minute

// LoginRateLimit caps sign-in attempts per account email, falling back to the
// client IP when the body carries none. Counters live in Redis for one window
// and the middleware is a no-op without a cache.
func LoginRateLimit(cache redis.Cmdable, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		ctx := c.UserContext()
		key := "rl:login:" + loginSubject(c)

		attempts, err := cache.Incr(ctx, key).Result()
		if err != nil {
			// fail open
			return c.Next()
		}
		if attempts == 1 {
			cache.Expire(ctx, key, loginWindow)
		}
		if attempts <= int64(maxPerMin) {
			return c.Next()
		}

		wait, err := cache.TTL(ctx, key).Result()
		if err != nil || wait <= 0 {
			wait = loginWindow
		}
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(wait.Round(time.Second)/time.Second)))
		return fiber.NewError(http.StatusTooManyRequests, "Too many login attempts. Please try again later.")
	}
}

func loginSubject(c *fiber.Ctx) string {
	var req struct {
		Email string `json:"email"`
	}
	_ = c.BodyParser(&req)
	if email := strings.ToLower(strings.TrimSpace(req.Email)); email != "" {
		return email
	}
	return c.IP()
}
