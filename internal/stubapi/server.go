// Package stubapi is a local stand-in for the marketplace REST API. It speaks
// the same envelope and endpoints as the real service so the client packages
// and klinctl can be exercised end to end without network access.
package stubapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/klinners/klinners_web/internal/logging"
	"github.com/klinners/klinners_web/internal/middleware"
	"github.com/klinners/klinners_web/internal/notification"
	"github.com/klinners/klinners_web/internal/obs"
)

// Config tunes the stub API.
type Config struct {
	AppName   string
	JWTSecret string
	TokenTTL  time.Duration
	// PINTTL is how long a mailed reset PIN stays valid.
	PINTTL time.Duration
	// LoginAttemptsPerMinute is enforced per email when Redis is configured.
	LoginAttemptsPerMinute int
	IdempotencyTTL         time.Duration
	// BcryptCost of zero means bcrypt.DefaultCost.
	BcryptCost int
	// AutoVerify skips the email OTP step at registration.
	AutoVerify bool
}

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cache    redis.Cmdable
	Logger   *slog.Logger
	Metrics  *obs.Metrics
	Gatherer prometheus.Gatherer
	Notifier notification.Notifier
	Repo     Repository
}

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app      *fiber.App
	cfg      Config
	cache    redis.Cmdable
	accounts *Accounts
	tokens   *TokenIssuer
	logger   *slog.Logger
}

// New instantiates the HTTP server and wires every route.
func New(cfg Config, d Deps) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("stubapi: JWT secret is required")
	}
	if cfg.PINTTL <= 0 {
		cfg.PINTTL = 300 * time.Second
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	logger := logging.Component(d.Logger, "stubapi")
	repo := d.Repo
	if repo == nil {
		repo = NewMemoryRepository()
	}
	notifier := d.Notifier
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(logger)
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		BodyLimit:             8 << 20,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
	})

	s := &Server{
		app:      app,
		cfg:      cfg,
		cache:    d.Cache,
		accounts: NewAccounts(repo, notifier, cfg, logger),
		tokens:   NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL, repo),
		logger:   logger,
	}
	s.routes(d)
	return s, nil
}

func (s *Server) routes(d Deps) {
	app := s.app
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(s.logger, d.Metrics))

	app.Get("/healthz", s.health)
	if d.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	h := NewHandler(s.accounts, s.tokens, s.logger)
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals(middleware.RequestIDHeader).(string)
		return respond(c, http.StatusOK, "", fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	authGroup := api.Group("/auth")
	authGroup.Post("/login", middleware.LoginRateLimit(s.cache, s.cfg.LoginAttemptsPerMinute), h.Login)
	authGroup.Post("/register", middleware.Idempotency(s.cache, s.cfg.IdempotencyTTL, s.logger), h.Register)
	authGroup.Post("/verifyotp", h.VerifyOTP)
	authGroup.Post("/send-password-change-email", h.SendPasswordChangeEmail)
	authGroup.Post("/verifypin", h.VerifyPIN)
	authGroup.Post("/change-password", h.ChangePassword)

	// Protected routes
	jwtmw := middleware.JWTAuth(s.tokens)
	api.Get("/user-info", jwtmw, h.UserInfo)
	user := api.Group("/user", jwtmw)
	user.Post("/fill-data", h.FillData)
	user.Post("/create-pin", h.CreatePIN)
	user.Post("/verify-pin", h.VerifyTxPIN)
}

func (s *Server) health(c *fiber.Ctx) error {
	redisStatus := "disabled"
	if s.cache != nil {
		redisStatus = "ok"
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := s.cache.Ping(ctx).Err(); err != nil {
			redisStatus = err.Error()
		}
	}
	status := http.StatusOK
	if redisStatus != "ok" && redisStatus != "disabled" {
		status = http.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"status":    fiber.Map{"redis": redisStatus},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// App exposes the Fiber application, mainly for app.Test.
func (s *Server) App() *fiber.App { return s.app }

// Accounts exposes the account service for seeding and inspection.
func (s *Server) Accounts() *Accounts { return s.accounts }

// Listen starts the HTTP server on addr.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Serve runs the server on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// StartLocal serves on a random loopback port and returns the base URL. The
// server runs until Shutdown.
func (s *Server) StartLocal() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listen: %w", err)
	}
	go func() {
		if err := s.Serve(ln); err != nil {
			s.logger.Warn("stub api stopped", slog.Any("error", err))
		}
	}()
	return "http://" + ln.Addr().String(), nil
}
