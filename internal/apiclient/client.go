// Package apiclient talks to the marketplace REST API. It attaches the
// persisted bearer token, encodes JSON or multipart bodies and normalizes
// every failure into *Error.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/klinners/klinners_web/internal/logging"
	"github.com/klinners/klinners_web/internal/obs"
)

const (
	requestIDHeader = "X-Request-ID"
	maxResponseBody = 4 << 20
	defaultAgent    = "klinners-client/1.0"
)

// TokenSource yields the currently persisted bearer token, "" when signed out.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client issues requests against a base URL.
type Client struct {
	baseURL   string
	http      *http.Client
	tokens    TokenSource
	logger    *slog.Logger
	metrics   *obs.Metrics
	limiter   *rate.Limiter
	userAgent string

	mu             sync.RWMutex
	onUnauthorized func(ctx context.Context)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds each request. Zero leaves the transport defaults.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			hc := *c.http
			hc.Timeout = d
			c.http = &hc
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logging.Component(logger, "apiclient") }
}

func WithMetrics(m *obs.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithRateLimit throttles outgoing requests to perSecond with the given burst.
// A non-positive rate disables throttling.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithUnauthorizedHook is SetUnauthorizedHook at construction time.
func WithUnauthorizedHook(fn func(ctx context.Context)) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// New builds a client for baseURL. tokens may be nil for unauthenticated use.
func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{},
		tokens:    tokens,
		logger:    logging.Component(nil, "apiclient"),
		userAgent: defaultAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetUnauthorizedHook registers fn to run when an authenticated request is
// answered with 401. The session manager uses it to force a logout.
func (c *Client) SetUnauthorizedHook(fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

// BaseURL reports the configured API root.
func (c *Client) BaseURL() string { return c.baseURL }

// Request describes one API call. At most one of JSON and Form is set.
type Request struct {
	Method   string
	Path     string
	JSON     any
	Form     *Form
	SkipAuth bool
}

// Envelope is the API's uniform response body.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// ErrorText returns the "error" member as display text.
func (e Envelope) ErrorText() string {
	if len(e.Error) == 0 || string(e.Error) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Error, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(e.Error, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(e.Error)
}

// HasData reports whether data is present and not JSON null.
func (e Envelope) HasData() bool {
	return len(e.Data) > 0 && string(e.Data) != "null"
}

// Response is a 2xx answer.
type Response struct {
	Status   int
	Header   http.Header
	Envelope Envelope
	Body     []byte
}

// Get issues an authenticated GET.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path})
}

// PostJSON issues a POST with a JSON body.
func (c *Client) PostJSON(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, JSON: body})
}

// PostForm issues a POST with a multipart body.
func (c *Client) PostForm(ctx context.Context, path string, form *Form) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Form: form})
}

// Do sends req. Failures from the remote side come back as *Error; any other
// error is a programming or local storage fault.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.resolve(req.Path), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set(requestIDHeader, requestID)

	authenticated := false
	if !req.SkipAuth && c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("read token: %w", err)
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
			authenticated = true
		}
	}

	logger := c.logger.With(
		slog.String("method", method),
		slog.String("path", req.Path),
		slog.String("request_id", requestID),
	)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{Kind: KindTransport, Message: transportMessage, Method: method, Path: req.Path, Err: err}
		}
	}

	done := c.metrics.APIRequestStarted(method, req.Path)
	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		done(0)
		logger.Warn("api request failed", slog.Any("error", err))
		return nil, &Error{Kind: KindTransport, Message: transportMessage, Method: method, Path: req.Path, Err: err}
	}
	defer resp.Body.Close()
	done(resp.StatusCode)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		logger.Warn("api response read failed", slog.Int("status", resp.StatusCode), slog.Any("error", err))
		return nil, &Error{Kind: KindTransport, Message: transportMessage, Method: method, Path: req.Path, Err: err}
	}

	var env Envelope
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Debug("api response is not an envelope", slog.Any("error", err))
			env = Envelope{}
		}
	}

	logger.Debug("api request completed",
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
		slog.Bool("authenticated", authenticated),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Response{Status: resp.StatusCode, Header: resp.Header, Envelope: env, Body: raw}, nil
	}

	apiErr := &Error{
		Kind:    KindHTTP,
		Status:  resp.StatusCode,
		Message: serverMessage(env, resp.StatusCode),
		Method:  method,
		Path:    req.Path,
	}
	if resp.StatusCode == http.StatusUnauthorized {
		apiErr.Kind = KindUnauthorized
		if authenticated {
			logger.Info("authenticated request rejected, forcing logout")
			c.fireUnauthorized(ctx)
		}
	}
	return nil, apiErr
}

func (c *Client) fireUnauthorized(ctx context.Context) {
	c.mu.RLock()
	hook := c.onUnauthorized
	c.mu.RUnlock()
	if hook != nil {
		hook(ctx)
	}
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

func encodeBody(req Request) (io.Reader, string, error) {
	switch {
	case req.JSON != nil && req.Form != nil:
		return nil, "", fmt.Errorf("request %s %s: both JSON and form body set", req.Method, req.Path)
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("encode json body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	case req.Form != nil:
		return req.Form.encode()
	default:
		return nil, "", nil
	}
}

func serverMessage(env Envelope, status int) string {
	if env.Message != "" {
		return env.Message
	}
	if text := env.ErrorText(); text != "" {
		return text
	}
	return fallbackMessage(status)
}
