package pin

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/klinners/klinners_web/internal/auth"
	"github.com/klinners/klinners_web/internal/logging"
)

// DefaultTTL is how long a mailed PIN stays usable.
const DefaultTTL = 300 * time.Second

const (
	verifyFallback      = "Invalid PIN. Please try again."
	verifyErrorFallback = "An error occurred during verification. Please try again."
	resendFallback      = "Failed to resend PIN. Please try again."
	resendErrorFallback = "An error occurred while resending the PIN."
)

// Verifier is the slice of the auth service the flow calls.
type Verifier interface {
	VerifyPasswordPin(ctx context.Context, email, pin string) (auth.Result, error)
	ForgotPassword(ctx context.Context, email string) (auth.Result, error)
}

// Phase is the entry/submission state of the challenge.
type Phase int

const (
	Entering Phase = iota
	Submitting
	Verified
)

func (p Phase) String() string {
	switch p {
	case Entering:
		return "entering"
	case Submitting:
		return "submitting"
	case Verified:
		return "verified"
	default:
		return "unknown"
	}
}

// View is a snapshot for rendering.
type View struct {
	ChallengeID string
	Email       string
	Digits      [Length]string
	Focus       int
	Remaining   int
	Phase       Phase
	Verifying   bool
	Resending   bool
	CanSubmit   bool
	CanResend   bool
	Err         error
}

// Flow drives one password-reset PIN challenge. Entry, countdown and
// transport are kept apart: digits change only through the entry methods,
// time only through the countdown, and the network only through Submit and
// Resend.
type Flow struct {
	verifier Verifier
	logger   *slog.Logger
	tick     time.Duration
	observer func(View)

	// lifecycle orders countdown starts against Close. It is never held
	// together with mu while waiting on the countdown.
	lifecycle sync.Mutex

	mu        sync.Mutex
	id        ulid.ULID
	email     string
	entry     Entry
	countdown *Countdown
	phase     Phase
	verifying bool
	resending bool
	err       error
	closed    bool
	runCtx    context.Context
}

// Option configures a Flow.
type Option func(*flowConfig)

type flowConfig struct {
	ttl      time.Duration
	tick     time.Duration
	logger   *slog.Logger
	observer func(View)
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *flowConfig) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithTickInterval changes how often the running countdown ticks.
func WithTickInterval(d time.Duration) Option {
	return func(c *flowConfig) {
		if d > 0 {
			c.tick = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *flowConfig) { c.logger = logger }
}

// WithObserver is called with a fresh View after every change, including
// countdown ticks.
func WithObserver(fn func(View)) Option {
	return func(c *flowConfig) { c.observer = fn }
}

// New opens a challenge for email. The countdown starts full but does not run
// until Start.
func New(verifier Verifier, email string, opts ...Option) *Flow {
	cfg := flowConfig{ttl: DefaultTTL, tick: time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	f := &Flow{
		verifier: verifier,
		logger:   logging.Component(cfg.logger, "pin"),
		tick:     cfg.tick,
		observer: cfg.observer,
		id:       ulid.Make(),
		email:    email,
	}
	f.countdown = NewCountdown(cfg.ttl, func(int) { f.notify() })
	return f
}

// Start runs the countdown until ctx is done or Close is called.
func (f *Flow) Start(ctx context.Context) {
	f.mu.Lock()
	f.runCtx = ctx
	f.mu.Unlock()

	if !f.runCountdown(ctx) {
		return
	}
	f.logger.Debug("pin challenge started", slog.String("challenge_id", f.id.String()), slog.Int("ttl_seconds", f.countdown.Total()))
}

// Close tears the flow down: the countdown stops and results of requests
// still in flight are discarded.
func (f *Flow) Close() {
	f.lifecycle.Lock()
	defer f.lifecycle.Unlock()
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.countdown.Stop()
}

// runCountdown starts the timer unless the flow is already closed.
func (f *Flow) runCountdown(ctx context.Context) bool {
	f.lifecycle.Lock()
	defer f.lifecycle.Unlock()
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed || ctx == nil || ctx.Err() != nil {
		return false
	}
	f.countdown.Run(ctx, f.tick)
	return true
}

// Countdown exposes the timer, mainly for tests and manual ticking.
func (f *Flow) Countdown() *Countdown { return f.countdown }

// Input types value into field i. Fields are locked while a request is in flight.
func (f *Flow) Input(i int, value string) bool {
	return f.edit(func(e *Entry) bool { return e.Input(i, value) })
}

func (f *Flow) Backspace(i int) { f.edit(func(e *Entry) bool { e.Backspace(i); return true }) }

func (f *Flow) Left(i int) { f.edit(func(e *Entry) bool { e.Left(i); return true }) }

func (f *Flow) Right(i int) { f.edit(func(e *Entry) bool { e.Right(i); return true }) }

// Paste fills all fields from a 4-digit string.
func (f *Flow) Paste(text string) bool {
	return f.edit(func(e *Entry) bool { return e.Paste(text) })
}

// Submit verifies the entered PIN. Local checks run first and never reach the
// network: a missing email, an incomplete PIN and an expired challenge are
// all refused here. On rejection the digits are kept for correction.
func (f *Flow) Submit(ctx context.Context) error {
	f.mu.Lock()
	if err := f.checkSubmitLocked(); err != nil {
		f.err = err
		f.mu.Unlock()
		f.notify()
		return err
	}
	f.verifying = true
	f.phase = Submitting
	f.err = nil
	email, value, id := f.email, f.entry.Value(), f.id
	f.mu.Unlock()
	f.notify()

	res, callErr := f.verifier.VerifyPasswordPin(ctx, email, value)

	f.mu.Lock()
	f.verifying = false
	if f.closed || f.id != id {
		f.mu.Unlock()
		return ErrClosed
	}
	var err error
	switch {
	case callErr != nil:
		f.logger.Error("verify pin", slog.String("challenge_id", id.String()), slog.Any("error", callErr))
		err = &RejectedError{Message: verifyErrorFallback, Err: callErr}
	case !res.Success:
		msg := res.Message
		if msg == "" {
			msg = verifyFallback
		}
		err = &RejectedError{Message: msg, Err: res.Err}
	}
	if err != nil {
		f.phase = Entering
		f.err = err
	} else {
		f.phase = Verified
		f.logger.Info("pin verified", slog.String("challenge_id", id.String()))
	}
	f.mu.Unlock()
	f.notify()
	return err
}

// Resend asks for a new PIN. It is refused while the countdown runs or a
// request is in flight. Success restarts the countdown and clears the digits.
func (f *Flow) Resend(ctx context.Context) error {
	f.mu.Lock()
	if err := f.checkResendLocked(); err != nil {
		f.err = err
		f.mu.Unlock()
		f.notify()
		return err
	}
	f.resending = true
	f.err = nil
	email, id := f.email, f.id
	f.mu.Unlock()
	f.notify()

	res, callErr := f.verifier.ForgotPassword(ctx, email)

	f.mu.Lock()
	f.resending = false
	if f.closed || f.id != id {
		f.mu.Unlock()
		return ErrClosed
	}
	var err error
	switch {
	case callErr != nil:
		f.logger.Error("resend pin", slog.String("challenge_id", id.String()), slog.Any("error", callErr))
		err = &RejectedError{Message: resendErrorFallback, Err: callErr}
	case !res.Success:
		msg := res.Message
		if msg == "" {
			msg = resendFallback
		}
		err = &RejectedError{Message: msg, Err: res.Err}
	}
	if err != nil {
		f.err = err
		f.mu.Unlock()
		f.notify()
		return err
	}

	f.id = ulid.Make()
	f.entry.Clear()
	f.phase = Entering
	f.countdown.Reset()
	runCtx := f.runCtx
	f.mu.Unlock()

	f.runCountdown(runCtx)
	f.logger.Info("pin resent", slog.String("challenge_id", f.ChallengeID()))
	f.notify()
	return nil
}

// View returns the current snapshot.
func (f *Flow) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewLocked()
}

func (f *Flow) Phase() Phase { return f.View().Phase }

// Err is the message-bearing error from the last action, nil after success.
func (f *Flow) Err() error { return f.View().Err }

func (f *Flow) CanSubmit() bool { return f.View().CanSubmit }

func (f *Flow) CanResend() bool { return f.View().CanResend }

func (f *Flow) ChallengeID() string { return f.View().ChallengeID }

func (f *Flow) checkSubmitLocked() error {
	switch {
	case f.closed:
		return ErrClosed
	case f.phase == Verified:
		return ErrVerified
	case f.verifying || f.resending:
		return ErrBusy
	case f.email == "":
		return ErrNoEmail
	case !f.entry.Complete():
		return ErrIncomplete
	case f.countdown.Expired():
		return ErrExpired
	}
	return nil
}

func (f *Flow) checkResendLocked() error {
	switch {
	case f.closed:
		return ErrClosed
	case f.email == "":
		return ErrNoEmail
	case f.verifying || f.resending:
		return ErrBusy
	case !f.countdown.Expired():
		return ErrResendUnavailable
	}
	return nil
}

func (f *Flow) edit(fn func(*Entry) bool) bool {
	f.mu.Lock()
	if f.closed || f.verifying || f.resending || f.phase == Verified {
		f.mu.Unlock()
		return false
	}
	ok := fn(&f.entry)
	f.mu.Unlock()
	if ok {
		f.notify()
	}
	return ok
}

func (f *Flow) viewLocked() View {
	remaining := f.countdown.Remaining()
	busy := f.verifying || f.resending
	return View{
		ChallengeID: f.id.String(),
		Email:       f.email,
		Digits:      f.entry.Digits(),
		Focus:       f.entry.Focus(),
		Remaining:   remaining,
		Phase:       f.phase,
		Verifying:   f.verifying,
		Resending:   f.resending,
		CanSubmit:   !f.closed && !busy && f.phase != Verified,
		CanResend:   !f.closed && !busy && remaining == 0,
		Err:         f.err,
	}
}

func (f *Flow) notify() {
	if f.observer == nil {
		return
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	v := f.viewLocked()
	f.mu.Unlock()
	f.observer(v)
}
