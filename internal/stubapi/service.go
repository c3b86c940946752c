package stubapi

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/klinners/klinners_web/internal/logging"
	"github.com/klinners/klinners_web/internal/notification"
)

const (
	otpDigits = 6
	pinDigits = 4
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotVerified        = errors.New("email not verified")
	ErrInvalidCode        = errors.New("invalid code")
	ErrCodeExpired        = errors.New("code expired")
	ErrResetNotVerified   = errors.New("reset PIN not verified")
	ErrPINNotSet          = errors.New("transaction PIN not set")
)

var fourDigits = regexp.MustCompile(`^\d{4}$`)

// InputError is an ErrInvalidInput with a message fit for the client.
type InputError struct{ Message string }

func (e *InputError) Error() string        { return e.Message }
func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

func invalidInput(format string, args ...any) error {
	return &InputError{Message: fmt.Sprintf(format, args...)}
}

// RegisterInput is the body of the registration endpoint.
type RegisterInput struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	Mobile          string `json:"mobile"`
	Address         string `json:"address"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// ProfileInput carries the complete-profile form. Empty fields are left as
// they are.
type ProfileInput struct {
	FirstName   string
	LastName    string
	Username    string
	DateOfBirth string
	Email       string
	Mobile      string
	Address     string
	Image       string
}

// Accounts manages the account lifecycle behind the stub endpoints.
type Accounts struct {
	repo       Repository
	notifier   notification.Notifier
	logger     *slog.Logger
	pinTTL     time.Duration
	bcryptCost int
	autoVerify bool
	now        func() time.Time
}

// NewAccounts wires the account service.
func NewAccounts(repo Repository, notifier notification.Notifier, cfg Config, logger *slog.Logger) *Accounts {
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Accounts{
		repo:       repo,
		notifier:   notifier,
		logger:     logging.Component(logger, "accounts"),
		pinTTL:     cfg.PINTTL,
		bcryptCost: cost,
		autoVerify: cfg.AutoVerify,
		now:        time.Now,
	}
}

// Register creates an unverified account and mails its activation code.
func (s *Accounts) Register(ctx context.Context, in RegisterInput) (Account, error) {
	email := normalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return Account{}, invalidInput("A valid email is required")
	}
	if len(in.Password) < 6 {
		return Account{}, invalidInput("Password must be at least 6 characters")
	}
	if in.ConfirmPassword != "" && in.ConfirmPassword != in.Password {
		return Account{}, invalidInput("Passwords do not match")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return Account{}, err
	}
	otp, err := randomDigits(otpDigits)
	if err != nil {
		return Account{}, err
	}

	account := Account{
		ID:           uuid.New().String(),
		Email:        email,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Username:     strings.TrimSpace(in.Username),
		Mobile:       strings.TrimSpace(in.Mobile),
		Address:      strings.TrimSpace(in.Address),
		PasswordHash: hash,
		Verified:     s.autoVerify,
		OTP:          otp,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.Create(ctx, account); err != nil {
		return Account{}, err
	}
	if !account.Verified {
		s.send(ctx, notification.KindEmailOTP, email, otp)
	}
	return account, nil
}

// VerifyOTP activates the account.
func (s *Accounts) VerifyOTP(ctx context.Context, email, otp string) error {
	account, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if account.Verified {
		return nil
	}
	if account.OTP == "" || strings.TrimSpace(otp) != account.OTP {
		return ErrInvalidCode
	}
	account.Verified = true
	account.OTP = ""
	return s.repo.Update(ctx, account)
}

// Authenticate checks credentials of a verified account.
func (s *Accounts) Authenticate(ctx context.Context, email, password string) (Account, error) {
	account, err := s.repo.FindByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return Account{}, err
	}
	if err := bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(password)); err != nil {
		return Account{}, ErrInvalidCredentials
	}
	if !account.Verified {
		return Account{}, ErrNotVerified
	}
	return account, nil
}

// SendResetPIN mails a fresh 4-digit PIN that stays valid for the PIN TTL.
// Any earlier PIN stops working.
func (s *Accounts) SendResetPIN(ctx context.Context, email string) error {
	account, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	pin, err := randomDigits(pinDigits)
	if err != nil {
		return err
	}
	account.ResetPIN = pin
	account.ResetExpires = s.now().Add(s.pinTTL)
	account.ResetVerified = false
	if err := s.repo.Update(ctx, account); err != nil {
		return err
	}
	s.send(ctx, notification.KindPasswordPIN, account.Email, pin)
	return nil
}

// VerifyResetPIN accepts the mailed PIN once and unlocks ChangePassword.
func (s *Accounts) VerifyResetPIN(ctx context.Context, email, pin string) error {
	account, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if account.ResetPIN == "" || pin != account.ResetPIN {
		return ErrInvalidCode
	}
	if !s.now().Before(account.ResetExpires) {
		return ErrCodeExpired
	}
	account.ResetPIN = ""
	account.ResetVerified = true
	return s.repo.Update(ctx, account)
}

// ChangePassword replaces the password after a verified reset PIN and
// revokes every token issued so far.
func (s *Accounts) ChangePassword(ctx context.Context, email, password, confirm string) error {
	if len(password) < 6 {
		return invalidInput("Password must be at least 6 characters")
	}
	if password != confirm {
		return invalidInput("Passwords do not match")
	}
	account, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !account.ResetVerified {
		return ErrResetNotVerified
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return err
	}
	account.PasswordHash = hash
	account.ResetVerified = false
	account.TokenVersion++
	return s.repo.Update(ctx, account)
}

// FillProfile applies the non-empty fields of in.
func (s *Accounts) FillProfile(ctx context.Context, id string, in ProfileInput) (Account, error) {
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return Account{}, err
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&account.FirstName, in.FirstName)
	set(&account.LastName, in.LastName)
	set(&account.Username, in.Username)
	set(&account.DateOfBirth, in.DateOfBirth)
	set(&account.Mobile, in.Mobile)
	set(&account.Address, in.Address)
	set(&account.Image, in.Image)
	if email := normalizeEmail(in.Email); email != "" {
		account.Email = email
	}
	if err := s.repo.Update(ctx, account); err != nil {
		return Account{}, err
	}
	return account, nil
}

// CreateTxPIN sets or replaces the transaction PIN.
func (s *Accounts) CreateTxPIN(ctx context.Context, id, pin string) error {
	if !fourDigits.MatchString(pin) {
		return invalidInput("PIN must be 4 digits")
	}
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), s.bcryptCost)
	if err != nil {
		return err
	}
	account.TxPINHash = hash
	return s.repo.Update(ctx, account)
}

// VerifyTxPIN checks the transaction PIN.
func (s *Accounts) VerifyTxPIN(ctx context.Context, id, pin string) error {
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if len(account.TxPINHash) == 0 {
		return ErrPINNotSet
	}
	if err := bcrypt.CompareHashAndPassword(account.TxPINHash, []byte(pin)); err != nil {
		return ErrInvalidCode
	}
	return nil
}

// Get returns the account with id.
func (s *Accounts) Get(ctx context.Context, id string) (Account, error) {
	return s.repo.FindByID(ctx, id)
}

// Revoke invalidates every token issued to email.
func (s *Accounts) Revoke(ctx context.Context, email string) error {
	account, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	account.TokenVersion++
	return s.repo.Update(ctx, account)
}

func (s *Accounts) send(ctx context.Context, kind, destination, body string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, notification.Message{Kind: kind, Destination: destination, Body: body}); err != nil {
		s.logger.Warn("notification failed", slog.String("kind", kind), slog.Any("error", err))
	}
}

func randomDigits(n int) (string, error) {
	var b strings.Builder
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}
