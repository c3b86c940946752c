package stubapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Account is a marketplace user as the stub API stores it.
type Account struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	Username     string
	DateOfBirth  string
	Mobile       string
	Address      string
	Image        string
	PasswordHash []byte
	Verified     bool
	CreatedAt    time.Time

	// Activation code mailed after registration.
	OTP string

	// Password reset challenge.
	ResetPIN      string
	ResetExpires  time.Time
	ResetVerified bool

	TxPINHash []byte
	// TokenVersion is embedded in issued tokens; bumping it revokes them all.
	TokenVersion int
}

// View is the JSON shape returned to clients. Secrets never leave the server.
func (a Account) View() map[string]any {
	return map[string]any{
		"id":          a.ID,
		"email":       a.Email,
		"firstName":   a.FirstName,
		"lastName":    a.LastName,
		"username":    a.Username,
		"dateOfBirth": a.DateOfBirth,
		"mobile":      a.Mobile,
		"address":     a.Address,
		"image":       a.Image,
		"isVerified":  a.Verified,
		"pinSet":      len(a.TxPINHash) > 0,
		"createdAt":   a.CreatedAt.Format(time.RFC3339),
	}
}

var (
	ErrAccountExists   = errors.New("account exists")
	ErrAccountNotFound = errors.New("account not found")
)

// Repository persists accounts.
type Repository interface {
	Create(ctx context.Context, account Account) error
	FindByEmail(ctx context.Context, email string) (Account, error)
	FindByID(ctx context.Context, id string) (Account, error)
	Update(ctx context.Context, account Account) error
}

type memoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]Account
	byEmail  map[string]string
}

// NewMemoryRepository builds an in-memory account store.
func NewMemoryRepository() Repository {
	return &memoryRepository{accounts: make(map[string]Account), byEmail: make(map[string]string)}
}

func (r *memoryRepository) Create(_ context.Context, account Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := normalizeEmail(account.Email)
	if _, exists := r.byEmail[email]; exists {
		return ErrAccountExists
	}
	r.accounts[account.ID] = account
	r.byEmail[email] = account.ID
	return nil
}

func (r *memoryRepository) FindByEmail(_ context.Context, email string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[normalizeEmail(email)]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return r.accounts[id], nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	account, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (r *memoryRepository) Update(_ context.Context, account Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.accounts[account.ID]
	if !ok {
		return ErrAccountNotFound
	}
	oldEmail, newEmail := normalizeEmail(prev.Email), normalizeEmail(account.Email)
	if oldEmail != newEmail {
		if _, taken := r.byEmail[newEmail]; taken {
			return ErrAccountExists
		}
		delete(r.byEmail, oldEmail)
		r.byEmail[newEmail] = account.ID
	}
	r.accounts[account.ID] = account
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
