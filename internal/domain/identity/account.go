package identity

import (
	"regexp"
	"strings"
	"time"

	"github.com/orbitpanel/backend/internal/domain/shared"
	"golang.org/x/crypto/bcrypt"
)

// AccountStatus represents the status of an account
type AccountStatus string

const (
	AccountStatusActive      AccountStatus = "active"
	AccountStatusLocked      AccountStatus = "locked"
	AccountStatusDeactivated AccountStatus = "deactivated"
)

// AccountRole determines panel-wide permissions
type AccountRole string

const (
	AccountRoleUser  AccountRole = "user"
	AccountRoleAdmin AccountRole = "admin"
)

// Password cost for bcrypt
const bcryptCost = 12

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

// Account represents a panel account. Each account owns one wallet and any
// number of servers with their subscriptions.
type Account struct {
	shared.BaseEntity
	Username     string
	Email        string
	PasswordHash string
	Role         AccountRole
	Status       AccountStatus
	LastLoginAt  *time.Time
}

// NewAccount creates an active account with a hashed password
func NewAccount(username, email, password string) (*Account, error) {
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return nil, shared.NewDomainError("INVALID_USERNAME", "Username must be 3-32 characters of letters, digits, '_', '.' or '-'")
	}
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}
	return &Account{
		BaseEntity:   shared.NewBaseEntity(),
		Username:     username,
		Email:        strings.TrimSpace(strings.ToLower(email)),
		PasswordHash: hash,
		Role:         AccountRoleUser,
		Status:       AccountStatusActive,
	}, nil
}

// CheckPassword verifies a plaintext password against the stored hash
func (a *Account) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) == nil
}

// SetPassword replaces the stored password hash
func (a *Account) SetPassword(password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	a.PasswordHash = hash
	a.Touch(time.Now())
	return nil
}

// RecordLogin stamps the last successful login
func (a *Account) RecordLogin(now time.Time) {
	a.LastLoginAt = &now
	a.Touch(now)
}

// IsActive reports whether the account may authenticate
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// IsAdmin reports whether the account has administrator privileges
func (a *Account) IsAdmin() bool {
	return a.Role == AccountRoleAdmin
}

func hashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", shared.NewDomainError("WEAK_PASSWORD", "Password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
