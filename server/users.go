package server

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrValidation marks input-validation failures. The wrapped message names
// the unmet rule so callers can render actionable errors.
var ErrValidation = errors.New("validation failed")

// bcryptCost balances verification latency around the 100ms mark.
const bcryptCost = 10

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,50}$`)

// Credentials hashes and verifies user passwords. It owns no protocol
// knowledge beyond the user record shape.
type Credentials struct {
	store *Store
}

// NewCredentials constructs the credential store.
func NewCredentials(store *Store) *Credentials {
	return &Credentials{store: store}
}

// VerifyPassword authenticates username/password. Returns nil without error
// when the user is unknown or the password does not match; bcrypt performs
// the constant-time hash comparison.
func (c *Credentials) VerifyPassword(ctx context.Context, username, password string) (*User, error) {
	user, err := c.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil
	}
	return user, nil
}

// CreateUser validates inputs, hashes the password, and persists the user.
func (c *Credentials) CreateUser(ctx context.Context, username, password, email string) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	existing, err := c.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: username already exists", ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now()
	user := &User{
		UserID:       uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		Email:        email,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := c.store.PutUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ResetPassword replaces the user's password hash.
func (c *Credentials) ResetPassword(ctx context.Context, userID, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	user, err := c.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("%w: user not found", ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = string(hash)
	user.UpdatedAt = time.Now()
	return c.store.PutUser(ctx, user)
}

// ValidateUsername enforces the 3-50 char alphanumeric/dash/underscore rule.
func ValidateUsername(username string) error {
	if !usernameRe.MatchString(username) {
		return fmt.Errorf("%w: username must be 3-50 characters of letters, numbers, dashes, and underscores", ErrValidation)
	}
	return nil
}

// ValidateEmail enforces a single @, non-empty local and domain parts, a
// dotted domain, and the 254-character cap.
func ValidateEmail(email string) error {
	if len(email) > 254 {
		return fmt.Errorf("%w: email must not exceed 254 characters", ErrValidation)
	}
	at := strings.Count(email, "@")
	if at != 1 {
		return fmt.Errorf("%w: email must contain exactly one @", ErrValidation)
	}
	local, domain, _ := strings.Cut(email, "@")
	if local == "" || domain == "" || !strings.Contains(domain, ".") || strings.ContainsAny(email, " \t") {
		return fmt.Errorf("%w: email format invalid", ErrValidation)
	}
	return nil
}

// ValidatePassword enforces the password policy, naming the first unmet rule.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters long", ErrValidation)
	}
	var upper, lower, digit, punct bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(`!@#$%^&*(),.?":{}|<>-_+=~[]\`, r):
			punct = true
		}
	}
	switch {
	case !upper:
		return fmt.Errorf("%w: password must contain at least one uppercase letter", ErrValidation)
	case !lower:
		return fmt.Errorf("%w: password must contain at least one lowercase letter", ErrValidation)
	case !digit:
		return fmt.Errorf("%w: password must contain at least one number", ErrValidation)
	case !punct:
		return fmt.Errorf("%w: password must contain at least one special character", ErrValidation)
	}
	return nil
}
