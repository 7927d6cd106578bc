// Package credential validates registration input and hashes passwords.
package credential

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/models"
)

// MinPasswordLength is the minimum number of characters a password must contain.
const MinPasswordLength = 6

// Validation errors. All wrap models.ErrValidation.
var (
	ErrPasswordTooShort = fmt.Errorf("%w: password must be at least %d characters", models.ErrValidation, MinPasswordLength)
	ErrPasswordNoUpper  = fmt.Errorf("%w: password must contain an uppercase letter", models.ErrValidation)
	ErrPasswordNoLower  = fmt.Errorf("%w: password must contain a lowercase letter", models.ErrValidation)
	ErrPasswordNoDigit  = fmt.Errorf("%w: password must contain a digit", models.ErrValidation)
	ErrPasswordNoSymbol = fmt.Errorf("%w: password must contain a symbol", models.ErrValidation)
	ErrInvalidEmail     = fmt.Errorf("%w: invalid email address", models.ErrValidation)
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// ValidatePassword checks the strength policy: minimum length plus at least one
// uppercase letter, lowercase letter, digit, and symbol.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	switch {
	case !upper:
		return ErrPasswordNoUpper
	case !lower:
		return ErrPasswordNoLower
	case !digit:
		return ErrPasswordNoDigit
	case !symbol:
		return ErrPasswordNoSymbol
	}
	return nil
}

// NormalizeEmail trims the address and validates its shape.
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if !emailRegex.MatchString(email) {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// Hasher turns a validated password into an opaque hash.
type Hasher interface {
	Hash(password string) (string, error)
}

// BcryptHasher hashes with bcrypt.
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher returns a hasher using bcrypt.DefaultCost.
func NewBcryptHasher() *BcryptHasher {
	return &BcryptHasher{Cost: bcrypt.DefaultCost}
}

// Hash creates a bcrypt hash of the password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: password is too long", models.ErrValidation)
		}
		return "", fmt.Errorf("could not hash password: %w", err)
	}
	return string(hashed), nil
}
