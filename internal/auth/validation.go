package auth

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

const maxPasswordLength = 128

// ValidatePassword enforces length only; there are no character class rules.
func ValidatePassword(password string, minLength int) error {
	if minLength == 0 {
		minLength = 12
	}

	n := utf8.RuneCountInString(password)
	if n < minLength {
		return fmt.Errorf("password must be at least %d characters long", minLength)
	}
	// bounded so argon2 input stays small
	if len(password) > maxPasswordLength {
		return fmt.Errorf("password must be at most %d characters long", maxPasswordLength)
	}

	if isRepeatingChar(password) {
		return fmt.Errorf("password cannot be a single repeating character")
	}
	return nil
}

// NormalizeEmail lowercases and validates an email address
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("invalid email address")
	}
	return email, nil
}

func isRepeatingChar(s string) bool {
	first, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return false
	}
	for _, r := range s[size:] {
		if r != first {
			return false
		}
	}
	return true
}
