package service

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation marks failures resolved entirely client-side, before any
// network call.
var ErrValidation = errors.New("validation failed")

// Symbol set accepted by the server's password policy.
const passwordSymbols = "-@$!%*?&_"

const passwordMinLength = 8

// ValidatePassword enforces the server's policy locally: at least 8
// characters with an uppercase letter, a lowercase letter, a digit and a
// symbol from the allowed set.
func ValidatePassword(password string) error {
	if len(password) < passwordMinLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, passwordMinLength)
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		case strings.ContainsRune(passwordSymbols, r):
			hasSymbol = true
		}
	}

	switch {
	case !hasUpper:
		return fmt.Errorf("%w: password needs an uppercase letter", ErrValidation)
	case !hasLower:
		return fmt.Errorf("%w: password needs a lowercase letter", ErrValidation)
	case !hasDigit:
		return fmt.Errorf("%w: password needs a digit", ErrValidation)
	case !hasSymbol:
		return fmt.Errorf("%w: password needs a symbol from %q", ErrValidation, passwordSymbols)
	}
	return nil
}

// ValidateRegistration runs every local check for a registration attempt.
func ValidateRegistration(username, email, password, confirmPassword string) error {
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("%w: username is required", ErrValidation)
	}
	if strings.TrimSpace(email) == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: a valid email is required", ErrValidation)
	}
	if err := ValidatePassword(password); err != nil {
		return err
	}
	if password != confirmPassword {
		return fmt.Errorf("%w: passwords do not match", ErrValidation)
	}
	return nil
}
