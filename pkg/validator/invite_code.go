package validator

import (
	"crypto/rand"
	"errors"
	"math/big"
	"regexp"
	"strings"
)

const (
	// InviteCodeLength is the fixed length of a group invite code
	InviteCodeLength = 6

	// InviteCodeAlphabet is the character set codes are drawn from
	InviteCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var (
	// ErrEmptyInviteCode indicates the code is empty
	ErrEmptyInviteCode = errors.New("invite code cannot be empty")

	// ErrInvalidInviteCodeLength indicates the code is not 6 characters
	ErrInvalidInviteCodeLength = errors.New("invite code must be exactly 6 characters")

	// ErrInvalidInviteCodeFormat indicates characters outside A-Z and 0-9
	ErrInvalidInviteCodeFormat = errors.New("invite code can only contain letters A-Z and digits 0-9")
)

var inviteCodeRegex = regexp.MustCompile(`^[A-Z0-9]+$`)

// InviteCodeValidator normalises and validates roommate group invite codes
type InviteCodeValidator struct{}

// NewInviteCodeValidator creates a new invite code validator instance
func NewInviteCodeValidator() *InviteCodeValidator {
	return &InviteCodeValidator{}
}

// Validate accepts "ab12cd", " AB12CD " or "AB-12CD" and returns "AB12CD"
func (v *InviteCodeValidator) Validate(code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", ErrEmptyInviteCode
	}

	sanitized := v.Sanitize(code)

	if !inviteCodeRegex.MatchString(sanitized) {
		return "", ErrInvalidInviteCodeFormat
	}

	if len(sanitized) != InviteCodeLength {
		return "", ErrInvalidInviteCodeLength
	}

	return sanitized, nil
}

// Sanitize upper-cases the code and strips spaces and dashes
func (v *InviteCodeValidator) Sanitize(code string) string {
	code = strings.ReplaceAll(code, " ", "")
	code = strings.ReplaceAll(code, "-", "")
	return strings.ToUpper(code)
}

// IsValid is a convenience method that returns true if the code is valid
func (v *InviteCodeValidator) IsValid(code string) bool {
	_, err := v.Validate(code)
	return err == nil
}

// Generate draws a random code from InviteCodeAlphabet
func (v *InviteCodeValidator) Generate() (string, error) {
	max := big.NewInt(int64(len(InviteCodeAlphabet)))
	code := make([]byte, InviteCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = InviteCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}
