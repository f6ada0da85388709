package utils

import (
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// IsValidEmail applies the same loose check the redemption form uses.
func IsValidEmail(email string) bool {
	return emailRe.MatchString(strings.TrimSpace(email))
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserKeyFromEmail derives the user row key from an email address. The
// encoding is reversible with EmailFromUserKey.
func UserKeyFromEmail(email string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(NormalizeEmail(email)))
}

func EmailFromUserKey(key string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return "", err
	}
	email := string(b)
	if !IsValidEmail(email) {
		return "", errors.New("user key does not encode an email address")
	}
	return email, nil
}
