package utils

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUIDv4 for code, operation log and campaign rows.
func NewID() string {
	return uuid.NewString()
}

// CanonicalID parses any UUID spelling uuid.Parse accepts (upper case,
// braces, urn prefix) and returns the lower-case hyphenated form row ids are
// stored in.
func CanonicalID(raw string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid id %q: %w", raw, err)
	}
	return id.String(), nil
}
