// Package ids centralizes identifier generation so exchanges, approvals
// and SSE clients get the same UUID format. Checkpoints and route logs use
// integer auto-increment ids from the store instead.
package ids

import "github.com/google/uuid"

// New returns a new random UUID as a string.
func New() string {
	return uuid.NewString()
}

// IsValid reports whether s parses as a UUID.
func IsValid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
