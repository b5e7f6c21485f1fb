package domain

import "github.com/google/uuid"

// NewID returns a fresh random id.
func NewID() string { return uuid.NewString() }

// NormalizeID parses raw as a UUID and returns its canonical lowercase form.
func NormalizeID(raw string) (string, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", false
	}
	return id.String(), true
}
