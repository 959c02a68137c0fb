// Package id generates the public UUIDs carried by addressable resources.
package id

import (
	"github.com/google/uuid"
)

// ID is the public identifier of a resource (resource_uuid in grants).
type ID = uuid.UUID

// New generates a time-ordered UUIDv7, falling back to v4.
func New() ID {
	v, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return v
}

// Parse converts string to ID with validation.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// MustParse converts string to ID, panics on error. Tests and constants only.
func MustParse(s string) ID {
	return uuid.MustParse(s)
}

// IsNil checks if ID is zero-value.
func IsNil(v ID) bool {
	return v == uuid.Nil
}
