// Package uuid wraps google/uuid so identifiers across the service are
// time-ordered (v7) and share one import.
package uuid

import (
	guuid "github.com/google/uuid"
)

// UUID is a 128 bit identifier.
type UUID = guuid.UUID

// Nil is the zero UUID.
var Nil = guuid.Nil

// New returns a new time-ordered UUID. It panics only if the system random
// source fails.
func New() UUID { return guuid.Must(guuid.NewV7()) }

// Parse decodes s into a UUID.
func Parse(s string) (UUID, error) { return guuid.Parse(s) }

// MustParse is like Parse but panics if s cannot be parsed.
func MustParse(s string) UUID { return guuid.MustParse(s) }
