package storage

import (
	"errors"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// Common storage errors.
var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when a create hits an existing key.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrRevisionConflict is returned when a compare-and-swap update lost
	// the race to a concurrent writer.
	ErrRevisionConflict = errors.New("revision conflict")
)

func isNotFound(err error) bool {
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrObjectNotFound) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "not found")
}

func isAlreadyExists(err error) bool {
	return errors.Is(err, jetstream.ErrKeyExists)
}

// isRevisionConflict detects a lost CAS update. The server reports this as
// a wrong-last-sequence error without an exported sentinel.
func isRevisionConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "wrong last sequence")
}
