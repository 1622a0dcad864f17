// Package generator produces identifiers for failover events.
package generator

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator yields a new value of type T on every call.
type Generator[T any] interface {
	Next() (T, error)
}

// UUIDV4Generator produces random UUIDv4 strings. It is the event id
// source in production.
type UUIDV4Generator struct{}

func (g *UUIDV4Generator) Next() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate uuid: %w", err)
	}
	return id.String(), nil
}

var _ Generator[string] = &UUIDV4Generator{}

// Sequence yields Prefix-1, Prefix-2 and so on. Safe for concurrent use.
type Sequence struct {
	Prefix string
	n      atomic.Uint64
}

func (s *Sequence) Next() (string, error) {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "event"
	}
	return fmt.Sprintf("%s-%d", prefix, s.n.Add(1)), nil
}

var _ Generator[string] = &Sequence{}
