package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when no record has the requested id.
	ErrNotFound = errors.New("request message not found")
	// ErrUnavailable is returned when the backing store can't be reached.
	ErrUnavailable = errors.New("storage unavailable")
)

// Store defines the interface for persisting request messages
type Store interface {
	// Get returns a copy of the record, or ErrNotFound.
	Get(ctx context.Context, id string) (*RequestMessage, error)
	// Put inserts or overwrites the record keyed by msg.ID.
	Put(ctx context.Context, msg *RequestMessage) error
	// Delete removes the record. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	Count(ctx context.Context) (int, error)

	// Health check
	Ping(ctx context.Context) error
	Close() error
}
