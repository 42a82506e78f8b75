package core

import (
	"context"
	"errors"
)

// ErrEventNotFound is returned when an event id is not in the store.
var ErrEventNotFound = errors.New("event not found")

// EventStore is the persistence contract for conjunction events.
// Implementations live under internal/store.
type EventStore interface {
	// FetchAll returns every stored event ordered by id.
	FetchAll(ctx context.Context) ([]Event, error)

	// Get returns a single event. The bool is false when id is unknown.
	Get(ctx context.Context, id string) (*Event, bool, error)

	// BulkUpsert writes events keyed by id, overwriting on conflict.
	// Either the whole batch is persisted or none of it is.
	BulkUpsert(ctx context.Context, events []Event) error

	// Clear removes every event.
	Clear(ctx context.Context) error
}
