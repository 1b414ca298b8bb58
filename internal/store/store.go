// Package store defines the record-store boundary the automation engine
// depends on: document CRUD over named collections plus an in-process change
// feed. Delivery is best-effort with no durable cursor: events emitted while
// no subscriber is attached (or while the process is down) are not replayed.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("store: document not found")

// Record is one document's fields.
type Record map[string]interface{}

// ChangeType is the kind of mutation a change event describes.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChangeEvent is delivered to subscribers for every mutation of a watched
// collection. Data is the full document after the mutation (the last known
// state for deletes).
type ChangeEvent struct {
	Collection string
	Type       ChangeType
	ID         string
	Data       Record
}

// Handler receives change events. Handlers may be invoked concurrently from
// different writer goroutines and must not assume any cross-event ordering.
type Handler func(ChangeEvent)

// UnsubscribeFunc detaches a subscription. Safe to call more than once.
type UnsubscribeFunc func()

// Document wraps a record with its storage envelope.
type Document struct {
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	Data       Record    `json:"data"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ListOptions paginate collection listings, newest first, with the last-seen
// CreatedAt as cursor.
type ListOptions struct {
	CreatedBefore *time.Time
	Limit         int
}

// RecordStore is the document-store capability the engine consumes. Update
// merges the given fields into the existing document (document-database patch
// semantics); the emitted change event carries the merged document.
type RecordStore interface {
	Get(ctx context.Context, collection, id string) (Record, error)
	Create(ctx context.Context, collection, id string, data Record) error
	Update(ctx context.Context, collection, id string, data Record) error
	Delete(ctx context.Context, collection, id string) error
	List(ctx context.Context, collection string, opts ListOptions) ([]Document, error)
	Subscribe(collection string, fn Handler) UnsubscribeFunc
}
