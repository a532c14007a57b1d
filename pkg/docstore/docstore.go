// Package docstore abstracts the document database the chat client is
// built on: keyed JSON documents grouped into collections, cursor
// pagination over a server-assigned creation timestamp, and a live
// change feed delivering added/modified/removed batches.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound indicates a referenced document is absent.
var ErrNotFound = errors.New("document not found")

// Document is one stored record. CreatedAt is assigned by the store at
// write time and drives all ordering; Data holds the document payload.
type Document struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt *time.Time      `json:"updatedAt,omitempty"`
}

// Order selects the traversal direction of a page query.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// ChangeKind tags one record of a change batch.
type ChangeKind string

const (
	Added    ChangeKind = "added"
	Modified ChangeKind = "modified"
	Removed  ChangeKind = "removed"
)

// Change is one document-level event.
type Change struct {
	Kind ChangeKind `json:"kind"`
	Doc  Document   `json:"doc"`
}

// Batch groups the changes delivered by one feed notification. Batches
// are consumed sequentially; records within a batch may be processed
// concurrently but must be applied in one sweep.
type Batch []Change

// Mutate transforms a document during a Patch round trip.
type Mutate func(Document) (Document, error)

// Store is the persisted side of the collaborator.
type Store interface {
	// Put writes doc under col, assigning CreatedAt when unset.
	Put(ctx context.Context, col string, doc Document) (Document, error)
	// Patch applies mutate to the current document atomically with
	// respect to other patches of the same document.
	Patch(ctx context.Context, col, id string, mutate Mutate) (Document, error)
	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, col, id string) (Document, error)
	// Delete removes the document. Deleting an absent document is not
	// an error.
	Delete(ctx context.Context, col, id string) error
	// Page returns up to limit documents of col ordered by CreatedAt,
	// strictly beyond startAfter when it is non-nil. An empty result
	// means the direction is exhausted.
	Page(ctx context.Context, col string, order Order, startAfter *Document, limit int) ([]Document, error)
}

// Feed is the change-notification side. Subscribe returns a channel of
// batches for one collection plus a stop function; the channel closes
// after stop or context cancellation.
type Feed interface {
	Subscribe(ctx context.Context, col string) (<-chan Batch, func(), error)
}

// Publisher pushes change batches into a Feed transport. Store
// implementations that persist out of process publish through one.
type Publisher interface {
	Publish(ctx context.Context, col string, batch Batch) error
}

// LiveQuerier opens a bounded live window over a collection: an
// initial batch of the limit most-recent documents (as Added changes,
// newest first) followed by incremental change batches.
type LiveQuerier interface {
	LiveQuery(ctx context.Context, col string, limit int) (<-chan Batch, func(), error)
}
