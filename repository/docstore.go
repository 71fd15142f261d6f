package repository

import "context"

// Document is one uniquely-keyed record in a collection, field name to value.
type Document = map[string]any

// Snapshot is the full current result set of a query, keyed by document ID.
type Snapshot = map[string]Document

// Filter restricts a query or watch to documents whose fields match Equals
// and differ from NotEquals. A zero Filter matches everything.
type Filter struct {
	Equals    map[string]any
	NotEquals map[string]any
}

// CancelFunc detaches a watch. It returns only after delivery has stopped:
// no callback runs once Cancel has returned.
type CancelFunc func()

// Tx exposes the operations available inside a transaction body. All reads
// must be issued before the first write so the store can validate the read
// set at commit time.
type Tx interface {
	// Get returns the document, or ErrNotFound if it does not exist. An
	// absent read is still part of the read set: a concurrent creation of
	// the same document conflicts with this transaction.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Set writes the document. With merge the given fields are folded into
	// the existing document; without it the document is replaced (and
	// created when absent).
	Set(ctx context.Context, collection, id string, fields Document, merge bool) error

	// Increment adds delta to a numeric field server-side. Concurrent
	// increments of the same field compose; they are never lost to
	// read-modify-write races.
	Increment(ctx context.Context, collection, id, field string, delta int64) error
}

// DocumentStore is the capability this service requires from the underlying
// document database: point reads and writes, filtered queries, change
// notification, and an atomic read-then-write transaction primitive with
// conflict detection.
type DocumentStore interface {
	// AllocateID returns a new unique document ID without touching the
	// store, so identifiers can be fixed before the atomic section begins.
	AllocateID() string

	Get(ctx context.Context, collection, id string) (Document, error)
	Set(ctx context.Context, collection, id string, fields Document, merge bool) error
	Query(ctx context.Context, collection string, filter Filter) (Snapshot, error)

	// Watch invokes onChange with the full current snapshot of the filtered
	// collection, first immediately and then after every commit that touches
	// the collection. Successive snapshots are monotonic: each reflects a
	// state at least as new as the previous one.
	Watch(ctx context.Context, collection string, filter Filter, onChange func(Snapshot)) (CancelFunc, error)

	// RunTransaction executes fn exactly once against a transaction scope.
	// All writes fn issues become visible atomically on success. When a
	// concurrent commit invalidates fn's read set the error wraps
	// ErrConflict and the caller may retry with a fresh attempt; retry
	// policy belongs to the caller, not the store.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
