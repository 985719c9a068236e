// Package store holds the authoritative id → text mapping for indexed
// records. The search path only reads display names from it; the indexing
// pipeline writes derived n-grams back so an external database can serve
// overlap queries itself.
package store

import "context"

// Record is one searchable row. Ngrams is always derived from Text.
type Record struct {
	ID     string
	Text   string
	Ngrams []string
}

// Store is implemented by MemoryStore and PostgresStore.
type Store interface {
	// Put records the text and n-grams of a record, creating it if needed.
	Put(ctx context.Context, rec Record) error
	// Delete removes a record. Unknown ids are not an error.
	Delete(ctx context.Context, id string) error
	// Names resolves ids to display text. Unknown ids are omitted.
	Names(ctx context.Context, ids []string) (map[string]string, error)
	// Scan calls fn for every record in storage order.
	Scan(ctx context.Context, fn func(Record) error) error
}
