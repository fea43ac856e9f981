// Package kv abstracts the key-value store backing users, clients, codes,
// refresh tokens, and login sessions. Records are plain structs with json
// tags naming their stored attributes; the backend owns (de)serialization.
package kv

import "context"

// Table identifies a logical table and the attribute holding its primary key.
type Table struct {
	Name string
	Key  string
}

// Index identifies a secondary index and the attribute it is keyed on.
type Index struct {
	Name string
	Attr string
}

// Backend is the minimal store contract the server depends on.
//
// Take is the redemption primitive: it deletes the record and returns its
// prior value in one atomic step, so two callers racing on the same key can
// never both observe the record. Implementations must not emulate it with a
// separate read and delete.
type Backend interface {
	// Get loads the record at key into out. Returns false when absent.
	Get(ctx context.Context, t Table, key string, out any) (bool, error)

	// Put stores item under key, replacing any existing record.
	Put(ctx context.Context, t Table, key string, item any) error

	// Delete removes the record at key. Deleting an absent key is not an error.
	Delete(ctx context.Context, t Table, key string) error

	// Take atomically deletes the record at key and decodes its prior value
	// into out. Returns false when the record did not exist.
	Take(ctx context.Context, t Table, key string, out any) (bool, error)

	// QueryIndex loads the first record whose indexed attribute equals value.
	// Returns false when no record matches.
	QueryIndex(ctx context.Context, t Table, idx Index, value string, out any) (bool, error)
}
