package storage

import (
	"context"
)

// Row is one keyed row of a table
type Row struct {
	Key   string
	Value []byte
}

// UpdateFunc computes a row's new value from its current one
type UpdateFunc func(current []byte) ([]byte, error)

// TableStore is a set of named tables of keyed rows. Tables are created and
// deleted as a whole; there is no per-row delete.
type TableStore interface {
	// CreateTable creates a table. Creating an existing table is a no-op.
	CreateTable(ctx context.Context, table string) error

	// DeleteTable removes a table and its rows and reports whether it existed
	DeleteTable(ctx context.Context, table string) (bool, error)

	TableExists(ctx context.Context, table string) (bool, error)

	// InsertRow adds a row, failing with a Conflict if the key is taken
	InsertRow(ctx context.Context, table, key string, value []byte) error

	// UpdateRow rewrites an existing row, failing with NotFound if absent
	UpdateRow(ctx context.Context, table, key string, fn UpdateFunc) error

	GetRow(ctx context.Context, table, key string) ([]byte, error)

	// ListRows returns every row of a table sorted by key
	ListRows(ctx context.Context, table string) ([]Row, error)
}

// BlobStore holds opaque blobs by key
type BlobStore interface {
	PutBlob(ctx context.Context, key string, data []byte) error
	GetBlob(ctx context.Context, key string) ([]byte, error)
	DeleteBlob(ctx context.Context, key string) error
}

// Store is a table and blob store backend
type Store interface {
	TableStore
	BlobStore
	Close() error
}
