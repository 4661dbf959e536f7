package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/burrow/pkg/errdefs"
)

var (
	// Bucket names
	bucketTables = []byte("tables")
	bucketBlobs  = []byte("blobs")
)

// BoltStore implements Store using BoltDB. Each table is a nested bucket of
// the tables bucket.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store in dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "burrow.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTables, bucketBlobs} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func tableBucket(tx *bolt.Tx, table string) *bolt.Bucket {
	return tx.Bucket(bucketTables).Bucket([]byte(table))
}

func tableNotFound(op, table string) error {
	return errdefs.NotFound(op, "table %s not found", table)
}

// Table operations
func (s *BoltStore) CreateTable(_ context.Context, table string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.Bucket(bucketTables).CreateBucketIfNotExists([]byte(table)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}
		return nil
	})
}

func (s *BoltStore) DeleteTable(_ context.Context, table string) (bool, error) {
	deleted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(bucketTables).DeleteBucket([]byte(table))
		switch {
		case err == nil:
			deleted = true
			return nil
		case errors.Is(err, bolt.ErrBucketNotFound):
			return nil
		default:
			return fmt.Errorf("failed to delete table %s: %w", table, err)
		}
	})
	return deleted, err
}

func (s *BoltStore) TableExists(_ context.Context, table string) (bool, error) {
	exists := false
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tableBucket(tx, table) != nil
		return nil
	})
	return exists, err
}

// Row operations
func (s *BoltStore) InsertRow(_ context.Context, table, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tableBucket(tx, table)
		if b == nil {
			return tableNotFound("insert row", table)
		}
		if b.Get([]byte(key)) != nil {
			return errdefs.Conflict("insert row", "row %s already exists in table %s", key, table)
		}
		return b.Put([]byte(key), value)
	})
}

func (s *BoltStore) UpdateRow(_ context.Context, table, key string, fn UpdateFunc) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tableBucket(tx, table)
		if b == nil {
			return tableNotFound("update row", table)
		}
		current := b.Get([]byte(key))
		if current == nil {
			return errdefs.NotFound("update row", "row %s not found in table %s", key, table)
		}
		// current is only valid for the life of the transaction
		next, err := fn(append([]byte(nil), current...))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), next)
	})
}

func (s *BoltStore) GetRow(_ context.Context, table, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tableBucket(tx, table)
		if b == nil {
			return tableNotFound("get row", table)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return errdefs.NotFound("get row", "row %s not found in table %s", key, table)
		}
		value = append([]byte(nil), data...)
		return nil
	})
	return value, err
}

func (s *BoltStore) ListRows(_ context.Context, table string) ([]Row, error) {
	var rows []Row
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tableBucket(tx, table)
		if b == nil {
			return tableNotFound("list rows", table)
		}
		return b.ForEach(func(k, v []byte) error {
			rows = append(rows, Row{Key: string(k), Value: append([]byte(nil), v...)})
			return nil
		})
	})
	return rows, err
}

// Blob operations
func (s *BoltStore) PutBlob(_ context.Context, key string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlobs).Put([]byte(key), data)
	})
}

func (s *BoltStore) GetBlob(_ context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlobs).Get([]byte(key))
		if v == nil {
			return errdefs.NotFound("get blob", "blob %s not found", key)
		}
		data = append([]byte(nil), v...)
		return nil
	})
	return data, err
}

func (s *BoltStore) DeleteBlob(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlobs).Delete([]byte(key))
	})
}
