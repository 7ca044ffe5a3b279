// Package catalog records completed uploads in a BadgerDB database so the
// receiving side can list what it has persisted and extracted.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"chunkup/internal/codec"
)

const prefixUpload = "upload/"

// ErrNotFound is returned by Get for an unknown run
var ErrNotFound = errors.New("upload not found")

// Entry describes one completed run
type Entry struct {
	RunID          string    `cbor:"run_id"`
	Name           string    `cbor:"name"`
	MediaType      string    `cbor:"media_type"`
	SourceSize     int64     `cbor:"source_size"`
	CompressedSize int64     `cbor:"compressed_size"`
	ChunkCount     int       `cbor:"chunk_count"`
	Codec          string    `cbor:"codec"`
	PersistedPath  string    `cbor:"persisted_path"`
	OutputPath     string    `cbor:"output_path"`
	Digest         string    `cbor:"digest"`
	CompletedAt    time.Time `cbor:"completed_at"`
}

// Store is a catalog backed by BadgerDB
type Store struct {
	db *badgerdb.DB
}

// Open opens or creates a catalog at dir. An empty dir opens an
// in-memory catalog.
func Open(dir string) (*Store, error) {
	opts := badgerdb.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores e under its run id, replacing any previous entry
func (s *Store) Put(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.RunID == "" {
		return fmt.Errorf("catalog entry has no run id")
	}
	data, err := codec.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", e.RunID, err)
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(prefixUpload+e.RunID), data)
	})
}

// Get returns the entry for runID
func (s *Store) Get(ctx context.Context, runID string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var e Entry
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(prefixUpload + runID))
		if err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return codec.Unmarshal(val, &e)
		})
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// List returns every entry, oldest completion first
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var entries []Entry
	err := s.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixUpload)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e Entry
			err := it.Item().Value(func(val []byte) error {
				return codec.Unmarshal(val, &e)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CompletedAt.Before(entries[j].CompletedAt)
	})
	return entries, nil
}
