package kv

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// buckets are the three keyspaces every bbolt-backed Store opens on creation.
var buckets = []string{BucketDefault, BucketAlias, BucketFilename}

// BoltStore is a Store backed by a single bbolt database file. Buckets map
// 1:1 onto the spec's keyspaces; bbolt's own transaction model gives atomic
// multi-bucket updates and a single-writer-at-a-time guarantee, so no
// additional in-process locking is layered on top.
type BoltStore struct {
	db *bolt.DB
}

// Open creates (if needed) and opens the index database at
// <dataRoot>/db/index.db, creating every required bucket on first run.
func Open(dataRoot string) (*BoltStore, error) {
	dbDir := filepath.Join(dataRoot, "db")
	if err := os.MkdirAll(dbDir, 0o750); err != nil {
		return nil, fmt.Errorf("kv: create db dir %q: %w", dbDir, err)
	}

	db, err := bolt.Open(filepath.Join(dbDir, "index.db"), 0o640, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("kv: open bbolt: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("kv: create bucket %q: %w", name, err)
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

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) Get(keyspace string, key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keyspace))
		if b == nil {
			return fmt.Errorf("kv: unknown keyspace %q", keyspace)
		}
		v := b.Get(key)
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...) // bbolt reuses the backing page; copy out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) Put(keyspace string, key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keyspace))
		if b == nil {
			return fmt.Errorf("kv: unknown keyspace %q", keyspace)
		}
		return b.Put(key, value)
	})
}

func (s *BoltStore) Delete(keyspace string, key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keyspace))
		if b == nil {
			return fmt.Errorf("kv: unknown keyspace %q", keyspace)
		}
		return b.Delete(key)
	})
}

func (s *BoltStore) CAS(keyspace string, key, old, new []byte) (bool, error) {
	var ok bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keyspace))
		if b == nil {
			return fmt.Errorf("kv: unknown keyspace %q", keyspace)
		}
		cur := b.Get(key)
		switch {
		case old == nil && cur != nil:
			return nil // insert-only CAS against an existing key: mismatch
		case old != nil && !bytes.Equal(cur, old):
			return nil
		}
		ok = true
		if new == nil {
			return b.Delete(key)
		}
		return b.Put(key, new)
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (s *BoltStore) NextID(keyspace string) (uint64, error) {
	var id uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keyspace))
		if b == nil {
			return fmt.Errorf("kv: unknown keyspace %q", keyspace)
		}
		var err error
		id, err = b.NextSequence()
		return err
	})
	return id, err
}

// Scan walks [lower, upper) in key order, calling fn for each row. A nil
// upper means unbounded: the scan runs to the end of the keyspace.
func (s *BoltStore) Scan(keyspace string, lower, upper []byte, fn func(key, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keyspace))
		if b == nil {
			return fmt.Errorf("kv: unknown keyspace %q", keyspace)
		}
		c := b.Cursor()
		for k, v := c.Seek(lower); k != nil && (upper == nil || bytes.Compare(k, upper) < 0); k, v = c.Next() {
			if err := fn(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Update(fn func(txn Txn) (any, error)) (any, error) {
	var result any
	err := s.db.Update(func(tx *bolt.Tx) error {
		t := &boltTxn{tx: tx}
		r, err := fn(t)
		result = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// boltTxn adapts a live *bolt.Tx to the Txn interface for the duration of a
// single Update call.
type boltTxn struct {
	tx *bolt.Tx
}

func (t *boltTxn) bucket(keyspace string) (*bolt.Bucket, error) {
	b := t.tx.Bucket([]byte(keyspace))
	if b == nil {
		return nil, fmt.Errorf("kv: unknown keyspace %q", keyspace)
	}
	return b, nil
}

func (t *boltTxn) Get(keyspace string, key []byte) ([]byte, error) {
	b, err := t.bucket(keyspace)
	if err != nil {
		return nil, err
	}
	v := b.Get(key)
	if v == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (t *boltTxn) Put(keyspace string, key, value []byte) error {
	b, err := t.bucket(keyspace)
	if err != nil {
		return err
	}
	return b.Put(key, value)
}

func (t *boltTxn) Delete(keyspace string, key []byte) error {
	b, err := t.bucket(keyspace)
	if err != nil {
		return err
	}
	return b.Delete(key)
}

func (t *boltTxn) NextID(keyspace string) (uint64, error) {
	b, err := t.bucket(keyspace)
	if err != nil {
		return 0, err
	}
	return b.NextSequence()
}

func (t *boltTxn) Scan(keyspace string, lower, upper []byte, fn func(key, value []byte) error) error {
	b, err := t.bucket(keyspace)
	if err != nil {
		return err
	}
	c := b.Cursor()
	for k, v := c.Seek(lower); k != nil && (upper == nil || bytes.Compare(k, upper) < 0); k, v = c.Next() {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}
