package kv

import "errors"

// ErrNotFound is returned by Get and CAS-style callers when a key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// ErrCASMismatch names a compare-and-swap mismatch. Store.CAS does not return
// it: CAS reports a mismatch as (false, nil).
var ErrCASMismatch = errors.New("kv: compare-and-swap mismatch")

// Store is the ordered, byte-keyed key/value abstraction the core requires:
// point get/put/remove, prefix range scans, compare-and-swap, a monotonic id
// generator per keyspace, and atomic multi-keyspace transactions.
//
// Implementations must serialize concurrent mutations internally — callers
// never take an external lock.
type Store interface {
	// Get returns the value for key in keyspace, or ErrNotFound.
	Get(keyspace string, key []byte) ([]byte, error)

	// Put unconditionally sets key to value in keyspace.
	Put(keyspace string, key, value []byte) error

	// Delete removes key from keyspace. It is not an error if key is absent;
	// callers that need to know whether a row existed should Get first or
	// use a transaction (Update) to observe-then-delete atomically.
	Delete(keyspace string, key []byte) error

	// CAS performs a compare-and-swap on key in keyspace.
	//
	//   old == nil  → key must not currently exist ("insert" semantics).
	//   old != nil  → key must currently equal old.
	//   new == nil  → key is deleted on match.
	//
	// Returns (true, nil) on success, (false, nil) on mismatch (the current
	// value, if any, is unchanged), or a non-nil error on an IO failure.
	CAS(keyspace string, key, old, new []byte) (bool, error)

	// NextID returns a freshly allocated, monotonically increasing 64-bit id
	// scoped to keyspace. Ids persist across restarts.
	NextID(keyspace string) (uint64, error)

	// Scan performs an ordered forward range scan over [lower, upper) in
	// keyspace, calling fn for every matching row in key order. Scan stops
	// and returns fn's error if fn returns non-nil.
	Scan(keyspace string, lower, upper []byte, fn func(key, value []byte) error) error

	// Update runs fn inside a single atomic transaction spanning every
	// keyspace. If fn returns a non-nil error, every mutation performed via
	// txn during the call is rolled back and Update returns that error
	// unchanged (the caller's abort value propagates out verbatim).
	Update(fn func(txn Txn) (any, error)) (any, error)

	// Close flushes and releases the underlying storage.
	Close() error
}

// Txn is the subset of Store operations available inside an Update callback.
// All operations performed through Txn participate in the enclosing
// transaction and are visible to later calls within the same Txn.
type Txn interface {
	Get(keyspace string, key []byte) ([]byte, error)
	Put(keyspace string, key, value []byte) error
	Delete(keyspace string, key []byte) error
	NextID(keyspace string) (uint64, error)
	Scan(keyspace string, lower, upper []byte, fn func(key, value []byte) error) error
}
