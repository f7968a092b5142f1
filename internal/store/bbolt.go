// Package store provides bbolt-based persistence for recipes, revisions,
// approval requests, enabled states and actions. Every logical operation
// runs inside a single bbolt transaction; write transactions are serialized
// by bbolt, so a read-check-write inside Update cannot interleave with
// another writer.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Sentinel errors for expected conditions.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Bucket names.
var (
	bucketRecipes          = []byte("recipes")
	bucketRevisions        = []byte("revisions")
	bucketApprovalRequests = []byte("approval_requests")
	bucketRevisionApproval = []byte("revision_approvals") // revision_id -> approval request id
	bucketEnabledStates    = []byte("enabled_states")     // "{revision_id}|{seq:020d}" -> state
	bucketActions          = []byte("actions")
	bucketActionNames      = []byte("action_names") // name -> action id
)

var allBuckets = [][]byte{
	bucketRecipes,
	bucketRevisions,
	bucketApprovalRequests,
	bucketRevisionApproval,
	bucketEnabledStates,
	bucketActions,
	bucketActionNames,
}

// Store represents the bbolt database store.
type Store struct {
	db *bolt.DB
}

// New opens or creates a bbolt database at the given path.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &Store{db: db}, nil
}

// Open opens the database and creates any missing buckets.
func Open(dbPath string) (*Store, error) {
	s, err := New(dbPath)
	if err != nil {
		return nil, err
	}
	if err := s.Initialize(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Initialize creates all required buckets.
func (s *Store) Initialize() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Tx is a transaction scoped view of the store.
type Tx struct {
	tx *bolt.Tx
}

// Update runs fn in a read-write transaction. Returning an error from fn
// rolls back every write it made.
func (s *Store) Update(fn func(*Tx) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&Tx{tx: tx})
	})
}

// View runs fn in a read-only transaction.
func (s *Store) View(fn func(*Tx) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&Tx{tx: tx})
	})
}

func (t *Tx) bucket(name []byte) (*bolt.Bucket, error) {
	b := t.tx.Bucket(name)
	if b == nil {
		return nil, fmt.Errorf("%s bucket not found", name)
	}
	return b, nil
}

func (t *Tx) get(name, key []byte, v any) error {
	b, err := t.bucket(name)
	if err != nil {
		return err
	}
	data := b.Get(key)
	if data == nil {
		return ErrNotFound
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return nil
}

func (t *Tx) put(name, key []byte, v any) error {
	b, err := t.bucket(name)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return b.Put(key, data)
}

func (t *Tx) nextID(name []byte) (int64, error) {
	b, err := t.bucket(name)
	if err != nil {
		return 0, err
	}
	seq, err := b.NextSequence()
	if err != nil {
		return 0, fmt.Errorf("next %s id: %w", name, err)
	}
	return int64(seq), nil
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}
