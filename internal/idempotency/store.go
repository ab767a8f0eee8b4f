// Package idempotency remembers the outcome of mutating requests by their
// Idempotency-Key so a client retry replays the original response instead of
// charging or creating twice.
package idempotency

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
)

const bucketName = "idempotency_keys"

// Record states.
const (
	StateInFlight  = "in_flight"
	StateCompleted = "completed"
)

var ErrNotReserved = errors.New("idempotency key not reserved")

type Record struct {
	State       string    `json:"state"`
	RequestHash string    `json:"request_hash"`
	Status      int       `json:"status,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Body        []byte    `json:"body,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is a BoltDB file holding one Record per scoped key.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and ensures the bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open idempotency store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Reserve claims key for a new request. When the key is already known the
// stored record is returned with reserved == false and nothing is written.
func (s *Store) Reserve(key, requestHash string) (*Record, bool, error) {
	var existing *Record
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if v := b.Get([]byte(key)); v != nil {
			existing = &Record{}
			return json.Unmarshal(v, existing)
		}
		data, err := json.Marshal(Record{State: StateInFlight, RequestHash: requestHash, CreatedAt: s.now().UTC()})
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return nil, false, err
	}
	return existing, existing == nil, nil
}

// Complete stores the response for a reserved key.
func (s *Store) Complete(key string, status int, contentType string, body []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotReserved
		}
		var rec Record
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		rec.State = StateCompleted
		rec.Status = status
		rec.ContentType = contentType
		rec.Body = body
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

// Release forgets key so the request may be retried. Releasing an unknown
// key is not an error.
func (s *Store) Release(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(key))
	})
}

// Prune deletes records older than maxAge and returns how many were removed.
func (s *Store) Prune(maxAge time.Duration) (int, error) {
	cutoff := s.now().UTC().Add(-maxAge)
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.CreatedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}
