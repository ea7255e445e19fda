package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/caevv/skillq/internal/run"
)

// runsBucket holds one JSON record per run keyed by its position in the list.
const runsBucket = "runs"

// BoltStore implements the Store interface using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store at the given path.
func NewBoltStore(path string) (Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb at %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(runsBucket)); err != nil {
			return fmt.Errorf("create runs bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// positionKey encodes i big-endian so cursor order is list order.
func positionKey(i int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(i))
	return key
}

// Load returns the runs in list order.
func (s *BoltStore) Load() ([]*run.Run, error) {
	var runs []*run.Run

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(runsBucket))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			r := &run.Run{}
			if err := json.Unmarshal(v, r); err != nil {
				return fmt.Errorf("unmarshal run: %w", err)
			}
			runs = append(runs, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return validRuns(runs), nil
}

// Save replaces the runs bucket in a single transaction.
func (s *BoltStore) Save(runs []*run.Run) error {
	runs = validRuns(runs)

	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(runsBucket)) != nil {
			if err := tx.DeleteBucket([]byte(runsBucket)); err != nil {
				return fmt.Errorf("delete runs bucket: %w", err)
			}
		}
		bucket, err := tx.CreateBucket([]byte(runsBucket))
		if err != nil {
			return fmt.Errorf("create runs bucket: %w", err)
		}

		for i, r := range runs {
			data, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("marshal run %s: %w", r.ID, err)
			}
			if err := bucket.Put(positionKey(i), data); err != nil {
				return fmt.Errorf("put run %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

// Close closes the BoltDB database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
