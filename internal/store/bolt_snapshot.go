package store

import (
	"context"
	"time"

	bolt "github.com/boltdb/bolt"
)

const snapshotBucket = "checkout_snapshots"

// BoltSnapshotStore keeps one nested bucket per session inside a single BoltDB file.
type BoltSnapshotStore struct {
	db *bolt.DB
}

// NewBoltSnapshotStore opens (or creates) the database file and ensures the root
// bucket exists.
func NewBoltSnapshotStore(path string) (*BoltSnapshotStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(snapshotBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltSnapshotStore{db: db}, nil
}

func (s *BoltSnapshotStore) Close() error {
	return s.db.Close()
}

func (s *BoltSnapshotStore) Put(_ context.Context, sessionID, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		session, err := tx.Bucket([]byte(snapshotBucket)).CreateBucketIfNotExists([]byte(sessionID))
		if err != nil {
			return err
		}
		return session.Put([]byte(key), value)
	})
}

func (s *BoltSnapshotStore) Get(_ context.Context, sessionID, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		session := tx.Bucket([]byte(snapshotBucket)).Bucket([]byte(sessionID))
		if session == nil {
			return ErrSnapshotNotFound
		}
		v := session.Get([]byte(key))
		if v == nil {
			return ErrSnapshotNotFound
		}
		// Values are only valid for the life of the transaction.
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltSnapshotStore) DeleteSession(_ context.Context, sessionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket([]byte(snapshotBucket)).DeleteBucket([]byte(sessionID))
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}
