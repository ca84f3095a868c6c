package snapshot

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var snapshotBucket = []byte("snapshots")

// BoltBackend stores snapshots in a single bbolt file. Expired entries read
// as misses and are removed on access.
type BoltBackend struct {
	db  *bolt.DB
	now func() time.Time
}

// OpenBolt opens or creates the bbolt file at path.
func OpenBolt(path string) (*BoltBackend, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltBackend{db: db, now: time.Now}, nil
}

// Get implements Backend.
func (b *BoltBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	var at time.Time
	var payload []byte
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(snapshotBucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		var p []byte
		var ok bool
		at, p, ok = unpackEntry(v)
		if !ok {
			return nil
		}
		// Values are only valid inside the transaction.
		payload = append([]byte(nil), p...)
		found = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	if !found {
		return nil, false, nil
	}
	if expired(b.now(), at) {
		if err := b.Delete(context.Background(), key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return payload, true, nil
}

// Set implements Backend.
func (b *BoltBackend) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	entry := packEntry(expiresAt(b.now(), ttl), payload)
	if err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put([]byte(key), entry)
	}); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Delete implements Backend.
func (b *BoltBackend) Delete(_ context.Context, key string) error {
	if err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Delete([]byte(key))
	}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Close implements Backend.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}
