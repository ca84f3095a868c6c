package snapshot

import (
	"context"
	"encoding/binary"
	"time"
)

// Backend is a key-value store with per-entry expiry. Get reports a missing
// or expired key as (nil, false, nil).
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// expiresAt returns the expiry for ttl; the zero time means never.
func expiresAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func expired(now, at time.Time) bool {
	return !at.IsZero() && !now.Before(at)
}

// packEntry prefixes payload with the expiry in unix nanoseconds.
func packEntry(at time.Time, payload []byte) []byte {
	buf := make([]byte, 8+len(payload))
	var nanos int64
	if !at.IsZero() {
		nanos = at.UnixNano()
	}
	binary.LittleEndian.PutUint64(buf[0:8], uint64(nanos))
	copy(buf[8:], payload)
	return buf
}

func unpackEntry(buf []byte) (time.Time, []byte, bool) {
	if len(buf) < 8 {
		return time.Time{}, nil, false
	}
	nanos := int64(binary.LittleEndian.Uint64(buf[0:8]))
	var at time.Time
	if nanos != 0 {
		at = time.Unix(0, nanos)
	}
	return at, buf[8:], true
}
