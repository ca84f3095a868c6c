package groupindex

import (
	"fmt"
	"hash/fnv"

	"github.com/relab/bbhash"
)

// span is a half-open range of bucket positions.
type span struct {
	lo, hi int
}

// keyTable maps encoded keys to spans through a minimal perfect hash.
// Fingerprints and stored keys reject keys that were never added.
type keyTable struct {
	mph          *bbhash.BBHash2
	fingerprints []uint64
	keys         []string
	spans        []span
}

// buildKeyTable indexes distinct keys; keys[i] maps to spans[i].
func buildKeyTable(keys []string, spans []span) (*keyTable, error) {
	if len(keys) == 0 {
		return &keyTable{}, nil
	}

	hashes := make([]uint64, len(keys))
	for i, k := range keys {
		hashes[i] = hashKey(k)
	}
	mph, err := bbhash.New(hashes, bbhash.Gamma(2.0))
	if err != nil {
		return nil, fmt.Errorf("build MPHF: %w", err)
	}

	// Find is 1-indexed; slot pos-1 holds the key that maps to pos.
	t := &keyTable{
		mph:          mph,
		fingerprints: make([]uint64, len(keys)),
		keys:         make([]string, len(keys)),
		spans:        make([]span, len(keys)),
	}
	for i, k := range keys {
		pos := mph.Find(hashes[i])
		if pos == 0 {
			return nil, fmt.Errorf("MPHF lookup failed for key %q", k)
		}
		t.fingerprints[pos-1] = fingerprint(k)
		t.keys[pos-1] = k
		t.spans[pos-1] = spans[i]
	}
	return t, nil
}

// lookup returns the span stored for key.
func (t *keyTable) lookup(key string) (span, bool) {
	if t.mph == nil {
		return span{}, false
	}
	pos := t.mph.Find(hashKey(key))
	if pos == 0 || pos > uint64(len(t.keys)) {
		return span{}, false
	}
	i := pos - 1
	if t.fingerprints[i] != fingerprint(key) || t.keys[i] != key {
		return span{}, false
	}
	return t.spans[i], true
}

func hashKey(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// fingerprint uses a second hash so MPHF collisions are caught.
func fingerprint(s string) uint64 {
	h := fnv.New64()
	h.Write([]byte(s))
	return h.Sum64()
}
