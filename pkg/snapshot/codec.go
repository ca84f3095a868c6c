// Package snapshot stores fetched record sets as compressed blobs with an
// expiry, behind a pluggable key-value backend.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/eunmann/opendata-ingest/pkg/fetch"
	"github.com/klauspost/compress/zstd"
)

// Snapshot blob format:
//
// Header (16 bytes):
//   Magic:   4 bytes (0x50414E53 = "SNAP")
//   Version: 4 bytes
//   Count:   8 bytes (number of records)
//
// Body: zstd compressed JSON array of records.

const (
	snapshotMagic   = 0x50414E53
	snapshotVersion = 1
	headerSize      = 16
)

var (
	// ErrMagicMismatch indicates a blob that is not a snapshot.
	ErrMagicMismatch = errors.New("magic number mismatch")
	// ErrVersionMismatch indicates an unsupported snapshot version.
	ErrVersionMismatch = errors.New("unsupported snapshot version")
	// ErrTruncated indicates a blob shorter than its header.
	ErrTruncated = errors.New("truncated snapshot")
)

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func initCodec() error {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil)
	})
	return codecErr
}

// Encode serializes and compresses records.
func Encode(records []fetch.Record) ([]byte, error) {
	blob, _, err := encode(records)
	return blob, err
}

// encode returns the snapshot blob and the uncompressed JSON size.
func encode(records []fetch.Record) ([]byte, int, error) {
	if err := initCodec(); err != nil {
		return nil, 0, fmt.Errorf("init zstd: %w", err)
	}
	if records == nil {
		records = []fetch.Record{}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal records: %w", err)
	}

	header := make([]byte, headerSize, headerSize+len(raw)/4)
	binary.LittleEndian.PutUint32(header[0:4], snapshotMagic)
	binary.LittleEndian.PutUint32(header[4:8], snapshotVersion)
	binary.LittleEndian.PutUint64(header[8:16], uint64(len(records)))
	return encoder.EncodeAll(raw, header), len(raw), nil
}

// Decode reverses Encode. Numbers decode as json.Number.
func Decode(blob []byte) ([]fetch.Record, error) {
	if err := initCodec(); err != nil {
		return nil, fmt.Errorf("init zstd: %w", err)
	}
	if len(blob) < headerSize {
		return nil, ErrTruncated
	}
	if binary.LittleEndian.Uint32(blob[0:4]) != snapshotMagic {
		return nil, ErrMagicMismatch
	}
	if v := binary.LittleEndian.Uint32(blob[4:8]); v != snapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersionMismatch, v)
	}
	count := binary.LittleEndian.Uint64(blob[8:16])

	raw, err := decoder.DecodeAll(blob[headerSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}

	var records []fetch.Record
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("unmarshal records: %w", err)
	}
	if uint64(len(records)) != count {
		return nil, fmt.Errorf("record count %d, header says %d", len(records), count)
	}
	return records, nil
}
