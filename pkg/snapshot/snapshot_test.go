package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/eunmann/opendata-ingest/internal/logctx"
	"github.com/eunmann/opendata-ingest/pkg/fetch"
	"github.com/eunmann/opendata-ingest/pkg/metrics"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func sampleRecords() []fetch.Record {
	return []fetch.Record{
		{"서비스ID": "A1", "조회수": json.Number("12"), "nested": map[string]any{"k": "v"}},
		{"서비스ID": "B2", "조회수": nil, "list": []any{"x", json.Number("1.5")}},
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	blob, err := Encode(sampleRecords())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(sampleRecords(), got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestCodec_Corrupt(t *testing.T) {
	blob, err := Encode(sampleRecords())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tests := []struct {
		name string
		blob []byte
		want error
	}{
		{"truncated", blob[:8], ErrTruncated},
		{"bad_magic", append([]byte("XXXX"), blob[4:]...), ErrMagicMismatch},
		{"bad_body", append(append([]byte(nil), blob[:headerSize]...), []byte("not zstd")...), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.blob)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	bolt, err := OpenBolt(filepath.Join(t.TempDir(), "snap.db"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() { bolt.Close() })
	return map[string]Backend{
		"bolt":   bolt,
		"memory": NewMemory(8),
		"s3":     NewS3(newFakeS3(), "bucket", "snapshots"),
	}
}

func TestCache_SetGet(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c := NewCache(b, Config{KeyPrefix: "test:"}, nil)

			if _, ok := c.Get(ctx, "/gov24/v3/serviceList"); ok {
				t.Fatal("hit on empty cache")
			}
			if err := c.Set(ctx, "/gov24/v3/serviceList", sampleRecords(), 0); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, ok := c.Get(ctx, "/gov24/v3/serviceList")
			if !ok {
				t.Fatal("miss after Set")
			}
			if diff := cmp.Diff(sampleRecords(), got); diff != "" {
				t.Errorf("Get mismatch (-want +got):\n%s", diff)
			}
			if _, ok := c.Get(ctx, "/gov24/v3/serviceDetail"); ok {
				t.Error("hit for a different path")
			}

			if err := c.Delete(ctx, "/gov24/v3/serviceList"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, ok := c.Get(ctx, "/gov24/v3/serviceList"); ok {
				t.Error("hit after Delete")
			}
		})
	}
}

func TestCache_SetLogsSizeAndRatio(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	ctx := logctx.WithLogger(context.Background(), zerolog.New(&buf))
	c := NewCache(NewMemory(4), Config{KeyPrefix: "p:"}, nil)
	if err := c.Set(ctx, "/x", sampleRecords(), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		`"event":"phase_completed"`,
		`"phase":"cache"`,
		`"key":"p:/x"`,
		`"records":2`,
		`"bytes":`,
		`"ratio":"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %s", want, out)
		}
	}
}

func TestCache_ExpiryIsMiss(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	bolt, err := OpenBolt(filepath.Join(t.TempDir(), "snap.db"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	defer bolt.Close()
	bolt.now = clock
	mem := NewMemory(4)
	mem.now = clock
	s3b := NewS3(newFakeS3(), "bucket", "")
	s3b.now = clock

	for name, b := range map[string]Backend{"bolt": bolt, "memory": mem, "s3": s3b} {
		t.Run(name, func(t *testing.T) {
			c := NewCache(b, Config{}, nil)
			if err := c.Set(ctx, "k", sampleRecords(), time.Hour); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if _, ok := c.Get(ctx, "k"); !ok {
				t.Fatal("miss before expiry")
			}
		})
	}

	now = now.Add(2 * time.Hour)
	for name, b := range map[string]Backend{"bolt": bolt, "memory": mem, "s3": s3b} {
		t.Run(name+"_expired", func(t *testing.T) {
			c := NewCache(b, Config{}, nil)
			if _, ok := c.Get(ctx, "k"); ok {
				t.Error("hit after expiry")
			}
		})
	}
}

func TestMemory_ForcedExpire(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory(4)
	c := NewCache(mem, Config{}, nil)
	if err := c.Set(ctx, "k", sampleRecords(), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mem.Expire("k")
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("hit after Expire")
	}
	if mem.Len() != 0 {
		t.Errorf("Len = %d after expired read, want 0", mem.Len())
	}
}

func TestMemory_EvictsLRU(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory(2)
	for _, k := range []string{"a", "b", "c"} {
		if err := mem.Set(ctx, k, []byte(k), 0); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	if _, ok, _ := mem.Get(ctx, "a"); ok {
		t.Error("oldest entry not evicted")
	}
	if _, ok, _ := mem.Get(ctx, "c"); !ok {
		t.Error("newest entry missing")
	}
}

func TestCache_CorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory(4)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := NewCache(mem, Config{KeyPrefix: "p:"}, m)

	if err := mem.Set(ctx, "p:/x", []byte("garbage"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok := c.Get(ctx, "/x"); ok {
		t.Fatal("corrupt entry returned as hit")
	}
	if got := testutil.ToFloat64(m.CacheRequests.WithLabelValues(metrics.CacheCorrupt)); got != 1 {
		t.Errorf("corrupt counter = %v, want 1", got)
	}
}

func TestCache_LastWriterWins(t *testing.T) {
	ctx := context.Background()
	c := NewCache(NewMemory(4), Config{}, nil)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Set(ctx, "k", []fetch.Record{{"i": json.Number(string(rune('0' + i)))}}, 0)
		}()
	}
	wg.Wait()

	got, ok := c.Get(ctx, "k")
	if !ok || len(got) != 1 {
		t.Fatalf("Get = %v, %v; want one complete snapshot", got, ok)
	}
}

// fakeS3 is an in-memory ObjectAPI.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

type fakeObject struct {
	body []byte
	meta map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.body)), Metadata: obj.meta}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Bucket+"/"+*in.Key] = fakeObject{body: body, meta: in.Metadata}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}
