// Package source owns the in-memory dataset of one upstream endpoint and
// notifies dependents after every successful load.
package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eunmann/opendata-ingest/internal/logctx"
	"github.com/eunmann/opendata-ingest/pkg/dataset"
	"github.com/eunmann/opendata-ingest/pkg/fetch"
	"github.com/eunmann/opendata-ingest/pkg/logging"
)

// Loader fetches every record of an endpoint.
type Loader interface {
	Fetch(ctx context.Context, path string, params map[string]string) ([]fetch.Record, error)
}

// Snapshots is the cache a Manager reads before and writes after a fetch.
type Snapshots interface {
	Get(ctx context.Context, path string) ([]fetch.Record, bool)
	Set(ctx context.Context, path string, records []fetch.Record, ttl time.Duration) error
}

// Subscriber runs after each successful load, on the loading goroutine.
type Subscriber func(ctx context.Context) error

// Config configures a Manager.
type Config struct {
	// Path is the endpoint path; it is also the snapshot key.
	Path string
	// Params are passed to every fetch.
	Params map[string]string
	// InferLength bounds kind inference (default dataset.DefaultInferLength).
	InferLength int
	// TTL overrides the cache's default snapshot lifetime.
	TTL time.Duration
}

// Manager holds the current dataset of one endpoint. The frame is replaced
// wholesale on every load and is safe to read concurrently.
type Manager struct {
	cfg    Config
	loader Loader
	cache  Snapshots

	initMu      sync.Mutex
	frame       atomic.Pointer[dataset.Frame]
	initialized atomic.Bool
	version     atomic.Uint64

	subMu sync.Mutex
	subs  []Subscriber

	ready     chan struct{}
	readyOnce sync.Once
}

// New returns a Manager. cache may be nil to always fetch.
func New(cfg Config, loader Loader, cache Snapshots) *Manager {
	if cfg.InferLength == 0 {
		cfg.InferLength = dataset.DefaultInferLength
	}
	return &Manager{
		cfg:    cfg,
		loader: loader,
		cache:  cache,
		ready:  make(chan struct{}),
	}
}

// Init loads the dataset: from the snapshot cache unless force is set,
// otherwise from the loader, writing the result to the cache before it is
// published. Subscribers run in registration order before Init returns.
// Their errors are joined into the returned error; the load itself still
// counts as successful.
//
// Calls are serialized. A failed load leaves the manager uninitialized and
// the previous frame readable.
func (m *Manager) Init(ctx context.Context, force bool) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	ctx = logctx.WithEndpoint(ctx, m.cfg.Path)
	log := logctx.FromContext(ctx).With().Str("phase", logging.PhaseLoad).Logger()
	start := time.Now()
	m.initialized.Store(false)

	var records []fetch.Record
	origin := "cache"
	hit := false
	if !force && m.cache != nil {
		records, hit = m.cache.Get(ctx, m.cfg.Path)
	}
	if !hit {
		origin = "api"
		var err error
		records, err = m.loader.Fetch(ctx, m.cfg.Path, m.cfg.Params)
		if err != nil {
			return fmt.Errorf("load %s: %w", m.cfg.Path, err)
		}
		if m.cache != nil {
			if err := m.cache.Set(ctx, m.cfg.Path, records, m.cfg.TTL); err != nil {
				return fmt.Errorf("write snapshot %s: %w", m.cfg.Path, err)
			}
		}
	}

	frame := dataset.FromRecords(records, m.cfg.InferLength)
	m.frame.Store(frame)
	version := m.version.Add(1)
	m.initialized.Store(true)
	m.readyOnce.Do(func() { close(m.ready) })

	logging.PhaseComplete(log, logging.PhaseLoad, time.Since(start)).
		Str("origin", origin).
		Bool("forced", force).
		Count("rows", int64(frame.Len())).
		Int("columns", frame.Width()).
		Int("version", int(version)).
		Log("dataset loaded")

	m.subMu.Lock()
	subs := append([]Subscriber(nil), m.subs...)
	m.subMu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify subscribers of %s: %w", m.cfg.Path, err)
	}
	return nil
}

// Subscribe registers s for future loads. It is not run for loads that
// already happened.
func (m *Manager) Subscribe(s Subscriber) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subs = append(m.subs, s)
}

// Frame returns the current dataset, or an empty frame before the first load.
func (m *Manager) Frame() *dataset.Frame {
	if f := m.frame.Load(); f != nil {
		return f
	}
	return dataset.Empty()
}

// Initialized reports whether the latest load cycle succeeded.
func (m *Manager) Initialized() bool {
	return m.initialized.Load()
}

// Path returns the endpoint path.
func (m *Manager) Path() string {
	return m.cfg.Path
}

// Version counts successful loads.
func (m *Manager) Version() uint64 {
	return m.version.Load()
}

// Ready is closed after the first successful load.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}
