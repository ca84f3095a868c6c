// Package materialize derives tables from one or more dataset sources and
// persists them wholesale whenever a source reloads.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eunmann/opendata-ingest/internal/logctx"
	"github.com/eunmann/opendata-ingest/pkg/dataset"
	"github.com/eunmann/opendata-ingest/pkg/logging"
	"github.com/eunmann/opendata-ingest/pkg/metrics"
	"github.com/eunmann/opendata-ingest/pkg/source"
	"github.com/eunmann/opendata-ingest/pkg/sqlstore"
)

// Stage names the rebuild step that failed.
type Stage string

const (
	StageTransform Stage = "transform"
	StageSchema    Stage = "schema"
	StagePersist   Stage = "persist"
	StagePublish   Stage = "publish"
)

// RebuildError reports a failed rebuild. The persisted table is unchanged
// unless Stage is StagePublish, which fails after the table was written.
type RebuildError struct {
	Table string
	Stage Stage
	Err   error
}

func (e *RebuildError) Error() string {
	return fmt.Sprintf("rebuild %s: %s: %v", e.Table, e.Stage, e.Err)
}

func (e *RebuildError) Unwrap() error { return e.Err }

// Transform derives the table frame from the source frames, passed in the
// order the sources were given to New.
type Transform func(ctx context.Context, frames []*dataset.Frame) (*dataset.Frame, error)

// Hook runs after a successful rebuild with the new frame.
type Hook func(ctx context.Context, frame *dataset.Frame) error

// Store persists table frames.
type Store interface {
	Replace(ctx context.Context, spec sqlstore.TableSpec, frame *dataset.Frame) error
	Dialect() sqlstore.Dialect
}

// Source is a dataset the materializer reads.
type Source interface {
	Path() string
	Initialized() bool
	Frame() *dataset.Frame
	Subscribe(source.Subscriber)
}

// Config configures a Materializer.
type Config struct {
	Spec      sqlstore.TableSpec
	Transform Transform
	Metrics   *metrics.Metrics
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Spec.Name == "" {
		return errors.New("table name is required")
	}
	if c.Transform == nil {
		return errors.New("transform is required")
	}
	return nil
}

// Materializer owns one persisted table.
type Materializer struct {
	cfg     Config
	store   Store
	sources []Source

	mu     sync.Mutex
	frame  atomic.Pointer[dataset.Frame]
	builds atomic.Uint64

	hookMu sync.Mutex
	hooks  []Hook
}

// New returns a Materializer subscribed to every source.
func New(cfg Config, store Store, sources ...Source) (*Materializer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if len(sources) == 0 {
		return nil, errors.New("at least one source is required")
	}
	m := &Materializer{cfg: cfg, store: store, sources: sources}
	for _, s := range sources {
		s.Subscribe(m.Rebuild)
	}
	return m, nil
}

// Name returns the table name.
func (m *Materializer) Name() string { return m.cfg.Spec.Name }

// Spec returns the table spec.
func (m *Materializer) Spec() sqlstore.TableSpec { return m.cfg.Spec }

// Ready reports whether every source is initialized.
func (m *Materializer) Ready() bool {
	for _, s := range m.sources {
		if !s.Initialized() {
			return false
		}
	}
	return true
}

// Frame returns the last successfully built frame, or an empty frame.
func (m *Materializer) Frame() *dataset.Frame {
	if f := m.frame.Load(); f != nil {
		return f
	}
	return dataset.Empty()
}

// Builds counts successful rebuilds.
func (m *Materializer) Builds() uint64 { return m.builds.Load() }

// OnBuilt registers h to run after every successful rebuild.
func (m *Materializer) OnBuilt(h Hook) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.hooks = append(m.hooks, h)
}

// Sync rebuilds now if every source is ready.
func (m *Materializer) Sync(ctx context.Context) error {
	return m.Rebuild(ctx)
}

// Rebuild recomputes and persists the table. It does nothing until every
// source is initialized. Rebuilds are serialized.
func (m *Materializer) Rebuild(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := m.cfg.Spec.Name
	ctx = logctx.WithTable(ctx, table)
	log := logctx.FromContext(ctx)

	if !m.Ready() {
		log.Debug().Msg("rebuild skipped, sources not ready")
		m.cfg.Metrics.Rebuild(table, metrics.RebuildSkipped, 0)
		return nil
	}

	start := time.Now()
	frames := make([]*dataset.Frame, len(m.sources))
	for i, s := range m.sources {
		frames[i] = s.Frame()
	}

	out, err := m.cfg.Transform(ctx, frames)
	if err != nil {
		return m.fail(StageTransform, err)
	}
	if _, err := sqlstore.InferSchema(out, m.store.Dialect(), m.cfg.Spec); err != nil {
		return m.fail(StageSchema, err)
	}
	if err := m.store.Replace(ctx, m.cfg.Spec, out); err != nil {
		return m.fail(StagePersist, err)
	}

	m.frame.Store(out)
	m.builds.Add(1)
	m.cfg.Metrics.Rebuild(table, metrics.RebuildOK, out.Len())

	logging.RebuildComplete(log, time.Since(start)).
		Count("rows", int64(out.Len())).
		Int("columns", out.Width()).
		Int("sources", len(m.sources)).
		Log("table rebuilt")

	m.hookMu.Lock()
	hooks := append([]Hook(nil), m.hooks...)
	m.hookMu.Unlock()
	var errs []error
	for _, h := range hooks {
		if err := h(ctx, out); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return &RebuildError{Table: table, Stage: StagePublish, Err: err}
	}
	return nil
}

func (m *Materializer) fail(stage Stage, err error) error {
	m.cfg.Metrics.Rebuild(m.cfg.Spec.Name, metrics.RebuildFailed, 0)
	return &RebuildError{Table: m.cfg.Spec.Name, Stage: stage, Err: err}
}

// Single adapts a one-frame function to a Transform over the first source.
func Single(fn func(*dataset.Frame) (*dataset.Frame, error)) Transform {
	return func(_ context.Context, frames []*dataset.Frame) (*dataset.Frame, error) {
		if len(frames) == 0 {
			return nil, errors.New("no source frames")
		}
		return fn(frames[0])
	}
}
