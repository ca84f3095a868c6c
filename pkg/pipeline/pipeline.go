// Package pipeline wires fetchers, the snapshot cache, dataset managers,
// the relational store and the materialized tables into one unit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/eunmann/opendata-ingest/internal/config"
	"github.com/eunmann/opendata-ingest/internal/logctx"
	"github.com/eunmann/opendata-ingest/pkg/apispec"
	"github.com/eunmann/opendata-ingest/pkg/dataset"
	"github.com/eunmann/opendata-ingest/pkg/fetch"
	"github.com/eunmann/opendata-ingest/pkg/fiscal"
	"github.com/eunmann/opendata-ingest/pkg/logging"
	"github.com/eunmann/opendata-ingest/pkg/materialize"
	"github.com/eunmann/opendata-ingest/pkg/metrics"
	"github.com/eunmann/opendata-ingest/pkg/snapshot"
	"github.com/eunmann/opendata-ingest/pkg/source"
	"github.com/eunmann/opendata-ingest/pkg/sqlstore"
	"github.com/eunmann/opendata-ingest/pkg/welfare"
	"golang.org/x/sync/errgroup"
)

// Fiscal pagination parameters.
const (
	FiscalPageKey    = "pIndex"
	FiscalPerPageKey = "pSize"
)

// Deps are the handles Build does not construct from configuration. Every
// field is optional.
type Deps struct {
	// Metrics records fetch, cache and rebuild outcomes.
	Metrics *metrics.Metrics
	// HTTPClient is shared by every fetcher.
	HTTPClient *http.Client
	// Backend replaces the configured snapshot backend.
	Backend snapshot.Backend
	// S3 is the object API of the s3 backend. The default AWS configuration
	// is used when nil.
	S3 snapshot.ObjectAPI
}

// Pipeline owns every long-lived handle of the process.
type Pipeline struct {
	cfg   config.Config
	cache *snapshot.Cache
	store *sqlstore.Store

	fiscalSource    *source.Manager
	welfareSources  []*source.Manager
	managers        []*source.Manager
	tables          []*materialize.Materializer
	fiscalAggregate *fiscal.Repository
}

// OpenCache opens the configured snapshot cache.
func OpenCache(ctx context.Context, cfg config.Config, deps Deps) (*snapshot.Cache, error) {
	backend := deps.Backend
	if backend == nil {
		var err error
		if backend, err = openBackend(ctx, cfg.Cache, deps); err != nil {
			return nil, err
		}
	}
	return snapshot.NewCache(backend, cfg.SnapshotConfig(), deps.Metrics), nil
}

func openBackend(ctx context.Context, cfg config.CacheConfig, deps Deps) (snapshot.Backend, error) {
	switch cfg.Backend {
	case config.BackendBolt:
		b, err := snapshot.OpenBolt(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open snapshot cache: %w", err)
		}
		return b, nil
	case config.BackendMemory:
		return snapshot.NewMemory(cfg.MemoryEntries), nil
	case config.BackendS3:
		if deps.S3 != nil {
			return snapshot.NewS3(deps.S3, cfg.S3Bucket, cfg.S3Prefix), nil
		}
		b, err := snapshot.NewS3FromEnv(ctx, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			return nil, fmt.Errorf("open snapshot cache: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Build constructs the pipeline. Nothing is fetched until Init.
func Build(ctx context.Context, cfg config.Config, deps Deps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cache, err := OpenCache(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}
	store, err := sqlstore.Open(ctx, cfg.StoreConfig())
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	p := &Pipeline{cfg: cfg, cache: cache, store: store, fiscalAggregate: fiscal.NewRepository()}
	if err := p.wire(deps); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) wire(deps Deps) error {
	fiscalLoader, err := p.fiscalLoader(deps)
	if err != nil {
		return err
	}
	welfareLoader, err := p.welfareLoader(deps)
	if err != nil {
		return err
	}

	p.fiscalSource = source.New(source.Config{
		Path:   p.cfg.Fiscal.Path,
		Params: fiscal.DefaultParams(),
	}, fiscalLoader, p.cache)
	p.managers = append(p.managers, p.fiscalSource)

	for _, path := range p.cfg.Welfare.Paths() {
		m := source.New(source.Config{Path: path}, welfareLoader, p.cache)
		p.welfareSources = append(p.welfareSources, m)
		p.managers = append(p.managers, m)
	}

	fiscalTables := []struct {
		spec sqlstore.TableSpec
		fn   materialize.Transform
		hook materialize.Hook
	}{
		{fiscal.DetailTable, materialize.Single(fiscal.Detail), nil},
		{fiscal.ByYearTable, materialize.Single(fiscal.ByYear), p.fiscalAggregate.IndexByYear},
		{fiscal.ByYearOfficeTable, materialize.Single(fiscal.ByYearOffice), p.fiscalAggregate.IndexByYearOffice},
	}
	for _, t := range fiscalTables {
		m, err := materialize.New(materialize.Config{Spec: t.spec, Transform: t.fn, Metrics: deps.Metrics}, p.store, p.fiscalSource)
		if err != nil {
			return fmt.Errorf("materializer %s: %w", t.spec.Name, err)
		}
		if t.hook != nil {
			m.OnBuilt(t.hook)
		}
		p.tables = append(p.tables, m)
	}

	ordered := welfare.Order(p.welfareSources)
	sources := make([]materialize.Source, len(ordered))
	for i, m := range ordered {
		sources[i] = m
	}
	w, err := materialize.New(materialize.Config{
		Spec:      welfare.Table,
		Transform: welfareTransform,
		Metrics:   deps.Metrics,
	}, p.store, sources...)
	if err != nil {
		return fmt.Errorf("materializer %s: %w", welfare.TableName, err)
	}
	p.tables = append(p.tables, w)
	return nil
}

func welfareTransform(_ context.Context, frames []*dataset.Frame) (*dataset.Frame, error) {
	return welfare.Build(frames...)
}

func (p *Pipeline) fiscalLoader(deps Deps) (source.Loader, error) {
	fc := p.cfg.FetchConfig(p.cfg.Fiscal.BaseURL, p.cfg.Fiscal.SwaggerURL, p.cfg.Fiscal.APIKey)
	fc.HTTPClient = deps.HTTPClient
	fc.Keys.Page = FiscalPageKey
	fc.Keys.PerPage = FiscalPerPageKey
	fc.Keys.Year = fiscal.ColYear

	reg := apispec.NewRegistry()
	reg.Add(p.cfg.Fiscal.Path, http.MethodGet)
	f, err := fetch.New(fc, reg, fetch.WithEnvelope(fetch.ListEnvelope{}), fetch.WithMetrics(deps.Metrics))
	if err != nil {
		return nil, fmt.Errorf("fiscal fetcher: %w", err)
	}
	return fetch.NewYearFetcher(f, p.cfg.Fiscal.StartYear, p.cfg.Fiscal.EndYear), nil
}

func (p *Pipeline) welfareLoader(deps Deps) (source.Loader, error) {
	fc := p.cfg.FetchConfig(p.cfg.Welfare.BaseURL, p.cfg.Welfare.SwaggerURL, p.cfg.Welfare.APIKey)
	fc.HTTPClient = deps.HTTPClient

	reg := apispec.NewRegistry()
	for _, path := range p.cfg.Welfare.Paths() {
		reg.Add(path, http.MethodGet)
	}
	f, err := fetch.New(fc, reg, fetch.WithMetrics(deps.Metrics))
	if err != nil {
		return nil, fmt.Errorf("welfare fetcher: %w", err)
	}
	return f, nil
}

// Init loads every dataset concurrently, from the snapshot cache unless
// force is set. Each table is rebuilt once all of its sources are loaded.
// A failing dataset does not cancel the others.
func (p *Pipeline) Init(ctx context.Context, force bool) error {
	log := logging.WithPhase(logging.PhaseLoad)
	start := time.Now()

	errs := make([]error, len(p.managers))
	var g errgroup.Group
	for i, m := range p.managers {
		g.Go(func() error {
			if err := m.Init(ctx, force); err != nil {
				mlog := logctx.FromContext(logctx.WithEndpoint(ctx, m.Path()))
				mlog.Error().Err(err).Msg("dataset load failed")
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	loaded := 0
	for _, m := range p.managers {
		if m.Initialized() {
			loaded++
		}
	}
	logging.PhaseComplete(log, logging.PhaseLoad, time.Since(start)).
		Int("datasets", len(p.managers)).
		Int("loaded", loaded).
		Bool("forced", force).
		Log("datasets loaded")
	return errors.Join(errs...)
}

// Watch reloads every dataset with force each interval until ctx is done.
// A failed cycle is logged and retried on the next tick.
func (p *Pipeline) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("refresh interval must be positive, got %v", interval)
	}
	log := logctx.FromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Init(ctx, true); err != nil {
				log.Warn().Err(err).Dur("retry_in", interval).Msg("refresh cycle failed")
			}
		}
	}
}

// Close releases the store and the cache backend.
func (p *Pipeline) Close() error {
	return errors.Join(p.store.Close(), p.cache.Close())
}

// Cache returns the snapshot cache.
func (p *Pipeline) Cache() *snapshot.Cache { return p.cache }

// Store returns the relational store.
func (p *Pipeline) Store() *sqlstore.Store { return p.store }

// Managers returns every dataset manager, fiscal first.
func (p *Pipeline) Managers() []*source.Manager { return p.managers }

// Tables returns the materializers in build order.
func (p *Pipeline) Tables() []*materialize.Materializer { return p.tables }

// Table returns the materializer of the named table.
func (p *Pipeline) Table(name string) (*materialize.Materializer, bool) {
	for _, t := range p.tables {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// Fiscal returns the repository over the per-year aggregates.
func (p *Pipeline) Fiscal() *fiscal.Repository { return p.fiscalAggregate }
