package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eunmann/opendata-ingest/internal/logctx"
	"github.com/eunmann/opendata-ingest/pkg/apispec"
	"github.com/eunmann/opendata-ingest/pkg/logging"
	"github.com/eunmann/opendata-ingest/pkg/metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// maxErrorBody caps how much of a failed response is kept in the error.
const maxErrorBody = 512

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithEnvelope sets the response layout. The default is a PagedEnvelope
// using the configured keys.
func WithEnvelope(e Envelope) Option {
	return func(f *Fetcher) { f.envelope = e }
}

// WithMetrics records request counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// Fetcher fetches paginated endpoints. One Fetcher shares a single HTTP
// client across all calls.
type Fetcher struct {
	cfg      Config
	reg      *apispec.Registry
	client   *http.Client
	envelope Envelope
	metrics  *metrics.Metrics

	hydrateMu sync.Mutex
	hydrated  bool
}

// New creates a Fetcher. reg may be nil when the description document
// supplies every path.
func New(cfg Config, reg *apispec.Registry, opts ...Option) (*Fetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg = cfg.withDefaults()
	if reg == nil {
		reg = apispec.NewRegistry()
	}

	client := cfg.HTTPClient
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.MaxIdleConnsPerHost = cfg.Concurrency
		client = &http.Client{Timeout: cfg.Timeout, Transport: transport}
	}

	f := &Fetcher{
		cfg:      cfg,
		reg:      reg,
		client:   client,
		envelope: PagedEnvelope{TotalKey: cfg.Keys.TotalCount, DataKey: cfg.Keys.Data},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Registry returns the path registry.
func (f *Fetcher) Registry() *apispec.Registry {
	return f.reg
}

// call is a validated request target shared by every page of one fetch.
type call struct {
	path    string
	method  string
	url     string
	headers map[string]string
	query   map[string]string
}

// Fetch returns every record of path. Records are in ascending page order.
func (f *Fetcher) Fetch(ctx context.Context, path string, params map[string]string) ([]Record, error) {
	c, err := f.prepare(ctx, path, params)
	if err != nil {
		return nil, err
	}
	sem := semaphore.NewWeighted(int64(f.cfg.Concurrency))
	return f.fetchPaged(ctx, sem, c, params)
}

// FetchYears runs one paginated fetch per year in [from, to] concurrently.
// All shards share one in-flight limit. Records are ordered by year, then
// by page.
func (f *Fetcher) FetchYears(ctx context.Context, path string, params map[string]string, from, to int) ([]Record, error) {
	if from > to {
		return nil, &ValidationError{Path: path, Reason: fmt.Sprintf("empty year range %d..%d", from, to)}
	}
	c, err := f.prepare(ctx, path, params, f.cfg.Keys.Year)
	if err != nil {
		return nil, err
	}

	sem := semaphore.NewWeighted(int64(f.cfg.Concurrency))
	shards := make([][]Record, to-from+1)

	var g errgroup.Group
	for i := range shards {
		year := from + i
		g.Go(func() error {
			p := cloneParams(params)
			p[f.cfg.Keys.Year] = strconv.Itoa(year)
			yctx := logctx.WithInt(ctx, "year", year)
			rows, err := f.fetchPaged(yctx, sem, c, p)
			if err != nil {
				return err
			}
			shards[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return concat(shards), nil
}

// prepare hydrates the registry, checks required parameters and resolves
// the request target. No request for path is sent before it succeeds. The
// paging keys and any names in injected are set per request and count as
// present.
func (f *Fetcher) prepare(ctx context.Context, path string, params map[string]string, injected ...string) (*call, error) {
	if err := f.hydrate(ctx); err != nil {
		return nil, err
	}

	op, ok := f.reg.Lookup(path)
	if !ok {
		err := &ValidationError{Path: path, Reason: "path not registered", Err: ErrUnknownPath}
		f.metrics.FetchError(path, errorKind(err))
		return nil, err
	}
	supplied := append([]string{f.cfg.Keys.Page, f.cfg.Keys.PerPage}, injected...)
	if missing := f.reg.Missing(path, params, supplied...); len(missing) > 0 {
		err := &ValidationError{Path: path, Reason: "required parameters missing", Missing: missing}
		f.metrics.FetchError(path, errorKind(err))
		return nil, err
	}

	method := strings.ToUpper(op.Method)
	if method == "" {
		method = http.MethodGet
	}

	security := f.reg.Security()
	headers, query := apispec.Credentials(security, f.cfg.APIKey)
	if len(security) == 0 && f.cfg.APIKey != "" {
		query[f.cfg.Keys.DefaultKey] = f.cfg.APIKey
	}

	return &call{
		path:    path,
		method:  method,
		url:     joinURL(f.cfg.BaseURL, path),
		headers: headers,
		query:   query,
	}, nil
}

// hydrate loads the description document once. A failed load is retried on
// the next call.
func (f *Fetcher) hydrate(ctx context.Context) error {
	if f.cfg.DescriptionURL == "" {
		return nil
	}
	f.hydrateMu.Lock()
	defer f.hydrateMu.Unlock()
	if f.hydrated {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.DescriptionURL, nil)
	if err != nil {
		return &ValidationError{Path: f.cfg.DescriptionURL, Reason: "build description request", Err: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return &TransportError{Path: f.cfg.DescriptionURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Path: f.cfg.DescriptionURL, StatusCode: resp.StatusCode, Err: readErrorBody(resp.Body)}
	}

	doc, err := apispec.Parse(resp.Body, apispec.Keys{})
	if err != nil {
		return &ValidationError{Path: f.cfg.DescriptionURL, Reason: "malformed description", Err: err}
	}
	f.reg.Merge(doc)
	f.hydrated = true

	log := logctx.FromContext(ctx)
	log.Debug().
		Str("url", f.cfg.DescriptionURL).
		Int("paths", len(doc.Paths)).
		Msg("loaded API description")
	return nil
}

func (f *Fetcher) fetchPaged(ctx context.Context, sem *semaphore.Weighted, c *call, params map[string]string) ([]Record, error) {
	ctx = logctx.WithEndpoint(ctx, c.path)
	log := logctx.FromContext(ctx)
	start := time.Now()
	keys := f.cfg.Keys

	probe := cloneParams(params)
	probe[keys.Page] = "1"
	probe[keys.PerPage] = "1"
	body, err := f.do(ctx, sem, c, probe, 1)
	if err != nil {
		return nil, err
	}
	total, err := f.envelope.Total(c.path, body)
	if err != nil {
		verr := &ValidationError{Path: c.path, Reason: "malformed count probe", Err: err}
		f.metrics.FetchError(c.path, errorKind(verr))
		return nil, verr
	}
	if total <= 0 {
		log.Debug().Msg("endpoint reports no records")
		return []Record{}, nil
	}

	batch := f.cfg.BatchSize
	pages := (total + batch - 1) / batch
	results := make([][]Record, pages)
	tracker := logging.NewProgressTracker(logging.PhaseFetch, int64(pages), log)

	var g errgroup.Group
	for i := range results {
		page := i + 1
		g.Go(func() error {
			pageStart := time.Now()
			p := cloneParams(params)
			p[keys.Page] = strconv.Itoa(page)
			p[keys.PerPage] = strconv.Itoa(batch)

			body, err := f.do(ctx, sem, c, p, page)
			if err != nil {
				tracker.RecordFailure()
				return err
			}
			rows, err := f.envelope.Rows(c.path, body)
			if err != nil {
				tracker.RecordFailure()
				verr := &ValidationError{Path: c.path, Reason: fmt.Sprintf("malformed page %d", page), Err: err}
				f.metrics.FetchError(c.path, errorKind(verr))
				return verr
			}
			results[i] = rows
			tracker.RecordCompletion(time.Since(pageStart), len(rows))
			tracker.Report("fetching pages")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := concat(results)
	logging.FetchComplete(log, time.Since(start)).
		Int("pages", pages).
		Count("records", int64(len(out))).
		Int("total_count", total).
		LogDebug("fetched endpoint")
	return out, nil
}

// do sends one request while holding a slot of sem.
func (f *Fetcher) do(ctx context.Context, sem *semaphore.Weighted, c *call, params map[string]string, page int) ([]byte, error) {
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, &TransportError{Path: c.path, Page: page, Err: err}
	}
	defer sem.Release(1)
	f.metrics.Inflight(1)
	defer f.metrics.Inflight(-1)

	body, err := f.send(ctx, c, params, page)
	if err != nil {
		f.metrics.FetchError(c.path, errorKind(err))
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) send(ctx context.Context, c *call, params map[string]string, page int) ([]byte, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, c.method, c.url, nil)
	if err != nil {
		return nil, &ValidationError{Path: c.path, Reason: "build request", Err: err}
	}

	q := req.URL.Query()
	for k, v := range c.query {
		q.Set(k, v)
	}
	for k, v := range params {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransportError{Path: c.path, Page: page, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Path: c.path, Page: page, StatusCode: resp.StatusCode, Err: readErrorBody(resp.Body)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Path: c.path, Page: page, Err: fmt.Errorf("read body: %w", err)}
	}

	f.metrics.PageFetched(c.path, time.Since(start).Seconds())
	log := logctx.FromContext(ctx)
	log.Debug().Int("page", page).Int("bytes", len(body)).Msg("page fetched")
	return body, nil
}

func readErrorBody(r io.Reader) error {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return fmt.Errorf("response body: %q", strings.TrimSpace(string(b)))
}

func joinURL(base, path string) string {
	if u, err := url.Parse(path); err == nil && u.IsAbs() {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func cloneParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params)+2)
	for k, v := range params {
		out[k] = v
	}
	return out
}

func concat(parts [][]Record) []Record {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]Record, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// YearFetcher adapts FetchYears to the single-call Fetch signature over a
// fixed inclusive year range.
type YearFetcher struct {
	f    *Fetcher
	From int
	To   int
}

// NewYearFetcher returns a YearFetcher. Zero bounds default to thirty years
// back and one year ahead of now.
func NewYearFetcher(f *Fetcher, from, to int) *YearFetcher {
	now := time.Now().Year()
	if from == 0 {
		from = now - 30
	}
	if to == 0 {
		to = now + 1
	}
	return &YearFetcher{f: f, From: from, To: to}
}

// Fetch implements the loader contract over the configured year range.
func (y *YearFetcher) Fetch(ctx context.Context, path string, params map[string]string) ([]Record, error) {
	return y.f.FetchYears(ctx, path, params, y.From, y.To)
}
