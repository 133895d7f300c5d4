// Package engine is the unified operation surface of atlas: ingest, search,
// consolidate, health and status. The CLI and the daemon drive atlas only
// through an Engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/becomeliminal/atlas/capability"
	"github.com/becomeliminal/atlas/config"
	"github.com/becomeliminal/atlas/consolidate"
	"github.com/becomeliminal/atlas/core"
	"github.com/becomeliminal/atlas/memory"
	"github.com/becomeliminal/atlas/memory/store/chromem"
	"github.com/becomeliminal/atlas/memory/store/sqlite"
	"github.com/becomeliminal/atlas/provider"
	"github.com/becomeliminal/atlas/registry"
	"github.com/becomeliminal/atlas/throttle"
)

// Engine wires configuration, backends, storage and the consolidation
// engine together.
type Engine struct {
	resolver *config.Resolver
	backends *registry.BackendRegistry

	store   *sqlite.Store
	vectors *chromem.Index

	embedder     memory.Embedder
	resolving    *resolvingEmbedder // nil when an embedder was supplied
	memory       *memory.Manager
	consolidator *consolidate.Engine
	watchdog     *consolidate.Watchdog
	throttle     *throttle.Controller
	sampler      throttle.Sampler
	tracer       trace.Tracer

	// construction options
	env          config.Env
	providerOpts []provider.Option
	inMemory     bool

	mu sync.RWMutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithResolver sets the configuration resolver. Default: config.NewResolver().
func WithResolver(r *config.Resolver) Option {
	return func(e *Engine) {
		e.resolver = r
	}
}

// WithEnv sets the environment used when building provider backends.
func WithEnv(env config.Env) Option {
	return func(e *Engine) {
		e.env = env
	}
}

// WithProviderOptions passes options to provider.Build.
func WithProviderOptions(opts ...provider.Option) Option {
	return func(e *Engine) {
		e.providerOpts = append(e.providerOpts, opts...)
	}
}

// WithEmbedder bypasses backend resolution for embeddings.
func WithEmbedder(emb memory.Embedder) Option {
	return func(e *Engine) {
		e.embedder = emb
	}
}

// WithSampler sets the system pressure source. Default: throttle.SystemSampler.
func WithSampler(s throttle.Sampler) Option {
	return func(e *Engine) {
		e.sampler = s
	}
}

// WithInMemoryStorage keeps chunks and vectors in memory only.
func WithInMemoryStorage() Option {
	return func(e *Engine) {
		e.inMemory = true
	}
}

// WithTracer overrides the global otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// Open loads the configuration and opens every tier. Configuration errors
// abort; unavailable backends do not.
func Open(ctx context.Context, opts ...Option) (*Engine, error) {
	e := &Engine{
		env:     config.ProcessEnv,
		sampler: throttle.SystemSampler{},
		tracer:  otel.Tracer("github.com/becomeliminal/atlas/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.resolver == nil {
		e.resolver = config.NewResolver(config.WithEnv(e.env))
	}

	cfg, err := e.resolver.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	e.backends, err = provider.Build(cfg, e.env, e.providerOpts...)
	if err != nil {
		return nil, err
	}

	if err := e.openStorage(cfg.Storage); err != nil {
		e.Close()
		return nil, err
	}

	if e.embedder == nil {
		e.resolving = newResolvingEmbedder(e.backends, capability.TextEmbedding, cfg.Storage.EmbeddingCacheEntries)
		e.embedder = e.resolving
	}

	e.throttle, err = throttle.New(cfg.Ingestion.MinConcurrency, cfg.Ingestion.MaxConcurrency,
		throttle.WithSampler(e.sampler),
		throttle.WithInterval(cfg.Daemon.SampleInterval),
		throttle.WithThresholds(throttle.Thresholds{
			CPUHigh:        cfg.Daemon.CPUHigh,
			MemoryHigh:     cfg.Daemon.MemoryHigh,
			LoadHigh:       cfg.Daemon.LoadHigh,
			SustainSamples: cfg.Daemon.SustainSamples,
		}),
	)
	if err != nil {
		e.Close()
		return nil, err
	}

	memOpts := []memory.Option{memory.WithLimiter(e.throttle)}
	if cfg.Ingestion.GenerateKeys {
		memOpts = append(memOpts, memory.WithKeyGenerator(provider.NewKeyGenerator(e.backends)))
	}
	if e.backends.HasCapability(capability.TextReranking) {
		memOpts = append(memOpts, memory.WithReranker(&resolvingReranker{backends: e.backends}))
	}
	e.memory = memory.NewManager(e.store, e.vectors, e.embedder, managerConfig(cfg), memOpts...)

	classifier, err := consolidate.NewLLMClassifier(e.backends, 4096)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.consolidator, err = consolidate.New(e.store, e.vectors, classifier, cfg.Consolidation,
		consolidate.WithMetaStore(e.store),
		consolidate.WithEmbedder(e.embedder),
		consolidate.WithLimiter(e.throttle),
	)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.watchdog = consolidate.NewWatchdog(e.consolidator, e.store, e.store,
		cfg.Consolidation.BaseThreshold, cfg.Consolidation.ScaleFactor, cfg.Consolidation.CheckInterval)

	e.resolver.OnChange(e.reloadBackends)
	log.Printf("[ENGINE] Opened (backends=%d, in_memory=%v)", e.backends.Size(), e.inMemory)
	return e, nil
}

func (e *Engine) openStorage(s *config.StorageConfig) error {
	var err error
	if e.inMemory {
		if e.store, err = sqlite.Open(":memory:"); err != nil {
			return err
		}
		e.vectors, err = chromem.New(s.Collection)
		return err
	}

	if e.store, err = sqlite.Open(s.ResolvePath(s.SQLitePath)); err != nil {
		return fmt.Errorf("open chunk store: %w", err)
	}
	if s.VectorPath == "" {
		e.vectors, err = chromem.New(s.Collection)
	} else {
		e.vectors, err = chromem.NewPersistent(s.ResolvePath(s.VectorPath), s.Collection, s.CompressVectors)
	}
	if err != nil {
		return fmt.Errorf("open vector index: %w", err)
	}
	return nil
}

func managerConfig(cfg *config.AtlasConfig) *memory.Config {
	return &memory.Config{
		ChunkSize:           cfg.Ingestion.ChunkSize,
		MaxFileBytes:        cfg.Ingestion.MaxFileBytes,
		Extensions:          append([]string(nil), cfg.Ingestion.Extensions...),
		GenerateKeys:        cfg.Ingestion.GenerateKeys,
		KeysPerChunk:        cfg.Ingestion.KeysPerChunk,
		DefaultLimit:        cfg.Search.DefaultLimit,
		MinScore:            cfg.Search.MinScore,
		Rerank:              cfg.Search.Rerank,
		CandidateMultiplier: cfg.Search.CandidateMultiplier,
	}
}

// reloadBackends re-registers backends after the configuration changed.
// Storage and sub-config settings take effect on the next Open.
func (e *Engine) reloadBackends(cfg *config.AtlasConfig) {
	fresh, err := provider.Build(cfg, e.env, e.providerOpts...)
	if err != nil {
		log.Printf("[ENGINE] Keeping previous backends: %v", err)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	names := fresh.Names()
	ds := make([]capability.Descriptor, 0, len(names))
	for _, name := range names {
		if d, ok := fresh.Get(name); ok {
			ds = append(ds, d)
		}
	}
	e.backends.Replace(ds...)
	if e.resolving != nil {
		e.resolving.invalidate()
	}
	log.Printf("[ENGINE] Backends reloaded (%d)", e.backends.Size())
}

// Config returns the current configuration.
func (e *Engine) Config() *config.AtlasConfig {
	return e.resolver.Get()
}

// Backends returns the backend registry.
func (e *Engine) Backends() *registry.BackendRegistry {
	return e.backends
}

// Ingest stores the files under paths.
func (e *Engine) Ingest(ctx context.Context, in core.IngestInput) (res *core.IngestResult, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.Ingest", trace.WithAttributes(attribute.Int("paths", len(in.Paths))))
	defer func() { endSpan(span, err) }()

	res, err = e.memory.Ingest(ctx, in)
	if res != nil {
		span.SetAttributes(attribute.Int("chunks_stored", res.ChunksStored))
	}
	return res, err
}

// Search returns chunks ranked by relevance to the query.
func (e *Engine) Search(ctx context.Context, in core.SearchInput) (res *core.SearchResult, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.Search")
	defer func() { endSpan(span, err) }()
	return e.memory.Search(ctx, in)
}

// Consolidate runs one consolidation pass.
func (e *Engine) Consolidate(ctx context.Context, in core.ConsolidateInput) (*core.ConsolidationResult, error) {
	opts := consolidate.Options{DryRun: in.DryRun, Sweep: in.Sweep}
	if in.Keep != "" {
		keep, err := consolidate.ParseKeep(in.Keep)
		if err != nil {
			return nil, err
		}
		opts.Keep = keep
	}
	return e.consolidator.Run(ctx, opts)
}

// Health probes every backend concurrently and checks each storage tier.
// The engine is healthy when every tier answers and some backend can embed.
func (e *Engine) Health(ctx context.Context) (*core.HealthReport, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	available := map[string]bool{}
	for _, d := range e.backends.GetAvailable(ctx) {
		available[d.Name()] = true
	}

	report := &core.HealthReport{Healthy: true}
	for _, name := range e.backends.Names() {
		d, ok := e.backends.Get(name)
		if !ok {
			continue
		}
		caps := d.Capabilities()
		tags := make([]string, len(caps))
		for i, c := range caps {
			tags[i] = string(c)
		}
		report.Backends = append(report.Backends, core.BackendHealth{Name: name, Capabilities: tags, Available: available[name]})
	}

	report.Tiers = append(report.Tiers, tier("metadata", e.store.Ping(ctx), "sqlite"))
	report.Tiers = append(report.Tiers, core.TierHealth{Name: "vectors", OK: true, Detail: fmt.Sprintf("chromem (%d vectors)", e.vectors.Count())})
	embedOK := e.resolving == nil
	if !embedOK {
		_, _, err := provider.EmbedderFor(ctx, e.backends, capability.TextEmbedding)
		embedOK = err == nil
	}
	report.Tiers = append(report.Tiers, core.TierHealth{Name: "embedding", OK: embedOK, Detail: embeddingDetail(embedOK)})

	for _, t := range report.Tiers {
		if !t.OK {
			report.Healthy = false
		}
	}
	return report, nil
}

func tier(name string, err error, detail string) core.TierHealth {
	if err != nil {
		return core.TierHealth{Name: name, OK: false, Detail: err.Error()}
	}
	return core.TierHealth{Name: name, OK: true, Detail: detail}
}

func embeddingDetail(ok bool) string {
	if ok {
		return "backend available"
	}
	return "no available text-embedding backend"
}

// Status aggregates collection, backend and system statistics.
func (e *Engine) Status(ctx context.Context) (*core.StatusReport, error) {
	cfg := e.Config()
	report := &core.StatusReport{
		ByLevel:     map[string]int{},
		Backends:    map[string]string{},
		Concurrency: e.throttle.Limit(),
		ConfigPath:  e.resolver.Path(),
		Vectors:     e.vectors.Count(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := e.store.Count(gctx)
		report.Chunks = n
		return err
	})
	var byLevel map[memory.Level]int
	g.Go(func() error {
		var err error
		byLevel, report.Superseded, report.DeletionEligible, err = e.store.Stats(gctx)
		return err
	})
	g.Go(func() error {
		last, err := consolidate.LastPass(gctx, e.store)
		if err == nil && !last.IsZero() {
			report.LastConsolidated = &last
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for level, n := range byLevel {
		report.ByLevel[level.String()] = n
	}
	for c, spec := range cfg.Backends {
		report.Backends[string(c)] = spec.String()
	}

	sample, ok := e.throttle.Last()
	if !ok && e.sampler != nil {
		sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		s, err := e.sampler.Sample(sctx)
		cancel()
		sample, ok = s, err == nil
	}
	if ok {
		report.System = &core.SystemStats{
			CPUPercent:    sample.CPUPercent,
			MemoryPercent: sample.MemoryPercent,
			LoadPerCPU:    sample.LoadPerCPU,
		}
	}
	return report, nil
}

// Run drives the background work of a daemon: pressure sampling, the
// consolidation watchdog and config hot reload. It blocks until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	cfg := e.Config()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.throttle.Run(gctx) })
	if cfg.Consolidation.Enabled {
		g.Go(func() error { return e.watchdog.Run(gctx) })
	}
	if cfg.Daemon.WatchConfig && e.resolver.Path() != "" {
		w, err := config.NewWatcher(e.resolver)
		if err != nil {
			return err
		}
		if err := w.Start(); err != nil {
			return err
		}
		defer w.Stop()
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases storage.
func (e *Engine) Close() error {
	var errs []error
	if e.resolving != nil {
		e.resolving.close()
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	return errors.Join(errs...)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
