// Package consolidate detects semantically redundant chunks and merges them
// while keeping provenance a DAG.
//
// A pass runs in three phases:
//  1. candidate pairs are collected from a CandidateSource
//  2. each pair is classified concurrently, bounded by a memory.Limiter and
//     a per-call timeout
//  3. verdicts are applied one by one in candidate order, then persisted
//     in a single store transaction
//
// Application is sequential and ordered, so a dry run previews exactly the
// merges a real pass with the same inputs performs.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/becomeliminal/atlas/config"
	"github.com/becomeliminal/atlas/core"
	"github.com/becomeliminal/atlas/memory"
)

// MetaLastPass is the MetaStore key holding the time of the last real pass.
const MetaLastPass = "consolidation.last_pass"

// Options control a single pass.
type Options struct {
	// DryRun computes every decision but persists nothing.
	DryRun bool

	// Keep overrides the configured keep preference.
	Keep Keep

	// Sweep also re-evaluates deletion eligibility afterwards.
	Sweep bool
}

// Engine runs consolidation passes. Passes are serialized.
type Engine struct {
	chunks     memory.ChunkStore
	vectors    memory.VectorIndex
	source     CandidateSource
	classifier Classifier

	meta      memory.MetaStore // Optional
	embedder  memory.Embedder  // Optional: re-embeds merged text
	limiter   memory.Limiter
	stability memory.StabilityPolicy
	policy    MergePolicy
	timeout   time.Duration
	now       func() time.Time
	tracer    trace.Tracer

	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithSource replaces the nearest-neighbour candidate source.
func WithSource(s CandidateSource) Option {
	return func(e *Engine) {
		e.source = s
	}
}

// WithMetaStore records the time of each real pass.
func WithMetaStore(m memory.MetaStore) Option {
	return func(e *Engine) {
		e.meta = m
	}
}

// WithEmbedder re-embeds chunks whose text a merge replaced.
func WithEmbedder(emb memory.Embedder) Option {
	return func(e *Engine) {
		e.embedder = emb
	}
}

// WithLimiter bounds concurrent classification calls.
func WithLimiter(l memory.Limiter) Option {
	return func(e *Engine) {
		e.limiter = l
	}
}

// WithStability overrides the stability function used by sweeps.
func WithStability(f memory.StabilityFunc) Option {
	return func(e *Engine) {
		e.stability.Score = f
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithTracer overrides the global otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// New creates an engine from the consolidation config. Unless WithSource is
// given, candidates come from a NeighborFinder over chunks and vectors.
func New(chunks memory.ChunkStore, vectors memory.VectorIndex, classifier Classifier, cfg *config.ConsolidationConfig, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Defaults().Consolidation
	}
	keep, err := ParseKeep(cfg.Keep)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		chunks:     chunks,
		vectors:    vectors,
		classifier: classifier,
		source: &NeighborFinder{
			Chunks:        chunks,
			Vectors:       vectors,
			Threshold:     cfg.SimilarityThreshold,
			Neighbors:     cfg.NeighborsPerChunk,
			MaxCandidates: cfg.MaxCandidates,
		},
		limiter:   memory.FixedLimit(1),
		stability: memory.NewStabilityPolicy(cfg.StabilityThreshold, cfg.GracePeriodDays),
		policy:    MergePolicy{Keep: keep, FanIn: append([]int(nil), cfg.FanIn...)},
		timeout:   cfg.ClassifyTimeout,
		now:       time.Now,
		tracer:    otel.Tracer("github.com/becomeliminal/atlas/consolidate"),
	}
	if cfg.StabilityHalfLife > 0 {
		e.stability.Score = memory.DecayStability(cfg.StabilityHalfLife, cfg.AccessWeight)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type classified struct {
	verdict Verdict
	err     error
}

// Run executes one pass. Cancellation is honoured between candidates: merges
// applied before the cancellation are persisted and ctx.Err() is returned
// with the partial result. Only storage failures abort a pass; unavailable
// backends, classification errors and provenance cycles are counted.
func (e *Engine) Run(ctx context.Context, opts Options) (res *core.ConsolidationResult, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.now()
	policy := e.policy
	if opts.Keep != "" {
		policy.Keep = opts.Keep
	}

	ctx, span := e.tracer.Start(ctx, "consolidate.Run", trace.WithAttributes(
		attribute.Bool("dry_run", opts.DryRun),
		attribute.String("keep", string(policy.Keep)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	res = &core.ConsolidationResult{
		DryRun:        opts.DryRun,
		TypeBreakdown: map[string]int{},
		Errors:        []string{},
	}

	candidates, err := e.source.Candidates(ctx)
	if err != nil {
		return res, fmt.Errorf("collect candidates: %w", err)
	}

	ids := make([]string, 0, 2*len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.A, c.B)
	}
	loaded, err := e.chunks.GetMany(ctx, ids)
	if err != nil {
		return res, fmt.Errorf("load candidates: %w", err)
	}
	working := make(map[string]*memory.ChunkPayload, len(loaded))
	for id, c := range loaded {
		working[id] = c.Clone()
	}

	verdicts := e.classify(ctx, candidates, working)

	lookup := e.lookup(ctx, working)
	now := e.now()
	dirty := map[string]bool{}
	rewritten := map[string]bool{}
	var cancelled error

	for i, cand := range candidates {
		if err := ctx.Err(); err != nil {
			cancelled = err
			res.Errors = append(res.Errors, fmt.Sprintf("pass cancelled after %d of %d candidates", i, len(candidates)))
			break
		}
		res.CandidatesEvaluated++

		a, b := working[cand.A], working[cand.B]
		if a == nil || b == nil || a.Superseded() || b.Superseded() {
			res.Skipped++
			continue
		}

		vr := verdicts[i]
		if vr.err != nil {
			res.Unresolved++
			res.Errors = append(res.Errors, fmt.Sprintf("%s/%s: %v", cand.A, cand.B, vr.err))
			continue
		}

		first, second := Order(a, b)
		primary, secondary := policy.Roles(first, second)
		text := primary.OriginalText

		decision, err := policy.Apply(lookup, primary, secondary, vr.verdict, now)
		if err != nil {
			res.Rejected++
			log.Printf("[CONSOLIDATE] Rejected %s <- %s: %v", primary.ID, secondary.ID, err)
			res.Errors = append(res.Errors, fmt.Sprintf("%s/%s: %v", cand.A, cand.B, err))
			continue
		}
		decision.Similarity = cand.Similarity

		res.ConsolidationsPerformed++
		res.ChunksAbsorbed++
		res.TypeBreakdown[decision.Type]++
		res.Preview = append(res.Preview, decision)
		dirty[primary.ID] = true
		dirty[secondary.ID] = true
		if primary.OriginalText != text {
			rewritten[primary.ID] = true
		}
	}

	if !opts.DryRun && len(dirty) > 0 {
		// Persist even when the caller cancelled mid-pass: merges are
		// applied whole or not at all.
		pctx := context.WithoutCancel(ctx)
		if err := e.persist(pctx, working, dirty, rewritten, loaded, res); err != nil {
			return res, err
		}
	}

	if !opts.DryRun && cancelled == nil && e.meta != nil {
		if err := e.meta.SetMeta(ctx, MetaLastPass, now.UTC().Format(time.RFC3339Nano)); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("record pass time: %v", err))
		}
	}

	if opts.Sweep && cancelled == nil {
		marked, eligible, err := e.sweep(ctx, now, opts.DryRun, working)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("sweep: %v", err))
		}
		res.DeletionMarked, res.DeletionEligible = marked, eligible
	}

	res.Duration = e.now().Sub(start)
	span.SetAttributes(
		attribute.Int("candidates", res.CandidatesEvaluated),
		attribute.Int("consolidations", res.ConsolidationsPerformed),
		attribute.Int("unresolved", res.Unresolved),
		attribute.Int("rejected", res.Rejected),
	)
	log.Printf("[CONSOLIDATE] Pass done (dry_run=%v candidates=%d merged=%d unresolved=%d rejected=%d skipped=%d)",
		opts.DryRun, res.CandidatesEvaluated, res.ConsolidationsPerformed, res.Unresolved, res.Rejected, res.Skipped)
	return res, cancelled
}

// classify fans out one classification per candidate whose chunks are both
// live. Failures and timeouts are returned per candidate, never as a whole.
func (e *Engine) classify(ctx context.Context, candidates []Candidate, chunks map[string]*memory.ChunkPayload) []classified {
	out := make([]classified, len(candidates))

	limit := e.limiter.Limit()
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)

	for i, cand := range candidates {
		if ctx.Err() != nil {
			break
		}
		a, b := chunks[cand.A], chunks[cand.B]
		if a == nil || b == nil || a.Superseded() || b.Superseded() {
			continue
		}
		first, second := Order(a, b)
		// Snapshots: the classifier must not see merges applied later.
		first, second = first.Clone(), second.Clone()

		g.Go(func() error {
			cctx := ctx
			if e.timeout > 0 {
				var cancel context.CancelFunc
				cctx, cancel = context.WithTimeout(ctx, e.timeout)
				defer cancel()
			}
			v, err := e.classifier.Classify(cctx, first, second)
			if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
				err = fmt.Errorf("classification timed out after %s", e.timeout)
			}
			out[i] = classified{verdict: v, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// lookup resolves ancestors from the working set first, then the store.
func (e *Engine) lookup(ctx context.Context, working map[string]*memory.ChunkPayload) memory.Lookup {
	return func(id string) (*memory.ChunkPayload, bool) {
		if c, ok := working[id]; ok {
			return c, true
		}
		c, err := e.chunks.Get(ctx, id)
		if err != nil {
			return nil, false
		}
		working[id] = c
		return c, true
	}
}

// persist writes every touched chunk in one transaction. Access statistics
// recorded by searches since the pass loaded its chunks are carried over.
func (e *Engine) persist(ctx context.Context, working map[string]*memory.ChunkPayload, dirty, rewritten map[string]bool, loaded map[string]*memory.ChunkPayload, res *core.ConsolidationResult) error {
	ids := make([]string, 0, len(dirty))
	for id := range dirty {
		ids = append(ids, id)
	}
	fresh, err := e.chunks.GetMany(ctx, ids)
	if err != nil {
		return fmt.Errorf("reload chunks: %w", err)
	}

	out := make([]*memory.ChunkPayload, 0, len(ids))
	for _, id := range ids {
		c := working[id]
		if f, ok := fresh[id]; ok {
			c.AccessCount = max(c.AccessCount, f.AccessCount)
			if f.LastAccessedAt != nil && (c.LastAccessedAt == nil || f.LastAccessedAt.After(*c.LastAccessedAt)) {
				t := *f.LastAccessedAt
				c.LastAccessedAt = &t
			}
		}
		out = append(out, c)
	}

	// Vectors first: a failed re-embed keeps the old text's vector, which
	// still points at the right chunk.
	for _, id := range ids {
		c := working[id]
		before := loaded[id]
		levelChanged := before == nil || before.ConsolidationLevel != c.ConsolidationLevel
		if !rewritten[id] && !levelChanged {
			continue
		}
		if err := e.reindex(ctx, c, rewritten[id]); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: reindex: %v", id, err))
		}
	}

	if err := e.chunks.Put(ctx, out...); err != nil {
		return fmt.Errorf("store merges: %w", err)
	}
	return nil
}

func (e *Engine) reindex(ctx context.Context, c *memory.ChunkPayload, textChanged bool) error {
	var (
		emb []float32
		err error
	)
	if textChanged && e.embedder != nil {
		emb, err = e.embedder.Embed(ctx, c.OriginalText)
	} else {
		emb, err = e.vectors.Embedding(ctx, c.ID)
	}
	if err != nil {
		return err
	}
	return e.vectors.Upsert(ctx, c.ID, emb, map[string]string{
		"file_path": c.FilePath,
		"level":     fmt.Sprint(int(c.ConsolidationLevel)),
	})
}

// Sweep recomputes stability for every chunk and applies the deletion
// policy. Nothing is ever deleted; eligibility is only recorded.
func (e *Engine) Sweep(ctx context.Context, dryRun bool) (marked, eligible int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sweep(ctx, e.now(), dryRun, nil)
}

func (e *Engine) sweep(ctx context.Context, now time.Time, dryRun bool, pending map[string]*memory.ChunkPayload) (marked, eligible int, err error) {
	ctx, span := e.tracer.Start(ctx, "consolidate.Sweep")
	defer span.End()

	all, err := e.chunks.List(ctx, memory.ListOptions{IncludeSuperseded: true})
	if err != nil {
		return 0, 0, err
	}

	var changed []*memory.ChunkPayload
	for _, c := range all {
		if err := ctx.Err(); err != nil {
			return marked, eligible, err
		}
		// A dry run sees its own unpersisted merges.
		if p, ok := pending[c.ID]; ok && dryRun {
			c = p.Clone()
		}
		if e.stability.Evaluate(c, now, orphaned(c)) {
			changed = append(changed, c)
		}
		if c.DeletionMarkedAt != nil {
			marked++
		}
		if c.DeletionEligible {
			eligible++
		}
	}

	if !dryRun && len(changed) > 0 {
		if err := e.chunks.Put(ctx, changed...); err != nil {
			return marked, eligible, fmt.Errorf("store sweep: %w", err)
		}
	}
	log.Printf("[CONSOLIDATE] Sweep done (chunks=%d marked=%d eligible=%d)", len(all), marked, eligible)
	return marked, eligible, nil
}

// orphaned reports a live chunk whose source file is gone: nothing
// supersedes it and nothing will re-ingest it.
func orphaned(c *memory.ChunkPayload) bool {
	if c.Superseded() || c.FilePath == "" {
		return false
	}
	_, err := os.Stat(c.FilePath)
	return errors.Is(err, os.ErrNotExist)
}
