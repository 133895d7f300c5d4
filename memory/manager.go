package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/becomeliminal/atlas/core"
)

// Manager runs ingestion and search over a ChunkStore and a VectorIndex.
//
// Ingestion walks paths, chunks files at paragraph boundaries, generates
// QNTM keys and embeddings with bounded concurrency, then stores payloads
// and vectors. Search embeds the query, over-fetches from the index,
// optionally reranks, and records an access on every returned chunk.
type Manager struct {
	chunks   ChunkStore
	vectors  VectorIndex
	embedder Embedder
	keys     KeyGenerator // Optional: heuristic keys when nil
	reranker Reranker     // Optional
	limiter  Limiter
	config   *Config
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithKeyGenerator sets the QNTM key generator.
func WithKeyGenerator(k KeyGenerator) Option {
	return func(m *Manager) {
		m.keys = k
	}
}

// WithReranker sets the reranker used by Search.
func WithReranker(r Reranker) Option {
	return func(m *Manager) {
		m.reranker = r
	}
}

// WithLimiter sets the source of the ingestion worker pool size.
func WithLimiter(l Limiter) Option {
	return func(m *Manager) {
		m.limiter = l
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a new Manager.
func NewManager(chunks ChunkStore, vectors VectorIndex, embedder Embedder, config *Config, opts ...Option) *Manager {
	if config == nil {
		config = DefaultConfig
	}
	m := &Manager{
		chunks:   chunks,
		vectors:  vectors,
		embedder: embedder,
		limiter:  FixedLimit(1),
		config:   config,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Chunks returns the chunk store.
func (m *Manager) Chunks() ChunkStore {
	return m.chunks
}

// Vectors returns the vector index.
func (m *Manager) Vectors() VectorIndex {
	return m.vectors
}

// Ingest stores every eligible file under paths. Per-file failures are
// reported in the result; only cancellation aborts the operation.
func (m *Manager) Ingest(ctx context.Context, in core.IngestInput) (*core.IngestResult, error) {
	res := &core.IngestResult{Errors: []string{}}

	importance := ImportanceNormal
	if in.Importance != "" {
		imp, err := ParseImportance(in.Importance)
		if err != nil {
			return nil, err
		}
		importance = imp
	}

	files, skipped, errs := m.collect(in.Paths)
	res.FilesSkipped += skipped
	res.Errors = append(res.Errors, errs...)

	log.Printf("[MEMORY] Ingesting %d files", len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		stored, unchanged, fileErrs, err := m.ingestFile(ctx, path, importance)
		res.Errors = append(res.Errors, fileErrs...)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		if unchanged {
			res.FilesSkipped++
			continue
		}
		res.FilesProcessed++
		res.ChunksStored += stored
	}

	log.Printf("[MEMORY] Ingested %d files, %d chunks (%d skipped, %d errors)",
		res.FilesProcessed, res.ChunksStored, res.FilesSkipped, len(res.Errors))
	return res, nil
}

// collect expands paths into the files to ingest.
func (m *Manager) collect(paths []string) (files []string, skipped int, errs []string) {
	seen := make(map[string]bool)
	add := func(path string, size int64) {
		if !m.eligible(path) || size > m.config.MaxFileBytes {
			skipped++
			return
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		if !seen[abs] {
			seen[abs] = true
			files = append(files, abs)
		}
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", root, err))
			continue
		}
		if !info.IsDir() {
			add(root, info.Size())
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", path, err))
				return nil
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			info, err := d.Info()
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", path, err))
				return nil
			}
			add(path, info.Size())
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", root, err))
		}
	}

	sort.Strings(files)
	return files, skipped, errs
}

func (m *Manager) eligible(path string) bool {
	if len(m.config.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range m.config.Extensions {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// ingestFile chunks, keys, embeds and stores one file. unchanged is true
// when the same content was already ingested.
func (m *Manager) ingestFile(ctx context.Context, path string, importance Importance) (stored int, unchanged bool, errs []string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false, nil, err
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	existing, err := m.chunks.List(ctx, ListOptions{FilePath: path, IncludeSuperseded: true})
	if err != nil {
		return 0, false, nil, fmt.Errorf("list existing chunks: %w", err)
	}
	hashOf := make(map[string]string, len(existing))
	for _, c := range existing {
		hashOf[c.ID] = c.FileHash
	}
	for _, c := range existing {
		// A chunk replaced by a later edit of this file does not count; a
		// file reverted to that content is ingested again.
		if next, edited := hashOf[c.SupersededBy]; edited && next != c.FileHash {
			continue
		}
		if c.FileHash == hash {
			return 0, true, nil, nil
		}
	}

	pieces := ChunkText(string(data), m.config.ChunkSize)
	if len(pieces) == 0 {
		return 0, false, nil, nil
	}

	now := m.now()
	payloads := make([]*ChunkPayload, len(pieces))
	embeddings := make([][]float32, len(pieces))
	failures := make([]error, len(pieces))
	for i, p := range pieces {
		c := NewChunk(p.Text, path, hash, i, nil, now)
		c.StartLine = p.StartLine
		c.EndLine = p.EndLine
		c.Importance = importance
		payloads[i] = c
	}

	limit := m.limiter.Limit()
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range payloads {
		g.Go(func() error {
			c := payloads[i]
			c.QNTMKeys = m.generateKeys(gctx, c.OriginalText)

			emb, err := m.embedder.Embed(gctx, c.OriginalText)
			if err != nil {
				failures[i] = err
				return nil
			}
			embeddings[i] = emb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, false, nil, err
	}
	if err := ctx.Err(); err != nil {
		return 0, false, nil, err
	}

	var ready []*ChunkPayload
	for i, c := range payloads {
		if failures[i] != nil {
			errs = append(errs, fmt.Sprintf("%s#%d: embed: %v", path, i, failures[i]))
			continue
		}
		meta := map[string]string{
			"file_path": path,
			"level":     fmt.Sprint(int(c.ConsolidationLevel)),
		}
		if err := m.vectors.Upsert(ctx, c.ID, embeddings[i], meta); err != nil {
			errs = append(errs, fmt.Sprintf("%s#%d: index: %v", path, i, err))
			continue
		}
		ready = append(ready, c)
	}

	if len(ready) > 0 {
		stale := supersedeStale(existing, ready)
		if err := m.chunks.Put(ctx, append(ready, stale...)...); err != nil {
			return 0, false, errs, fmt.Errorf("store chunks: %w", err)
		}
		if len(stale) > 0 {
			log.Printf("[MEMORY]   Superseded %d chunks from the previous version of %s", len(stale), path)
		}
	}
	log.Printf("[MEMORY]   Stored %d/%d chunks from %s", len(ready), len(payloads), path)
	return len(ready), false, errs, nil
}

// supersedeStale points each live chunk of an older file version at the new
// chunk in the same position, or the last new chunk when the file shrank.
// Chunks that already absorbed others through consolidation stay live.
func supersedeStale(existing, fresh []*ChunkPayload) []*ChunkPayload {
	byIndex := make(map[int]string, len(fresh))
	for _, c := range fresh {
		byIndex[c.ChunkIndex] = c.ID
	}
	last := fresh[len(fresh)-1].ID

	var stale []*ChunkPayload
	for _, c := range existing {
		if c.Superseded() || len(c.Parents) > 0 {
			continue
		}
		out := c.Clone()
		if id, ok := byIndex[c.ChunkIndex]; ok {
			out.SupersededBy = id
		} else {
			out.SupersededBy = last
		}
		stale = append(stale, out)
	}
	return stale
}

// generateKeys asks the key generator for QNTM keys and falls back to
// heuristic keys when it is absent or fails. The result is never empty.
func (m *Manager) generateKeys(ctx context.Context, text string) []string {
	n := m.config.KeysPerChunk
	if n <= 0 {
		n = 5
	}
	if m.keys != nil && m.config.GenerateKeys {
		keys, err := m.keys.GenerateKeys(ctx, text, n)
		if err == nil {
			if keys = UnionKeys(nil, normalizeKeys(keys)); len(keys) > 0 {
				if len(keys) > n {
					keys = keys[:n]
				}
				return keys
			}
		} else if !errors.Is(err, context.Canceled) {
			log.Printf("[MEMORY] Key generation failed, using heuristic keys: %v", err)
		}
	}
	return HeuristicKeys(text, n)
}

func normalizeKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

var stopwords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"there": true, "their": true, "which": true, "would": true, "about": true,
	"into": true, "when": true, "where": true, "what": true, "will": true,
	"then": true, "than": true, "they": true, "them": true, "been": true,
	"were": true, "also": true, "each": true, "only": true, "other": true,
	"return": true, "func": true, "string": true, "these": true, "those": true,
}

// HeuristicKeys picks the n most frequent words of at least four letters,
// ties broken alphabetically. Used when no completion backend can serve.
func HeuristicKeys(text string, n int) []string {
	counts := make(map[string]int)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-'
	})
	for _, w := range words {
		w = strings.Trim(w, "-_")
		if len([]rune(w)) < 4 || stopwords[w] {
			continue
		}
		counts[w]++
	}

	ranked := make([]string, 0, len(counts))
	for w := range counts {
		ranked = append(ranked, w)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if counts[ranked[i]] != counts[ranked[j]] {
			return counts[ranked[i]] > counts[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	if len(ranked) == 0 {
		return []string{"untitled"}
	}
	return ranked
}

// Search returns chunks similar to the query, best first.
func (m *Manager) Search(ctx context.Context, in core.SearchInput) (*core.SearchResult, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, errors.New("empty query")
	}

	limit := in.Limit
	if limit <= 0 {
		limit = m.config.DefaultLimit
	}
	minScore := m.config.MinScore
	if in.MinScore != nil {
		minScore = *in.MinScore
	}

	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rerank := m.reranker != nil && m.config.Rerank && !in.NoRerank
	fetch := limit
	if rerank || in.MinLevel > 0 || in.PathPrefix != "" || !in.IncludeSuperseded {
		mult := m.config.CandidateMultiplier
		if mult < 1 {
			mult = 1
		}
		fetch = limit * mult
	}

	matches, err := m.vectors.Query(ctx, embedding, fetch, nil)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	ids := make([]string, len(matches))
	for i, match := range matches {
		ids[i] = match.ID
	}
	payloads, err := m.chunks.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}

	res := &core.SearchResult{Query: query, Hits: []core.SearchHit{}}
	var texts []string
	for _, match := range matches {
		c, ok := payloads[match.ID]
		if !ok {
			continue
		}
		if c.Superseded() && !in.IncludeSuperseded {
			continue
		}
		if int(c.ConsolidationLevel) < in.MinLevel {
			continue
		}
		if in.PathPrefix != "" && !strings.HasPrefix(c.FilePath, in.PathPrefix) {
			continue
		}
		if match.Similarity < minScore {
			continue
		}
		res.Hits = append(res.Hits, hitFor(c, match.Similarity))
		texts = append(texts, c.OriginalText)
	}

	if rerank && len(res.Hits) > 1 {
		ranked, err := m.reranker.Rerank(ctx, query, texts, limit)
		if err != nil {
			log.Printf("[MEMORY] Rerank failed, keeping vector order: %v", err)
			res.Errors = append(res.Errors, fmt.Sprintf("rerank: %v", err))
		} else {
			reordered := make([]core.SearchHit, 0, len(ranked))
			for _, r := range ranked {
				if r.Index < 0 || r.Index >= len(res.Hits) {
					continue
				}
				hit := res.Hits[r.Index]
				hit.Score = r.Score
				reordered = append(reordered, hit)
			}
			res.Hits = reordered
			res.Reranked = true
		}
	}

	if len(res.Hits) > limit {
		res.Hits = res.Hits[:limit]
	}

	if len(res.Hits) > 0 {
		touched := make([]string, len(res.Hits))
		for i, h := range res.Hits {
			touched[i] = h.ID
		}
		if err := m.chunks.Touch(ctx, m.now(), touched...); err != nil {
			log.Printf("[MEMORY] Failed to record access: %v", err)
		}
	}

	log.Printf("[MEMORY] Search %q: %d hits (reranked=%v)", truncateLog(query, 50), len(res.Hits), res.Reranked)
	return res, nil
}

func hitFor(c *ChunkPayload, score float64) core.SearchHit {
	return core.SearchHit{
		ID:           c.ID,
		Text:         c.OriginalText,
		FilePath:     c.FilePath,
		StartLine:    c.StartLine,
		EndLine:      c.EndLine,
		Score:        score,
		Level:        int(c.ConsolidationLevel),
		Keys:         append([]string(nil), c.QNTMKeys...),
		SupersededBy: c.SupersededBy,
	}
}

// truncateLog truncates text for logging.
func truncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Config holds Manager configuration.
type Config struct {
	// ChunkSize is the target chunk length in bytes.
	// Default: 1000
	ChunkSize int

	// MaxFileBytes skips larger files.
	// Default: 1048576
	MaxFileBytes int64

	// Extensions lists the suffixes to ingest. Empty accepts every file.
	Extensions []string

	// GenerateKeys enables the key generator when one is set.
	// Default: true
	GenerateKeys bool

	// KeysPerChunk bounds the QNTM keys per chunk.
	// Default: 5
	KeysPerChunk int

	// DefaultLimit is the search result count when none is requested.
	// Default: 10
	DefaultLimit int

	// MinScore is the minimum similarity for search results [0.0-1.0].
	// Default: 0.3
	MinScore float64

	// Rerank applies the reranker when one is set.
	// Default: true
	Rerank bool

	// CandidateMultiplier over-fetches before filtering and reranking.
	// Default: 3
	CandidateMultiplier int
}

// DefaultConfig mirrors the documented ingestion and search defaults.
var DefaultConfig = &Config{
	ChunkSize:           1000,
	MaxFileBytes:        1 << 20,
	GenerateKeys:        true,
	KeysPerChunk:        5,
	DefaultLimit:        10,
	MinScore:            0.3,
	Rerank:              true,
	CandidateMultiplier: 3,
}
