package consolidate

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/becomeliminal/atlas/core"
	"github.com/becomeliminal/atlas/memory"
)

// Threshold is the number of new chunks that triggers a pass:
// base + scale × collection size, rounded up.
func Threshold(base int, scale float64, size int) int {
	return base + int(math.Ceil(scale*float64(size)))
}

// Runner runs a consolidation pass. *Engine implements it.
type Runner interface {
	Run(ctx context.Context, opts Options) (*core.ConsolidationResult, error)
}

// Watchdog triggers passes once enough new material has arrived since the
// last one. The bar rises with the collection, bounding the share of memory
// re-scanned per pass.
type Watchdog struct {
	runner   Runner
	chunks   memory.ChunkStore
	meta     memory.MetaStore
	base     int
	scale    float64
	interval time.Duration
}

// NewWatchdog creates a watchdog. meta supplies the time of the last pass;
// without one, every chunk counts as new.
func NewWatchdog(runner Runner, chunks memory.ChunkStore, meta memory.MetaStore, base int, scale float64, interval time.Duration) *Watchdog {
	return &Watchdog{
		runner:   runner,
		chunks:   chunks,
		meta:     meta,
		base:     base,
		scale:    scale,
		interval: interval,
	}
}

// Due reports whether a pass should run now, with the counts behind the
// decision.
func (w *Watchdog) Due(ctx context.Context) (due bool, fresh, threshold int, err error) {
	size, err := w.chunks.Count(ctx)
	if err != nil {
		return false, 0, 0, err
	}
	since, err := LastPass(ctx, w.meta)
	if err != nil {
		return false, 0, 0, err
	}
	fresh, err = w.chunks.CountSince(ctx, since)
	if err != nil {
		return false, 0, 0, err
	}
	threshold = Threshold(w.base, w.scale, size)
	return fresh > threshold, fresh, threshold, nil
}

// Check runs one pass if it is due. It returns nil, nil when nothing ran.
func (w *Watchdog) Check(ctx context.Context) (*core.ConsolidationResult, error) {
	due, fresh, threshold, err := w.Due(ctx)
	if err != nil {
		return nil, err
	}
	if !due {
		return nil, nil
	}
	log.Printf("[CONSOLIDATE] Watchdog triggered (%d new chunks > threshold %d)", fresh, threshold)
	return w.runner.Run(ctx, Options{Sweep: true})
}

// Run checks every interval until ctx is done.
func (w *Watchdog) Run(ctx context.Context) error {
	if w.interval <= 0 {
		return fmt.Errorf("watchdog interval must be > 0")
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Check(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("[CONSOLIDATE] Watchdog check failed: %v", err)
			}
		}
	}
}

// LastPass reads the time of the last real pass; zero when none ran.
func LastPass(ctx context.Context, meta memory.MetaStore) (time.Time, error) {
	if meta == nil {
		return time.Time{}, nil
	}
	v, ok, err := meta.GetMeta(ctx, MetaLastPass)
	if err != nil || !ok {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", MetaLastPass, err)
	}
	return t, nil
}
