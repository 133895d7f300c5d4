// Package throttle bounds the number of concurrently in-flight generation
// calls between a floor and a ceiling, adjusting on sampled system pressure.
//
// The controller never blocks callers. It only publishes the permitted
// concurrency, which worker pools read through Limit when they size
// themselves.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Sample is one reading of system pressure.
type Sample struct {
	CPUPercent    float64
	MemoryPercent float64
	LoadPerCPU    float64
	At            time.Time
}

// Sampler reads system pressure.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(ctx context.Context) (Sample, error)

func (f SamplerFunc) Sample(ctx context.Context) (Sample, error) { return f(ctx) }

// Thresholds decide when a sample counts as high pressure.
type Thresholds struct {
	// CPUHigh and MemoryHigh are percentages [0-100].
	CPUHigh    float64
	MemoryHigh float64

	// LoadHigh is the one-minute load average divided by logical CPUs.
	LoadHigh float64

	// SustainSamples is the number of consecutive nominal samples required
	// before stepping up.
	SustainSamples int
}

// DefaultThresholds mirror the daemon defaults.
var DefaultThresholds = Thresholds{
	CPUHigh:        85,
	MemoryHigh:     90,
	LoadHigh:       1.5,
	SustainSamples: 3,
}

// High reports whether s exceeds any threshold. Zero thresholds are ignored.
func (t Thresholds) High(s Sample) bool {
	return (t.CPUHigh > 0 && s.CPUPercent >= t.CPUHigh) ||
		(t.MemoryHigh > 0 && s.MemoryPercent >= t.MemoryHigh) ||
		(t.LoadHigh > 0 && s.LoadPerCPU >= t.LoadHigh)
}

// Controller holds the permitted concurrency.
type Controller struct {
	floor, ceiling int
	thresholds     Thresholds
	sampler        Sampler
	interval       time.Duration

	limit atomic.Int64

	mu      sync.Mutex
	streak  int // consecutive nominal samples
	last    Sample
	sampled bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithThresholds sets the pressure thresholds.
func WithThresholds(t Thresholds) Option {
	return func(c *Controller) {
		c.thresholds = t
	}
}

// WithSampler sets the pressure source used by Run.
func WithSampler(s Sampler) Option {
	return func(c *Controller) {
		c.sampler = s
	}
}

// WithInterval sets the sampling period used by Run.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		c.interval = d
	}
}

// WithInitial sets the starting concurrency, clamped to [floor, ceiling].
func WithInitial(n int) Option {
	return func(c *Controller) {
		c.limit.Store(int64(c.clamp(n)))
	}
}

// New creates a controller. It starts at the ceiling: nothing is known
// about pressure until the first sample, and a high sample steps down at once.
func New(floor, ceiling int, opts ...Option) (*Controller, error) {
	if floor < 1 {
		return nil, fmt.Errorf("floor must be >= 1, got %d", floor)
	}
	if ceiling < floor {
		return nil, fmt.Errorf("ceiling %d below floor %d", ceiling, floor)
	}
	c := &Controller{
		floor:      floor,
		ceiling:    ceiling,
		thresholds: DefaultThresholds,
		interval:   10 * time.Second,
	}
	c.limit.Store(int64(ceiling))
	for _, opt := range opts {
		opt(c)
	}
	if c.thresholds.SustainSamples < 1 {
		c.thresholds.SustainSamples = 1
	}
	return c, nil
}

// Limit returns the permitted concurrency. Safe for concurrent use.
func (c *Controller) Limit() int {
	return int(c.limit.Load())
}

// Bounds returns the floor and ceiling.
func (c *Controller) Bounds() (floor, ceiling int) {
	return c.floor, c.ceiling
}

// Last returns the most recent sample.
func (c *Controller) Last() (Sample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.sampled
}

// Observe applies one sample and returns the new limit. High pressure
// steps down by one; SustainSamples nominal samples in a row step up by
// one. A single sample never moves the limit by more than one.
func (c *Controller) Observe(s Sample) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.last = s
	c.sampled = true
	current := c.Limit()
	next := current

	if c.thresholds.High(s) {
		c.streak = 0
		next = c.clamp(current - 1)
	} else {
		c.streak++
		if c.streak >= c.thresholds.SustainSamples {
			c.streak = 0
			next = c.clamp(current + 1)
		}
	}

	if next != current {
		c.limit.Store(int64(next))
		log.Printf("[THROTTLE] Concurrency %d -> %d (cpu=%.0f%% mem=%.0f%% load=%.2f)",
			current, next, s.CPUPercent, s.MemoryPercent, s.LoadPerCPU)
	}
	return next
}

// Run samples every interval until ctx is done. Sampling errors are logged
// and skipped; they never move the limit.
func (c *Controller) Run(ctx context.Context) error {
	if c.sampler == nil {
		return errors.New("throttle: no sampler configured")
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s, err := c.sampler.Sample(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("[THROTTLE] Sample failed: %v", err)
				continue
			}
			c.Observe(s)
		}
	}
}

func (c *Controller) clamp(n int) int {
	if n < c.floor {
		return c.floor
	}
	if n > c.ceiling {
		return c.ceiling
	}
	return n
}
