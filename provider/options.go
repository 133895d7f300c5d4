package provider

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/becomeliminal/atlas/config"
	"github.com/becomeliminal/atlas/registry"
)

// Option configures Build.
type Option func(*settings)

type settings struct {
	httpClient   *http.Client
	rps          rate.Limit
	burst        int
	baseURLs     map[config.Provider]string
	claudeBinary string
	registryOpts []registry.Option

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// WithHTTPClient sets the client used by the HTTP providers.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) {
		s.httpClient = c
	}
}

// WithRateLimit bounds requests per second to each provider. All backends
// of one provider share a bucket. Zero disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *settings) {
		if rps <= 0 {
			s.rps = rate.Inf
		} else {
			s.rps = rate.Limit(rps)
		}
		s.burst = burst
	}
}

// WithBaseURL points a provider at a different API root.
func WithBaseURL(p config.Provider, url string) Option {
	return func(s *settings) {
		s.baseURLs[p] = url
	}
}

// WithClaudeBinary sets the claude-code executable.
// Default: claude (resolved on PATH)
func WithClaudeBinary(path string) Option {
	return func(s *settings) {
		s.claudeBinary = path
	}
}

// WithRegistryOptions passes options to the created registry.
func WithRegistryOptions(opts ...registry.Option) Option {
	return func(s *settings) {
		s.registryOpts = append(s.registryOpts, opts...)
	}
}

func newSettings(opts []Option) *settings {
	s := &settings{
		rps:          rate.Limit(10),
		burst:        5,
		baseURLs:     map[config.Provider]string{},
		claudeBinary: "claude",
		limiters:     map[string]*rate.Limiter{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.httpClient == nil {
		s.httpClient = defaultHTTPClient()
	}
	if s.burst < 1 {
		s.burst = 1
	}
	return s
}

func (s *settings) limiterFor(provider string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[provider]
	if !ok {
		l = rate.NewLimiter(s.rps, s.burst)
		s.limiters[provider] = l
	}
	return l
}

func (s *settings) baseURL(p config.Provider, fallback string) string {
	if u, ok := s.baseURLs[p]; ok && u != "" {
		return u
	}
	return fallback
}
