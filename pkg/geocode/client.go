// Package geocode resolves contact addresses to coordinates through the Google
// Geocoding API, with a persistent cache in front of it.
package geocode

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/crm-dedup/internal/resilience"
)

// Client geocodes free-form address strings.
type Client interface {
	// Geocode geocodes a single address. An address nobody can place is a
	// result with Matched false, not an error.
	Geocode(ctx context.Context, query string) (*Result, error)

	// BatchGeocode geocodes addresses concurrently. Results are in input
	// order; a failed address yields a Result with Err set.
	BatchGeocode(ctx context.Context, queries []string) ([]Result, error)
}

// Result holds the geocoding output for an address.
type Result struct {
	Query            string  `json:"query"`
	Latitude         float64 `json:"lat,omitempty"`
	Longitude        float64 `json:"lng,omitempty"`
	FormattedAddress string  `json:"formatted_address,omitempty"`
	Source           string  `json:"source,omitempty"`  // "google" or "cache"
	Quality          string  `json:"quality,omitempty"` // "rooftop", "range", "centroid", "approximate"
	Matched          bool    `json:"matched"`
	Err              string  `json:"error,omitempty"`
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithGoogleAPIKey sets the Google Geocoding API key.
func WithGoogleAPIKey(key string) Option {
	return func(g *geocoder) {
		g.googleKey = key
	}
}

// WithHTTPClient sets a custom HTTP client for Google requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second rate limit for Google calls.
func WithRateLimit(rps float64) Option {
	return func(g *geocoder) {
		if rps > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
		}
	}
}

// WithRegion biases results towards a ccTLD region code such as "ua".
func WithRegion(region string) Option {
	return func(g *geocoder) {
		g.region = region
	}
}

// WithCache puts c in front of the provider. Matches and misses are cached.
func WithCache(c Cache) Option {
	return func(g *geocoder) {
		g.cache = c
	}
}

// WithConcurrency limits the number of addresses geocoded at once by
// BatchGeocode.
func WithConcurrency(n int) Option {
	return func(g *geocoder) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

// WithBreaker overrides the circuit breaker thresholds: the breaker opens
// after failures consecutive errors and lets one request through again after cooldown.
func WithBreaker(failures uint32, cooldown time.Duration) Option {
	return func(g *geocoder) {
		g.breakerFailures = failures
		g.breakerCooldown = cooldown
	}
}

// WithRetry sets the retry policy for transient Google failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(g *geocoder) {
		g.retry = cfg
	}
}

type geocoder struct {
	httpClient  *http.Client
	googleKey   string
	region      string
	limiter     *rate.Limiter
	cache       Cache
	concurrency int
	retry       resilience.RetryConfig

	breakerFailures uint32
	breakerCooldown time.Duration
	breaker         *gobreaker.CircuitBreaker[*Result]
}

// NewClient creates a new geocoding Client with the given options.
func NewClient(opts ...Option) Client {
	g := &geocoder{
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		limiter:         rate.NewLimiter(10, 10),
		concurrency:     5,
		breakerFailures: 5,
		breakerCooldown: 30 * time.Second,
		retry:           resilience.DefaultRetryConfig(),
	}
	g.retry.MaxAttempts = 3
	for _, opt := range opts {
		opt(g)
	}
	if g.retry.OnRetry == nil {
		g.retry.OnRetry = resilience.RetryLogger("google", "geocode")
	}
	g.breaker = gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
		Name:        "google-geocode",
		MaxRequests: 1,
		Timeout:     g.breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= g.breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.L().Warn("geocode: circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return g
}

// Geocode checks the cache, then tries progressively broader variants of the
// address against Google until one matches.
func (g *geocoder) Geocode(ctx context.Context, query string) (*Result, error) {
	key := cacheKey(query)
	if key == "" {
		return &Result{Query: query}, nil
	}

	if g.cache != nil {
		cached, ok, err := g.cache.Get(ctx, key)
		if err != nil {
			zap.L().Warn("geocode: cache read failed", zap.Error(err))
		} else if ok {
			cached.Query = query
			cached.Source = "cache"
			return cached, nil
		}
	}

	result := &Result{Query: query, Source: "google"}
	for _, attempt := range searchAttempts(query) {
		r, err := resilience.DoVal(ctx, g.retry, func(ctx context.Context) (*Result, error) {
			return g.breaker.Execute(func() (*Result, error) {
				return g.geocodeGoogle(ctx, attempt)
			})
		})
		if err != nil {
			return nil, eris.Wrapf(err, "geocode: %q", query)
		}
		if r.Matched {
			result = r
			result.Query = query
			break
		}
	}

	if g.cache != nil {
		if err := g.cache.Put(ctx, key, result); err != nil {
			zap.L().Warn("geocode: cache write failed", zap.Error(err))
		}
	}
	return result, nil
}

// BatchGeocode fans queries out over a bounded worker group. Equal queries
// (after normalization) are geocoded once.
func (g *geocoder) BatchGeocode(ctx context.Context, queries []string) ([]Result, error) {
	if len(queries) == 0 {
		return nil, nil
	}

	results := make([]Result, len(queries))
	first := make(map[string]int, len(queries))
	var dups [][2]int

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, q := range queries {
		key := cacheKey(q)
		if j, ok := first[key]; ok && key != "" {
			dups = append(dups, [2]int{i, j})
			continue
		}
		first[key] = i

		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := g.Geocode(gctx, q)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				results[i] = Result{Query: q, Err: err.Error()}
				return nil
			}
			results[i] = *r
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return results, eris.Wrap(err, "geocode: batch")
	}

	for _, d := range dups {
		results[d[0]] = results[d[1]]
		results[d[0]].Query = queries[d[0]]
	}
	return results, nil
}
