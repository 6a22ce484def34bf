// Package catalog defines the boundary to the external music catalog and the
// candidate fetcher that queries it. The Source interface abstracts the
// upstream recommendation API so implementations (the Spotify-backed client in
// pkg/spotify, fakes in tests) can be swapped without touching the fetcher's
// resilience logic. The fetcher is the sole owner of retry, backoff and
// rate-limit handling for this boundary.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"EmotionBeats-Go/pkg/emotion"
)

// Candidate is one track fetched from the catalog together with the data the
// ranking engine needs. Candidates are ephemeral: fetched fresh each cycle and
// never persisted.
type Candidate struct {
	ID         string
	Name       string
	Artists    []string
	Genres     []string
	Features   map[emotion.Feature]float64
	Popularity int
}

// Query is one upstream request. SeedGenres and SeedArtists together must not
// exceed the upstream seed limit; the fetcher guarantees this when it builds
// queries.
type Query struct {
	SeedGenres  []string
	SeedArtists []string
	Target      emotion.Target
	Limit       int
}

// Source issues a single query against the external catalog. Implementations
// should honour ctx and translate upstream throttling into *RateLimitError so
// the fetcher can back off.
type Source interface {
	Recommend(ctx context.Context, q Query) ([]Candidate, error)
}

// RateLimitError signals that the upstream rejected a request for exceeding
// its rate budget. RetryAfter, when positive, is the upstream's own suggestion
// for how long to wait before retrying.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("catalog rate limited, retry after %s", e.RetryAfter)
	}
	return "catalog rate limited"
}

// ErrUpstreamUnavailable indicates the catalog could not be fully queried even
// after retries. It is returned alongside whatever candidates were gathered
// before the failure; callers must treat the result as partial rather than
// empty.
var ErrUpstreamUnavailable = errors.New("catalog upstream unavailable")
