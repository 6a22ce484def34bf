// This file implements the candidate fetcher. It fans a recommendation cycle
// out into several seeded upstream queries, runs them with bounded
// concurrency, retries rate-limited or timed-out calls with capped, jittered
// exponential backoff, and merges the results into a deduplicated, bounded
// candidate list. Partial upstream failure yields whatever was gathered plus
// ErrUpstreamUnavailable, never a silent empty success.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"EmotionBeats-Go/pkg/emotion"
	"EmotionBeats-Go/pkg/metrics"
	"EmotionBeats-Go/pkg/prefs"
)

// maxSeedsPerQuery mirrors the catalog API's limit of five combined seed
// values per recommendation request.
const maxSeedsPerQuery = 5

// Config controls fetcher behaviour. The zero value is unusable; use
// DefaultConfig and override fields as needed.
type Config struct {
	// MaxInFlight caps concurrent upstream calls across one Fetch.
	MaxInFlight int
	// MaxAttempts is the per-query attempt ceiling including the first try.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff: delay = BaseDelay * 2^attempt.
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration
	// CallTimeout bounds each individual upstream call. A timeout is treated
	// like a rate-limit signal for retry purposes.
	CallTimeout time.Duration
	// PageSize is the per-query result limit requested from upstream.
	PageSize int
}

// DefaultConfig returns the production defaults: three requests in flight,
// four attempts per query, 250ms base backoff capped at 8s, 5s per call.
func DefaultConfig() Config {
	return Config{
		MaxInFlight: 3,
		MaxAttempts: 4,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		CallTimeout: 5 * time.Second,
		PageSize:    50,
	}
}

// Fetcher gathers candidates from a Source. It is safe for concurrent use by
// multiple sessions; the in-flight cap applies per Fetch call while the
// process-wide budget is enforced by sharing one Fetcher.
type Fetcher struct {
	src Source
	cfg Config
	log logrus.FieldLogger

	// sem caps in-flight upstream calls process-wide, independent of how
	// many sessions are fetching.
	sem chan struct{}
}

// NewFetcher wires a fetcher to an upstream source. A nil logger falls back to
// the standard logrus logger.
func NewFetcher(src Source, cfg Config, log logrus.FieldLogger) *Fetcher {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultConfig().MaxInFlight
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig().MaxDelay
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Fetcher{
		src: src,
		cfg: cfg,
		log: log.WithField("component", "catalog.fetcher"),
		sem: make(chan struct{}, cfg.MaxInFlight),
	}
}

// Fetch issues seeded queries for the given target and preferences and returns
// up to limit deduplicated candidates, minus anything in excluded. seedGenres
// are the profile-derived fallback seeds used when the preference set offers
// none of its own. When one or more queries exhaust their retries the gathered
// candidates are returned together with ErrUpstreamUnavailable.
func (f *Fetcher) Fetch(ctx context.Context, target emotion.Target, p prefs.Set, seedGenres []string, excluded map[string]struct{}, limit int) ([]Candidate, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("fetch limit must be positive, got %d", limit)
	}
	queries := f.buildQueries(target, p, seedGenres, limit)
	if len(queries) == 0 {
		return nil, nil
	}

	type pageResult struct {
		candidates []Candidate
		err        error
	}
	results := make([]pageResult, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q Query) {
			defer wg.Done()
			select {
			case f.sem <- struct{}{}:
				defer func() { <-f.sem }()
			case <-ctx.Done():
				results[i] = pageResult{err: ctx.Err()}
				return
			}
			cands, err := f.fetchPage(ctx, q)
			results[i] = pageResult{candidates: cands, err: err}
		}(i, q)
	}
	wg.Wait()

	// A cancelled cycle is the caller's doing, not an upstream outage; report
	// it as such instead of dressing it up as ErrUpstreamUnavailable.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Merge in query order so identical inputs produce identical output
	// regardless of goroutine scheduling.
	seen := make(map[string]struct{})
	var merged []Candidate
	failed := 0
	for i, r := range results {
		if r.err != nil {
			failed++
			f.log.WithError(r.err).WithField("query", i).Warn("catalog query failed")
			continue
		}
		for _, c := range r.candidates {
			if len(merged) >= limit {
				break
			}
			if _, dup := seen[c.ID]; dup {
				continue
			}
			if _, skip := excluded[c.ID]; skip {
				continue
			}
			seen[c.ID] = struct{}{}
			merged = append(merged, c)
		}
	}
	if failed > 0 {
		metrics.UpstreamFailures.Inc()
		return merged, fmt.Errorf("%w: %d of %d queries failed", ErrUpstreamUnavailable, failed, len(queries))
	}
	return merged, nil
}

// buildQueries derives the upstream query plan. Preferred artists and genres
// are interleaved into seed groups of at most five; with no preferences the
// profile's fallback genres seed a single query.
func (f *Fetcher) buildQueries(target emotion.Target, p prefs.Set, seedGenres []string, limit int) []Query {
	pageLimit := f.cfg.PageSize
	if limit < pageLimit {
		pageLimit = limit
	}

	artists := p.Artists()
	genres := p.Genres()
	if len(artists) == 0 && len(genres) == 0 {
		genres = seedGenres
	}
	if len(artists) == 0 && len(genres) == 0 {
		return nil
	}

	var queries []Query
	for len(artists) > 0 || len(genres) > 0 {
		q := Query{Target: target.Clone(), Limit: pageLimit}
		room := maxSeedsPerQuery
		// Artists first: a named artist is a stronger signal than a genre.
		for room > 0 && len(artists) > 0 {
			q.SeedArtists = append(q.SeedArtists, artists[0])
			artists = artists[1:]
			room--
		}
		for room > 0 && len(genres) > 0 {
			q.SeedGenres = append(q.SeedGenres, genres[0])
			genres = genres[1:]
			room--
		}
		queries = append(queries, q)
	}
	return queries
}

// fetchPage runs one query with the retry/backoff policy. Rate-limit signals
// and per-call timeouts are retried; any other upstream error fails the page
// immediately since retrying is unlikely to help.
func (f *Fetcher) fetchPage(ctx context.Context, q Query) ([]Candidate, error) {
	var lastErr error
	for attempt := 0; attempt < f.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.UpstreamRetries.Inc()
			if err := f.backoff(ctx, attempt, lastErr); err != nil {
				return nil, err
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, f.cfg.CallTimeout)
		cands, err := f.src.Recommend(callCtx, q)
		cancel()
		if err == nil {
			return cands, nil
		}
		lastErr = err
		var rle *RateLimitError
		switch {
		case errors.As(err, &rle):
			metrics.RateLimitHits.Inc()
		case errors.Is(err, context.DeadlineExceeded):
			if ctx.Err() != nil {
				// The cycle itself was cancelled, not just this call.
				return nil, ctx.Err()
			}
			// The per-call timeout fired; treat like a rate-limit signal.
		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("attempt ceiling reached: %w", lastErr)
}

// backoff sleeps for BaseDelay * 2^(attempt-1), capped at MaxDelay and
// jittered by up to half the delay. When the upstream supplied its own
// Retry-After hint that hint wins if longer.
func (f *Fetcher) backoff(ctx context.Context, attempt int, cause error) error {
	delay := f.cfg.BaseDelay << uint(attempt-1)
	if delay > f.cfg.MaxDelay {
		delay = f.cfg.MaxDelay
	}
	delay = delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))
	var rle *RateLimitError
	if errors.As(cause, &rle) && rle.RetryAfter > delay {
		delay = rle.RetryAfter
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
