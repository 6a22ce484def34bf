package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"EmotionBeats-Go/pkg/emotion"
	"EmotionBeats-Go/pkg/prefs"
)

// fakeSource scripts per-query behaviour keyed by the query's first seed.
type fakeSource struct {
	mu       sync.Mutex
	calls    int
	fail     map[string]error // first seed -> error returned every time
	failOnce map[string]error // first seed -> error returned on first call only
	served   map[string]int
	byID     func(seed string, i int) Candidate
}

func (f *fakeSource) Recommend(_ context.Context, q Query) ([]Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	seed := firstSeed(q)
	if err, ok := f.fail[seed]; ok {
		return nil, err
	}
	if err, ok := f.failOnce[seed]; ok && f.served[seed] == 0 {
		f.served[seed]++
		return nil, err
	}
	out := make([]Candidate, 0, 3)
	for i := 0; i < 3; i++ {
		if f.byID != nil {
			out = append(out, f.byID(seed, i))
			continue
		}
		out = append(out, Candidate{ID: fmt.Sprintf("%s-%d", seed, i)})
	}
	return out, nil
}

func firstSeed(q Query) string {
	if len(q.SeedArtists) > 0 {
		return q.SeedArtists[0]
	}
	if len(q.SeedGenres) > 0 {
		return q.SeedGenres[0]
	}
	return ""
}

func testTarget() emotion.Target {
	return emotion.Target{
		emotion.Valence: {Center: 0.5, Tolerance: 0.2},
	}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	cfg.CallTimeout = time.Second
	return cfg
}

// prefsWithArtists builds a preference set whose sorted artist list is
// exactly the given names.
func prefsWithArtists(t *testing.T, names []string) prefs.Set {
	t.Helper()
	s, diags := prefs.Normalize(prefs.Set{}, prefs.RawSignal{Artists: names})
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	return s
}

// TestFetchPartialFailure fails 3 of 5 seed groups permanently and expects
// the two healthy groups' candidates alongside ErrUpstreamUnavailable.
func TestFetchPartialFailure(t *testing.T) {
	var artists []string
	for i := 1; i <= 25; i++ {
		artists = append(artists, fmt.Sprintf("a%02d", i))
	}
	src := &fakeSource{
		fail: map[string]error{
			"a11": errors.New("boom"),
			"a16": errors.New("boom"),
			"a21": errors.New("boom"),
		},
		served: map[string]int{},
	}
	f := NewFetcher(src, fastConfig(), nil)
	got, err := f.Fetch(context.Background(), testTarget(), prefsWithArtists(t, artists), nil, nil, 100)
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("expected 6 candidates from the 2 healthy groups, got %d", len(got))
	}
}

// TestFetchAllQueriesFail expects ErrUpstreamUnavailable with an empty (but
// not nil-success) result.
func TestFetchAllQueriesFail(t *testing.T) {
	src := &fakeSource{
		fail:   map[string]error{"a01": errors.New("down")},
		served: map[string]int{},
	}
	f := NewFetcher(src, fastConfig(), nil)
	got, err := f.Fetch(context.Background(), testTarget(), prefsWithArtists(t, []string{"a01"}), nil, nil, 10)
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no candidates, got %d", len(got))
	}
}

// TestFetchRetriesRateLimit verifies a rate-limited query is retried with
// backoff and eventually succeeds without surfacing an error.
func TestFetchRetriesRateLimit(t *testing.T) {
	src := &fakeSource{
		failOnce: map[string]error{"a01": &RateLimitError{}},
		served:   map[string]int{},
	}
	f := NewFetcher(src, fastConfig(), nil)
	got, err := f.Fetch(context.Background(), testTarget(), prefsWithArtists(t, []string{"a01"}), nil, nil, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates after retry, got %d", len(got))
	}
	if src.calls != 2 {
		t.Fatalf("expected 2 calls (1 rate-limited + 1 retry), got %d", src.calls)
	}
}

// TestFetchAttemptCeiling verifies a permanently rate-limited query stops at
// the attempt ceiling instead of hanging.
func TestFetchAttemptCeiling(t *testing.T) {
	src := &fakeSource{
		fail:   map[string]error{"a01": &RateLimitError{}},
		served: map[string]int{},
	}
	cfg := fastConfig()
	cfg.MaxAttempts = 3
	f := NewFetcher(src, cfg, nil)
	_, err := f.Fetch(context.Background(), testTarget(), prefsWithArtists(t, []string{"a01"}), nil, nil, 10)
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if src.calls != 3 {
		t.Fatalf("expected exactly %d attempts, got %d", cfg.MaxAttempts, src.calls)
	}
}

func TestFetchDeduplicatesAndExcludes(t *testing.T) {
	src := &fakeSource{
		served: map[string]int{},
		byID: func(seed string, i int) Candidate {
			// Every query returns the same three IDs.
			return Candidate{ID: fmt.Sprintf("dup-%d", i)}
		},
	}
	var artists []string
	for i := 1; i <= 10; i++ {
		artists = append(artists, fmt.Sprintf("a%02d", i))
	}
	f := NewFetcher(src, fastConfig(), nil)
	excluded := map[string]struct{}{"dup-0": {}}
	got, err := f.Fetch(context.Background(), testTarget(), prefsWithArtists(t, artists), nil, excluded, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates after dedup and exclusion, got %d", len(got))
	}
	for _, c := range got {
		if c.ID == "dup-0" {
			t.Fatal("excluded candidate returned")
		}
	}
}

func TestFetchHonoursLimit(t *testing.T) {
	src := &fakeSource{served: map[string]int{}}
	var artists []string
	for i := 1; i <= 25; i++ {
		artists = append(artists, fmt.Sprintf("a%02d", i))
	}
	f := NewFetcher(src, fastConfig(), nil)
	got, err := f.Fetch(context.Background(), testTarget(), prefsWithArtists(t, artists), nil, nil, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) > 4 {
		t.Fatalf("limit exceeded: got %d candidates", len(got))
	}
}

// TestFetchFallsBackToProfileSeeds checks that an empty preference set seeds
// queries from the emotion profile's genres.
func TestFetchFallsBackToProfileSeeds(t *testing.T) {
	src := &fakeSource{served: map[string]int{}}
	f := NewFetcher(src, fastConfig(), nil)
	got, err := f.Fetch(context.Background(), testTarget(), prefs.Set{}, []string{"acoustic", "piano"}, nil, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected candidates from profile-derived seeds")
	}
	if src.calls != 1 {
		t.Fatalf("expected a single query for 2 seeds, got %d", src.calls)
	}
}

// TestFetchCancelledByCaller: cancelling the cycle's context must surface as
// the context error, not as an upstream outage.
func TestFetchCancelledByCaller(t *testing.T) {
	blocking := sourceFunc(func(ctx context.Context, q Query) ([]Candidate, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	f := NewFetcher(blocking, fastConfig(), nil)
	_, err := f.Fetch(ctx, testTarget(), prefsWithArtists(t, []string{"a01"}), nil, nil, 10)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatal("caller cancellation must not be reported as an upstream failure")
	}
}

// TestFetchBoundedConcurrency asserts the in-flight cap is never exceeded.
func TestFetchBoundedConcurrency(t *testing.T) {
	var inFlight, peak int64
	slow := sourceFunc(func(ctx context.Context, q Query) ([]Candidate, error) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return []Candidate{{ID: firstSeed(q)}}, nil
	})
	cfg := fastConfig()
	cfg.MaxInFlight = 2
	f := NewFetcher(slow, cfg, nil)
	var artists []string
	for i := 1; i <= 25; i++ {
		artists = append(artists, fmt.Sprintf("a%02d", i))
	}
	if _, err := f.Fetch(context.Background(), testTarget(), prefsWithArtists(t, artists), nil, nil, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p := atomic.LoadInt64(&peak); p > 2 {
		t.Fatalf("in-flight cap exceeded: peak %d", p)
	}
}

type sourceFunc func(ctx context.Context, q Query) ([]Candidate, error)

func (f sourceFunc) Recommend(ctx context.Context, q Query) ([]Candidate, error) {
	return f(ctx, q)
}
