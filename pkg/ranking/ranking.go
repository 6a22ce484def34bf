// Package ranking scores fetched candidates against an emotion's audio
// feature target and the session's preferences, producing the ordered, capped
// track list a recommendation cycle emits.
//
// The distance metric is a tolerance-scaled Euclidean distance: each feature
// dimension is divided by its tolerance before squaring, so a candidate
// sitting exactly on a tolerance boundary contributes one unit of penalty in
// that dimension regardless of the feature's natural scale (tempo in BPM and
// valence in [0,1] are weighted identically this way). The per-dimension
// penalties are combined as a root mean square so targets with different
// feature coverage remain comparable. Distance becomes similarity via
// 1/(1+d), preference bonuses multiply it, and the composite is clipped.
package ranking

import (
	"math"
	"sort"

	"EmotionBeats-Go/pkg/catalog"
	"EmotionBeats-Go/pkg/emotion"
	"EmotionBeats-Go/pkg/prefs"
	"EmotionBeats-Go/pkg/session"
)

// Weights holds the scoring constants. The defaults were chosen so that a
// perfect-similarity track without preference matches (score 1.0) can still
// be overtaken by a near-target track by a preferred artist (0.9 * 1.40 =
// 1.26) but not by a badly off-target one (0.4 * 1.65 = 0.66).
type Weights struct {
	// GenreBonus (w1) is added to the bonus multiplier when a candidate's
	// genres overlap the preferred genres.
	GenreBonus float64
	// ArtistBonus (w2) is added when a candidate's artist is preferred.
	ArtistBonus float64
	// MaxComposite clips the final score.
	MaxComposite float64
}

// DefaultWeights returns w1=0.25, w2=0.40 with composite scores clipped to 2.
func DefaultWeights() Weights {
	return Weights{GenreBonus: 0.25, ArtistBonus: 0.40, MaxComposite: 2.0}
}

// ScoredCandidate is a candidate with its computed scores attached. It lives
// only within one ranking pass and its serialized responses.
type ScoredCandidate struct {
	catalog.Candidate
	Distance   float64
	Similarity float64
	Bonus      float64
	Score      float64
}

// Result is the outcome of one ranking pass. Shortfall is advisory: it counts
// how many slots below topK were left unfilled after hard exclusions, so
// callers can present "fewer recommendations than usual" instead of failing.
type Result struct {
	Tracks    []ScoredCandidate
	Requested int
	Shortfall int
}

// Rank scores every candidate against the target and preference set, drops
// hard-excluded tracks, and returns at most topK results ordered by composite
// score. Ordering is fully deterministic: ties break by higher popularity,
// then by lexicographically smaller track ID.
func Rank(candidates []catalog.Candidate, target emotion.Target, p prefs.Set, snap session.State, topK int, w Weights) Result {
	if topK < 0 {
		topK = 0
	}
	scored := make([]ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		if excluded(c, p, snap) {
			continue
		}
		d := distance(c, target)
		sim := 1 / (1 + d)
		bonus := 0.0
		if genreMatch(c, p) {
			bonus += w.GenreBonus
		}
		if artistMatch(c, p) {
			bonus += w.ArtistBonus
		}
		score := sim * (1 + bonus)
		if score > w.MaxComposite {
			score = w.MaxComposite
		}
		if score < 0 {
			score = 0
		}
		scored = append(scored, ScoredCandidate{
			Candidate:  c,
			Distance:   d,
			Similarity: sim,
			Bonus:      bonus,
			Score:      score,
		})
	}
	sort.Slice(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Popularity != b.Popularity {
			return a.Popularity > b.Popularity
		}
		return a.ID < b.ID
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return Result{
		Tracks:    scored,
		Requested: topK,
		Shortfall: topK - len(scored),
	}
}

// excluded applies the hard-exclusion rules: tracks and artists in the
// preference exclusion sets, and anything the session recommended within its
// recency window, never appear in a result.
func excluded(c catalog.Candidate, p prefs.Set, snap session.State) bool {
	if p.ExcludesTrack(c.ID) {
		return true
	}
	if _, recent := snap.Recent[c.ID]; recent {
		return true
	}
	for _, a := range c.Artists {
		if p.ExcludesArtist(a) {
			return true
		}
	}
	return false
}

// distance computes the tolerance-scaled RMS distance between the candidate's
// reported features and the target midpoints. Dimensions the candidate does
// not report are skipped; a candidate reporting nothing the target cares
// about is infinitely far away and ranks last.
func distance(c catalog.Candidate, target emotion.Target) float64 {
	var sum float64
	n := 0
	for f, band := range target {
		v, ok := c.Features[f]
		if !ok {
			continue
		}
		unit := (v - band.Center) / band.Tolerance
		sum += unit * unit
		n++
	}
	if n == 0 {
		return math.Inf(1)
	}
	return math.Sqrt(sum / float64(n))
}

func genreMatch(c catalog.Candidate, p prefs.Set) bool {
	for _, g := range c.Genres {
		if p.HasGenre(g) {
			return true
		}
	}
	return false
}

func artistMatch(c catalog.Candidate, p prefs.Set) bool {
	for _, a := range c.Artists {
		if p.HasArtist(a) {
			return true
		}
	}
	return false
}
