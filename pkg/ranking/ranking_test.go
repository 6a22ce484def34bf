package ranking

import (
	"reflect"
	"testing"

	"EmotionBeats-Go/pkg/catalog"
	"EmotionBeats-Go/pkg/emotion"
	"EmotionBeats-Go/pkg/prefs"
	"EmotionBeats-Go/pkg/session"
)

func sadnessTarget() emotion.Target {
	return emotion.Target{
		emotion.Valence: {Center: 0.2, Tolerance: 0.15},
		emotion.Energy:  {Center: 0.3, Tolerance: 0.15},
	}
}

func candidate(id string, valence, energy float64, popularity int) catalog.Candidate {
	return catalog.Candidate{
		ID:         id,
		Popularity: popularity,
		Features: map[emotion.Feature]float64{
			emotion.Valence: valence,
			emotion.Energy:  energy,
		},
	}
}

// TestSadnessScenario mirrors the documented scenario: with a sadness target
// (valence 0.2) the 0.22-valence candidate must rank first.
func TestSadnessScenario(t *testing.T) {
	p, _ := prefs.Normalize(prefs.Set{}, prefs.RawSignal{Genres: []string{"acoustic"}})
	cands := []catalog.Candidate{
		candidate("low", 0.22, 0.3, 50),
		candidate("mid", 0.6, 0.3, 50),
		candidate("high", 0.9, 0.3, 50),
	}
	res := Rank(cands, sadnessTarget(), p, session.State{}, 3, DefaultWeights())
	if len(res.Tracks) != 3 {
		t.Fatalf("expected 3 tracks, got %d", len(res.Tracks))
	}
	if res.Tracks[0].ID != "low" {
		t.Fatalf("expected low-valence candidate first, got %s", res.Tracks[0].ID)
	}
	if res.Tracks[1].ID != "mid" || res.Tracks[2].ID != "high" {
		t.Fatalf("expected ordering low,mid,high; got %s,%s", res.Tracks[1].ID, res.Tracks[2].ID)
	}
}

// TestMonotonicSimilarity: midpoint beats tolerance boundary beats beyond.
func TestMonotonicSimilarity(t *testing.T) {
	cands := []catalog.Candidate{
		candidate("mid", 0.2, 0.3, 0),
		candidate("edge", 0.35, 0.3, 0),
		candidate("beyond", 0.5, 0.3, 0),
	}
	res := Rank(cands, sadnessTarget(), prefs.Set{}, session.State{}, 3, DefaultWeights())
	if res.Tracks[0].ID != "mid" || res.Tracks[1].ID != "edge" || res.Tracks[2].ID != "beyond" {
		t.Fatalf("unexpected order: %s,%s,%s", res.Tracks[0].ID, res.Tracks[1].ID, res.Tracks[2].ID)
	}
	if !(res.Tracks[0].Score > res.Tracks[1].Score && res.Tracks[1].Score > res.Tracks[2].Score) {
		t.Fatalf("scores not strictly decreasing: %v %v %v",
			res.Tracks[0].Score, res.Tracks[1].Score, res.Tracks[2].Score)
	}
}

// TestDeterminism runs the same input repeatedly and expects an identical
// ordering every time, including for exact ties.
func TestDeterminism(t *testing.T) {
	// All candidates tie exactly on features and popularity.
	cands := []catalog.Candidate{
		candidate("c", 0.2, 0.3, 10),
		candidate("a", 0.2, 0.3, 10),
		candidate("b", 0.2, 0.3, 10),
	}
	first := Rank(cands, sadnessTarget(), prefs.Set{}, session.State{}, 3, DefaultWeights())
	ids := trackIDs(first)
	if !reflect.DeepEqual(ids, []string{"a", "b", "c"}) {
		t.Fatalf("tie-break should be lexicographic, got %v", ids)
	}
	for i := 0; i < 10; i++ {
		again := Rank(cands, sadnessTarget(), prefs.Set{}, session.State{}, 3, DefaultWeights())
		if !reflect.DeepEqual(trackIDs(again), ids) {
			t.Fatalf("run %d produced different order: %v", i, trackIDs(again))
		}
	}
}

func TestTieBreakByPopularity(t *testing.T) {
	cands := []catalog.Candidate{
		candidate("obscure", 0.2, 0.3, 5),
		candidate("popular", 0.2, 0.3, 90),
	}
	res := Rank(cands, sadnessTarget(), prefs.Set{}, session.State{}, 2, DefaultWeights())
	if res.Tracks[0].ID != "popular" {
		t.Fatalf("expected popularity tie-break, got %s first", res.Tracks[0].ID)
	}
}

// TestHistoryExclusion: a track already in the session's recent history must
// never appear in ranked output.
func TestHistoryExclusion(t *testing.T) {
	snap := session.State{Recent: map[string]struct{}{"T1": {}}}
	cands := []catalog.Candidate{
		candidate("T1", 0.2, 0.3, 99),
		candidate("T2", 0.6, 0.6, 10),
	}
	res := Rank(cands, sadnessTarget(), prefs.Set{}, snap, 5, DefaultWeights())
	for _, tr := range res.Tracks {
		if tr.ID == "T1" {
			t.Fatal("recently recommended track reappeared in output")
		}
	}
	if res.Shortfall != 4 {
		t.Fatalf("expected shortfall 4, got %d", res.Shortfall)
	}
}

func TestPreferenceExclusions(t *testing.T) {
	p, _ := prefs.Normalize(prefs.Set{}, prefs.RawSignal{
		ExcludeTracks:  []string{"bad-track"},
		ExcludeArtists: []string{"Bad Artist"},
	})
	cands := []catalog.Candidate{
		candidate("bad-track", 0.2, 0.3, 50),
		{
			ID:         "by-bad-artist",
			Artists:    []string{"Bad Artist"},
			Popularity: 50,
			Features:   map[emotion.Feature]float64{emotion.Valence: 0.2, emotion.Energy: 0.3},
		},
		candidate("ok", 0.25, 0.3, 50),
	}
	res := Rank(cands, sadnessTarget(), p, session.State{}, 5, DefaultWeights())
	if len(res.Tracks) != 1 || res.Tracks[0].ID != "ok" {
		t.Fatalf("hard exclusions not applied: %v", trackIDs(res))
	}
}

// TestPreferenceBonusOrdering: a near-target track by a preferred artist
// overtakes a perfect-similarity track without preference matches.
func TestPreferenceBonusOrdering(t *testing.T) {
	p, _ := prefs.Normalize(prefs.Set{}, prefs.RawSignal{Artists: []string{"Loved"}})
	cands := []catalog.Candidate{
		candidate("perfect", 0.2, 0.3, 50),
		{
			ID:         "preferred",
			Artists:    []string{"Loved"},
			Popularity: 50,
			Features:   map[emotion.Feature]float64{emotion.Valence: 0.25, emotion.Energy: 0.32},
		},
	}
	res := Rank(cands, sadnessTarget(), p, session.State{}, 2, DefaultWeights())
	if res.Tracks[0].ID != "preferred" {
		t.Fatalf("expected artist bonus to win, got %s first", res.Tracks[0].ID)
	}
}

func TestGenreBonusMatching(t *testing.T) {
	p, _ := prefs.Normalize(prefs.Set{}, prefs.RawSignal{Genres: []string{"folk"}})
	c := catalog.Candidate{
		ID:       "g",
		Genres:   []string{"indie folk"},
		Features: map[emotion.Feature]float64{emotion.Valence: 0.2, emotion.Energy: 0.3},
	}
	res := Rank([]catalog.Candidate{c}, sadnessTarget(), p, session.State{}, 1, DefaultWeights())
	if res.Tracks[0].Bonus != DefaultWeights().GenreBonus {
		t.Fatalf("expected genre bonus %v, got %v", DefaultWeights().GenreBonus, res.Tracks[0].Bonus)
	}
}

func TestBoundedness(t *testing.T) {
	var cands []catalog.Candidate
	for i := 0; i < 50; i++ {
		cands = append(cands, candidate(string(rune('a'+i%26))+string(rune('0'+i/26)), 0.2, 0.3, i))
	}
	res := Rank(cands, sadnessTarget(), prefs.Set{}, session.State{}, 7, DefaultWeights())
	if len(res.Tracks) != 7 {
		t.Fatalf("expected exactly 7 tracks, got %d", len(res.Tracks))
	}
	if res.Shortfall != 0 {
		t.Fatalf("unexpected shortfall %d", res.Shortfall)
	}
}

// TestNoFeatures: a candidate reporting no overlapping features ranks last
// but is not fabricated into a good match.
func TestNoFeatures(t *testing.T) {
	cands := []catalog.Candidate{
		{ID: "blank", Popularity: 100},
		candidate("real", 0.2, 0.3, 0),
	}
	res := Rank(cands, sadnessTarget(), prefs.Set{}, session.State{}, 2, DefaultWeights())
	if res.Tracks[0].ID != "real" {
		t.Fatalf("featureless candidate should rank last, got %s first", res.Tracks[0].ID)
	}
	if res.Tracks[1].Similarity != 0 {
		t.Fatalf("featureless candidate similarity should be 0, got %v", res.Tracks[1].Similarity)
	}
}

func trackIDs(r Result) []string {
	out := make([]string, len(r.Tracks))
	for i, t := range r.Tracks {
		out[i] = t.ID
	}
	return out
}
