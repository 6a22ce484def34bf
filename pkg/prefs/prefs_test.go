package prefs

import (
	"reflect"
	"testing"

	"EmotionBeats-Go/pkg/emotion"
)

func TestNormalizeMergesAdditively(t *testing.T) {
	s1, diags := Normalize(Set{}, RawSignal{Genres: []string{"Acoustic"}, Artists: []string{"Bon Iver"}})
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	s2, _ := Normalize(s1, RawSignal{Genres: []string{"folk"}})
	if got := s2.Genres(); !reflect.DeepEqual(got, []string{"acoustic", "folk"}) {
		t.Fatalf("unexpected genres: %v", got)
	}
	if !s2.HasArtist("bon iver") {
		t.Fatal("artist from earlier turn lost")
	}
	// The earlier revision must be untouched.
	if len(s1.Genres()) != 1 {
		t.Fatalf("existing set mutated: %v", s1.Genres())
	}
}

// TestNormalizeIdempotent applies the same signal twice and expects identical
// results with no duplicate accumulation.
func TestNormalizeIdempotent(t *testing.T) {
	raw := RawSignal{
		Genres:        []string{"jazz", "Jazz"},
		Artists:       []string{"Mingus"},
		ExcludeTracks: []string{"T9"},
		Adjustments:   map[string]float64{"energy": 1},
	}
	once, _ := Normalize(Set{}, raw)
	twice, _ := Normalize(once, raw)
	if !reflect.DeepEqual(once.Genres(), twice.Genres()) ||
		!reflect.DeepEqual(once.Artists(), twice.Artists()) ||
		!reflect.DeepEqual(once.ExcludedTracks(), twice.ExcludedTracks()) {
		t.Fatalf("normalization not idempotent: %v vs %v", once, twice)
	}
	if d, ok := twice.Adjustment(emotion.Energy); !ok || d != 1 {
		t.Fatalf("adjustment lost: %v %v", d, ok)
	}
}

func TestNormalizeDropsUnknownFeature(t *testing.T) {
	s, diags := Normalize(Set{}, RawSignal{Adjustments: map[string]float64{
		"energy":   1,
		"loudness": -1,
	}})
	if len(diags) != 1 || diags[0].Field != "adjustments" || diags[0].Value != "loudness" {
		t.Fatalf("expected one diagnostic for loudness, got %v", diags)
	}
	if _, ok := s.Adjustment(emotion.Energy); !ok {
		t.Fatal("valid adjustment dropped alongside the invalid one")
	}
}

func TestAdjustmentLastWins(t *testing.T) {
	s1, _ := Normalize(Set{}, RawSignal{Adjustments: map[string]float64{"tempo": 1}})
	s2, _ := Normalize(s1, RawSignal{Adjustments: map[string]float64{"tempo": -0.5}})
	if d, _ := s2.Adjustment(emotion.Tempo); d != -0.5 {
		t.Fatalf("expected later turn to win, got %v", d)
	}
}

func TestExclusionsPersist(t *testing.T) {
	s1, _ := Normalize(Set{}, RawSignal{ExcludeArtists: []string{"Nickelback"}, ExcludeTracks: []string{"T1"}})
	// A later turn preferring the artist does not lift the exclusion.
	s2, _ := Normalize(s1, RawSignal{Genres: []string{"rock"}})
	if !s2.ExcludesArtist("nickelback") || !s2.ExcludesTrack("T1") {
		t.Fatal("exclusions must survive later turns")
	}
}

func TestExclusionOverridesPreference(t *testing.T) {
	s1, _ := Normalize(Set{}, RawSignal{Artists: []string{"Drake"}})
	s2, _ := Normalize(s1, RawSignal{ExcludeArtists: []string{"drake"}})
	if s2.HasArtist("Drake") {
		t.Fatal("excluded artist still preferred")
	}
	if !s2.ExcludesArtist("Drake") {
		t.Fatal("exclusion not applied")
	}
}

func TestGenreCap(t *testing.T) {
	raw := RawSignal{}
	for i := 0; i < MaxGenres+5; i++ {
		raw.Genres = append(raw.Genres, string(rune('a'+i%26))+string(rune('0'+i/26)))
	}
	s, diags := Normalize(Set{}, raw)
	if len(s.Genres()) != MaxGenres {
		t.Fatalf("expected %d genres, got %d", MaxGenres, len(s.Genres()))
	}
	if len(diags) == 0 {
		t.Fatal("expected diagnostics for dropped genres")
	}
}

func TestAdjustTarget(t *testing.T) {
	s, _ := Normalize(Set{}, RawSignal{Adjustments: map[string]float64{
		"energy": 1,
		"tempo":  -1,
	}})
	target := emotion.Target{
		emotion.Energy: {Center: 0.9, Tolerance: 0.2},
		emotion.Tempo:  {Center: 100, Tolerance: 20},
	}
	out := s.AdjustTarget(target)
	if out[emotion.Energy].Center != 1.0 {
		t.Errorf("energy should clamp to 1.0, got %v", out[emotion.Energy].Center)
	}
	if out[emotion.Tempo].Center != 80 {
		t.Errorf("tempo should shift down one tolerance, got %v", out[emotion.Tempo].Center)
	}
	// Input untouched.
	if target[emotion.Energy].Center != 0.9 {
		t.Error("AdjustTarget mutated its input")
	}
}
