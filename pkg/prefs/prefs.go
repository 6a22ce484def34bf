// Package prefs normalizes the raw, untrusted output of the preference
// extractor into the bounded preference set consumed by the candidate fetcher
// and the ranking engine. A Set is immutable once built: the normalizer is the
// only producer and callers replace their reference with the returned value
// rather than mutating in place. This keeps a single writer for every
// session's preferences even though many components read them.
package prefs

import (
	"fmt"
	"sort"
	"strings"

	"EmotionBeats-Go/pkg/emotion"
)

// Limits on how much extractor output a single session may accumulate. The
// extractor is LLM-backed and occasionally verbose; capping here bounds both
// memory and the work done per ranking pass.
const (
	MaxGenres      = 25
	MaxArtists     = 25
	MaxExclusions  = 500
	maxAdjustment  = 1.0
	adjustmentStep = 1.0
)

// RawSignal is the unvalidated output of one extractor call for one
// conversation turn. Field contents are free-form text; nothing here is
// trusted until Normalize has seen it.
type RawSignal struct {
	Genres         []string
	Artists        []string
	ExcludeArtists []string
	ExcludeTracks  []string
	// Adjustments maps a feature name to a direction in [-1, +1], e.g.
	// {"energy": 1} for "more energetic" or {"tempo": -0.5} for "a bit
	// slower". Later turns override earlier ones per feature.
	Adjustments map[string]float64
}

// ValidationError reports a raw signal field that referenced an attribute
// outside the closed feature set. The offending field is dropped and
// normalization continues; the error exists purely as a diagnostic.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid preference signal: %s=%q", e.Field, e.Value)
}

// Set is an immutable, normalized preference set. The zero value is a valid
// empty set.
type Set struct {
	genres         map[string]struct{}
	artists        map[string]struct{}
	excludeArtists map[string]struct{}
	excludeTracks  map[string]struct{}
	adjustments    map[emotion.Feature]float64
}

// canon folds free-form names so that "Bon Iver" and "bon iver " unify.
func canon(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Normalize merges a raw extractor signal into an existing set and returns the
// resulting set together with diagnostics for any dropped fields. Merging is
// additive: genres and artists are unioned up to their caps, exclusions are
// unioned and never removed, and a directional adjustment for a feature
// replaces any earlier adjustment of the same feature (last wins).
// Contradictory directions inside one signal resolve to whichever the
// extractor emitted; across turns the newest turn wins.
func Normalize(existing Set, raw RawSignal) (Set, []*ValidationError) {
	next := existing.clone()
	var diags []*ValidationError

	for _, g := range raw.Genres {
		g = canon(g)
		if g == "" {
			continue
		}
		if len(next.genres) >= MaxGenres {
			if _, ok := next.genres[g]; !ok {
				diags = append(diags, &ValidationError{Field: "genres", Value: g})
			}
			continue
		}
		next.genres[g] = struct{}{}
	}
	for _, a := range raw.Artists {
		a = canon(a)
		if a == "" {
			continue
		}
		if len(next.artists) >= MaxArtists {
			if _, ok := next.artists[a]; !ok {
				diags = append(diags, &ValidationError{Field: "artists", Value: a})
			}
			continue
		}
		next.artists[a] = struct{}{}
	}
	for _, a := range raw.ExcludeArtists {
		a = canon(a)
		if a == "" || len(next.excludeArtists) >= MaxExclusions {
			continue
		}
		next.excludeArtists[a] = struct{}{}
		// An artist cannot be simultaneously preferred and excluded; the
		// exclusion, being the newer signal, wins.
		delete(next.artists, a)
	}
	for _, id := range raw.ExcludeTracks {
		id = strings.TrimSpace(id)
		if id == "" || len(next.excludeTracks) >= MaxExclusions {
			continue
		}
		next.excludeTracks[id] = struct{}{}
	}
	for name, dir := range raw.Adjustments {
		f, err := emotion.ParseFeature(name)
		if err != nil {
			diags = append(diags, &ValidationError{Field: "adjustments", Value: name})
			continue
		}
		if dir > maxAdjustment {
			dir = maxAdjustment
		}
		if dir < -maxAdjustment {
			dir = -maxAdjustment
		}
		next.adjustments[f] = dir
	}
	return next, diags
}

func (s Set) clone() Set {
	out := Set{
		genres:         make(map[string]struct{}, len(s.genres)),
		artists:        make(map[string]struct{}, len(s.artists)),
		excludeArtists: make(map[string]struct{}, len(s.excludeArtists)),
		excludeTracks:  make(map[string]struct{}, len(s.excludeTracks)),
		adjustments:    make(map[emotion.Feature]float64, len(s.adjustments)),
	}
	for g := range s.genres {
		out.genres[g] = struct{}{}
	}
	for a := range s.artists {
		out.artists[a] = struct{}{}
	}
	for a := range s.excludeArtists {
		out.excludeArtists[a] = struct{}{}
	}
	for t := range s.excludeTracks {
		out.excludeTracks[t] = struct{}{}
	}
	for f, d := range s.adjustments {
		out.adjustments[f] = d
	}
	return out
}

// Genres returns the preferred genres in sorted order.
func (s Set) Genres() []string { return sortedKeys(s.genres) }

// Artists returns the preferred artists in sorted order.
func (s Set) Artists() []string { return sortedKeys(s.artists) }

// ExcludedArtists returns the excluded artists in sorted order.
func (s Set) ExcludedArtists() []string { return sortedKeys(s.excludeArtists) }

// ExcludedTracks returns the excluded track IDs in sorted order.
func (s Set) ExcludedTracks() []string { return sortedKeys(s.excludeTracks) }

// HasGenre reports whether g matches a preferred genre. Matching is
// case-insensitive and accepts containment in either direction so that the
// extractor's "folk" matches the catalog's "indie folk".
func (s Set) HasGenre(g string) bool {
	g = canon(g)
	if g == "" {
		return false
	}
	if _, ok := s.genres[g]; ok {
		return true
	}
	for pref := range s.genres {
		if strings.Contains(g, pref) || strings.Contains(pref, g) {
			return true
		}
	}
	return false
}

// HasArtist reports whether name is a preferred artist.
func (s Set) HasArtist(name string) bool {
	_, ok := s.artists[canon(name)]
	return ok
}

// ExcludesArtist reports whether name is in the artist exclusion set.
func (s Set) ExcludesArtist(name string) bool {
	_, ok := s.excludeArtists[canon(name)]
	return ok
}

// ExcludesTrack reports whether the track ID is in the exclusion set.
func (s Set) ExcludesTrack(id string) bool {
	_, ok := s.excludeTracks[id]
	return ok
}

// Adjustment returns the directional adjustment for f and whether one is set.
func (s Set) Adjustment(f emotion.Feature) (float64, bool) {
	d, ok := s.adjustments[f]
	return d, ok
}

// AdjustTarget applies the set's directional adjustments to a copy of target.
// Each direction shifts the feature midpoint by direction x tolerance, so a
// full "+energy" moves the target one tolerance band up. Unit features are
// clamped to [0,1]; tempo is clamped to stay positive. The input target is not
// modified.
func (s Set) AdjustTarget(target emotion.Target) emotion.Target {
	out := target.Clone()
	for f, dir := range s.adjustments {
		b, ok := out[f]
		if !ok {
			continue
		}
		b.Center += dir * b.Tolerance * adjustmentStep
		if f == emotion.Tempo {
			if b.Center < 1 {
				b.Center = 1
			}
		} else {
			if b.Center < 0 {
				b.Center = 0
			}
			if b.Center > 1 {
				b.Center = 1
			}
		}
		out[f] = b
	}
	return out
}

// Empty reports whether the set carries no preferences at all.
func (s Set) Empty() bool {
	return len(s.genres) == 0 && len(s.artists) == 0 &&
		len(s.excludeArtists) == 0 && len(s.excludeTracks) == 0 &&
		len(s.adjustments) == 0
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
