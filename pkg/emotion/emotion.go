// Package emotion defines the closed set of emotion labels recognised by the
// recommendation engine together with the audio feature profile mapped to each
// label. The profile table is built once at startup and is immutable
// afterwards, so any number of recommendation cycles can read it concurrently
// without locking. Targets handed out by the store are copies; callers may
// shift them (for example to apply preference adjustments) without affecting
// other sessions.
package emotion

import (
	"fmt"
	"sort"
	"strings"
)

// Label identifies a detected emotional state. The set of valid labels is
// fixed; the external classifier is expected to emit one of these values.
type Label string

const (
	Joy      Label = "joy"
	Sadness  Label = "sadness"
	Anger    Label = "anger"
	Fear     Label = "fear"
	Surprise Label = "surprise"
	Disgust  Label = "disgust"
	Neutral  Label = "neutral"
)

// Feature names one dimension of the audio feature space. All features are
// normalized to [0,1] except Tempo which is measured in beats per minute.
type Feature string

const (
	Valence      Feature = "valence"
	Energy       Feature = "energy"
	Danceability Feature = "danceability"
	Acousticness Feature = "acousticness"
	Tempo        Feature = "tempo"
)

// featureOrder fixes the iteration order used whenever features are listed or
// compared so that scoring and seeding are reproducible.
var featureOrder = []Feature{Valence, Energy, Danceability, Acousticness, Tempo}

// Features returns every feature dimension in a fixed, documented order.
func Features() []Feature {
	out := make([]Feature, len(featureOrder))
	copy(out, featureOrder)
	return out
}

// IsFeature reports whether name (case-insensitive) is a member of the closed
// feature set. The preference normalizer uses this to reject extractor output
// that references unknown attributes.
func IsFeature(name string) bool {
	_, err := ParseFeature(name)
	return err == nil
}

// ParseFeature converts a free-form attribute name into a Feature. An error is
// returned when the name is not part of the closed set.
func ParseFeature(name string) (Feature, error) {
	switch Feature(strings.ToLower(strings.TrimSpace(name))) {
	case Valence:
		return Valence, nil
	case Energy:
		return Energy, nil
	case Danceability:
		return Danceability, nil
	case Acousticness:
		return Acousticness, nil
	case Tempo:
		return Tempo, nil
	}
	return "", fmt.Errorf("unknown audio feature %q", name)
}

// ParseLabel converts a classifier output string into a Label. An error is
// returned for values outside the closed set so callers can reject unexpected
// classifier behaviour early.
func ParseLabel(s string) (Label, error) {
	switch Label(strings.ToLower(strings.TrimSpace(s))) {
	case Joy:
		return Joy, nil
	case Sadness:
		return Sadness, nil
	case Anger:
		return Anger, nil
	case Fear:
		return Fear, nil
	case Surprise:
		return Surprise, nil
	case Disgust:
		return Disgust, nil
	case Neutral:
		return Neutral, nil
	}
	return "", fmt.Errorf("unknown emotion label %q", s)
}

// Band describes the ideal region for one feature: the midpoint the engine
// aims for and the tolerance within which a value is considered acceptable. A
// candidate exactly at Center±Tolerance contributes one unit of distance
// during scoring.
type Band struct {
	Center    float64
	Tolerance float64
}

// Target maps each feature to its band for one emotion. Values returned by the
// profile store are copies and safe to modify.
type Target map[Feature]Band

// Clone returns an independent copy of the target.
func (t Target) Clone() Target {
	out := make(Target, len(t))
	for f, b := range t {
		out[f] = b
	}
	return out
}

// Profiles is the immutable emotion-to-feature lookup table. Construct it with
// NewProfiles or DefaultProfiles; there is no way to mutate it afterwards.
type Profiles struct {
	targets map[Label]Target
	seeds   map[Label][]string
}

// NewProfiles validates and freezes a profile table. Every label in the closed
// set must be present exactly once, every target must cover every feature, and
// all non-tempo values must lie in [0,1] with a positive tolerance. seedGenres
// supplies the fallback catalog seeds used when a session has no genre or
// artist preferences yet; it may omit labels, in which case no profile-derived
// seeds exist for them.
func NewProfiles(targets map[Label]Target, seedGenres map[Label][]string) (*Profiles, error) {
	labels := []Label{Joy, Sadness, Anger, Fear, Surprise, Disgust, Neutral}
	frozen := make(map[Label]Target, len(labels))
	for _, l := range labels {
		t, ok := targets[l]
		if !ok {
			return nil, fmt.Errorf("profile table missing label %q", l)
		}
		for _, f := range featureOrder {
			b, ok := t[f]
			if !ok {
				return nil, fmt.Errorf("label %q missing feature %q", l, f)
			}
			if b.Tolerance <= 0 {
				return nil, fmt.Errorf("label %q feature %q: tolerance must be positive", l, f)
			}
			if f != Tempo && (b.Center < 0 || b.Center > 1) {
				return nil, fmt.Errorf("label %q feature %q: center %v outside [0,1]", l, f, b.Center)
			}
			if f == Tempo && b.Center <= 0 {
				return nil, fmt.Errorf("label %q: tempo center must be positive", l)
			}
		}
		frozen[l] = t.Clone()
	}
	if len(targets) != len(labels) {
		return nil, fmt.Errorf("profile table contains %d labels, want %d", len(targets), len(labels))
	}
	seeds := make(map[Label][]string, len(seedGenres))
	for l, gs := range seedGenres {
		if _, ok := frozen[l]; !ok {
			return nil, fmt.Errorf("seed genres reference unknown label %q", l)
		}
		cp := make([]string, len(gs))
		copy(cp, gs)
		seeds[l] = cp
	}
	return &Profiles{targets: frozen, seeds: seeds}, nil
}

// DefaultProfiles returns the built-in emotion profile table. The midpoints
// follow the usual valence/arousal reading of the labels: joy is high valence
// and high energy, sadness low valence and low energy with an acoustic lean,
// anger is high energy but low valence, and so on. Tempo bands are in BPM.
func DefaultProfiles() *Profiles {
	p, err := NewProfiles(map[Label]Target{
		Joy: {
			Valence: {0.85, 0.15}, Energy: {0.75, 0.20}, Danceability: {0.70, 0.20},
			Acousticness: {0.20, 0.20}, Tempo: {120, 25},
		},
		Sadness: {
			Valence: {0.20, 0.15}, Energy: {0.30, 0.15}, Danceability: {0.35, 0.20},
			Acousticness: {0.65, 0.25}, Tempo: {90, 25},
		},
		Anger: {
			Valence: {0.25, 0.15}, Energy: {0.85, 0.15}, Danceability: {0.50, 0.25},
			Acousticness: {0.10, 0.15}, Tempo: {140, 30},
		},
		Fear: {
			Valence: {0.25, 0.15}, Energy: {0.55, 0.20}, Danceability: {0.35, 0.20},
			Acousticness: {0.35, 0.25}, Tempo: {110, 30},
		},
		Surprise: {
			Valence: {0.65, 0.20}, Energy: {0.65, 0.20}, Danceability: {0.60, 0.20},
			Acousticness: {0.30, 0.25}, Tempo: {115, 30},
		},
		Disgust: {
			Valence: {0.30, 0.15}, Energy: {0.50, 0.20}, Danceability: {0.45, 0.20},
			Acousticness: {0.30, 0.25}, Tempo: {105, 30},
		},
		Neutral: {
			Valence: {0.50, 0.20}, Energy: {0.50, 0.20}, Danceability: {0.50, 0.20},
			Acousticness: {0.40, 0.25}, Tempo: {105, 30},
		},
	}, map[Label][]string{
		Joy:      {"pop", "dance"},
		Sadness:  {"acoustic", "piano"},
		Anger:    {"rock", "metal"},
		Fear:     {"ambient", "electronic"},
		Surprise: {"indie", "alternative"},
		Disgust:  {"punk", "grunge"},
		Neutral:  {"chill", "indie-pop"},
	})
	if err != nil {
		// The built-in table is validated by tests; a failure here is a
		// programming error, not a runtime condition.
		panic(err)
	}
	return p
}

// Target returns a copy of the feature target for label. An error is returned
// for labels outside the closed set.
func (p *Profiles) Target(l Label) (Target, error) {
	t, ok := p.targets[l]
	if !ok {
		return nil, fmt.Errorf("no profile for emotion label %q", l)
	}
	return t.Clone(), nil
}

// SeedGenres returns the profile-derived catalog seed genres for label, used
// when a session carries no usable preferences. The slice is a copy.
func (p *Profiles) SeedGenres(l Label) []string {
	gs := p.seeds[l]
	out := make([]string, len(gs))
	copy(out, gs)
	return out
}

// Labels lists every label in the table in sorted order.
func (p *Profiles) Labels() []Label {
	out := make([]Label, 0, len(p.targets))
	for l := range p.targets {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
