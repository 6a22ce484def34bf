// Package spotify adapts the official Spotify client library to the catalog
// Source interface consumed by the candidate fetcher. It authenticates with
// the client credentials flow and assembles full candidates from several
// endpoints: seeded recommendations, audio features, full track metadata for
// popularity, and artist metadata for genres. Rate-limit responses are
// translated into catalog.RateLimitError so the fetcher owns all backoff
// logic.
//
// The wrapped library does not accept a context, so cancellation is checked
// explicitly before each upstream call.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/zmb3/spotify"
	"golang.org/x/oauth2/clientcredentials"

	"EmotionBeats-Go/pkg/catalog"
	"EmotionBeats-Go/pkg/emotion"
)

// Batch limits imposed by the Spotify Web API.
const (
	maxFeatureBatch = 100
	maxTrackBatch   = 50
	maxArtistBatch  = 50
)

// client defines the subset of the spotify.Client used by this package. It
// allows the concrete client to be replaced in tests.
type client interface {
	Search(query string, t spotify.SearchType) (*spotify.SearchResult, error)
	GetRecommendations(seeds spotify.Seeds, attrs *spotify.TrackAttributes, opt *spotify.Options) (*spotify.Recommendations, error)
	GetAudioFeatures(ids ...spotify.ID) ([]*spotify.AudioFeatures, error)
	GetTracks(ids ...spotify.ID) ([]*spotify.FullTrack, error)
	GetArtists(ids ...spotify.ID) ([]*spotify.FullArtist, error)
}

// Client implements catalog.Source on top of the Spotify Web API.
type Client struct {
	client client

	// artistIDs caches name-to-ID resolutions so repeated cycles for the
	// same preferred artists avoid redundant searches.
	mu        sync.Mutex
	artistIDs map[string]spotify.ID
}

// Compile-time check that Client satisfies the fetcher's Source interface.
var _ catalog.Source = (*Client)(nil)

// NewClient authenticates using the client credentials flow and returns a
// Client ready for catalog queries. clientID and clientSecret come from the
// Spotify developer dashboard.
func NewClient(clientID, clientSecret string) (*Client, error) {
	config := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotify.TokenURL,
	}
	token, err := config.Token(context.Background())
	if err != nil {
		return nil, err
	}
	c := spotify.Authenticator{}.NewClient(token)
	return &Client{client: &c, artistIDs: make(map[string]spotify.ID)}, nil
}

// Recommend implements catalog.Source. It resolves artist seed names, issues
// one recommendation request, and enriches the returned tracks with audio
// features, popularity and genres.
func (c *Client) Recommend(ctx context.Context, q catalog.Query) ([]catalog.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seeds := spotify.Seeds{Genres: q.SeedGenres}
	for _, name := range q.SeedArtists {
		id, err := c.resolveArtist(ctx, name)
		if err != nil {
			// An unresolvable artist name is not fatal; the remaining
			// seeds still describe a useful query.
			continue
		}
		seeds.Artists = append(seeds.Artists, id)
	}
	if len(seeds.Genres) == 0 && len(seeds.Artists) == 0 {
		return nil, fmt.Errorf("no usable seeds")
	}

	limit := q.Limit
	opts := &spotify.Options{Limit: &limit}
	recs, err := c.client.GetRecommendations(seeds, trackAttributes(q.Target), opts)
	if err != nil {
		return nil, translateErr(err)
	}
	if len(recs.Tracks) == 0 {
		return nil, nil
	}

	ids := make([]spotify.ID, len(recs.Tracks))
	for i, t := range recs.Tracks {
		ids[i] = t.ID
	}
	features, err := c.audioFeatures(ctx, ids)
	if err != nil {
		return nil, err
	}
	popularity, artistGenres, err := c.trackDetails(ctx, ids)
	if err != nil {
		return nil, err
	}

	candidates := make([]catalog.Candidate, 0, len(recs.Tracks))
	for _, t := range recs.Tracks {
		cand := catalog.Candidate{
			ID:         string(t.ID),
			Name:       t.Name,
			Popularity: popularity[t.ID],
		}
		for _, a := range t.Artists {
			cand.Artists = append(cand.Artists, a.Name)
			cand.Genres = append(cand.Genres, artistGenres[a.ID]...)
		}
		if f, ok := features[t.ID]; ok {
			cand.Features = map[emotion.Feature]float64{
				emotion.Valence:      float64(f.Valence),
				emotion.Energy:       float64(f.Energy),
				emotion.Danceability: float64(f.Danceability),
				emotion.Acousticness: float64(f.Acousticness),
				emotion.Tempo:        float64(f.Tempo),
			}
		}
		candidates = append(candidates, cand)
	}
	return candidates, nil
}

// resolveArtist finds the Spotify ID for an artist name, caching results.
func (c *Client) resolveArtist(ctx context.Context, name string) (spotify.ID, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	c.mu.Lock()
	if id, ok := c.artistIDs[key]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	res, err := c.client.Search(name, spotify.SearchTypeArtist)
	if err != nil {
		return "", translateErr(err)
	}
	if res.Artists == nil || len(res.Artists.Artists) == 0 {
		return "", fmt.Errorf("artist %q not found", name)
	}
	id := res.Artists.Artists[0].ID
	c.mu.Lock()
	c.artistIDs[key] = id
	c.mu.Unlock()
	return id, nil
}

// audioFeatures fetches features for the given track IDs in API-sized
// batches. Tracks without features are simply absent from the result.
func (c *Client) audioFeatures(ctx context.Context, ids []spotify.ID) (map[spotify.ID]*spotify.AudioFeatures, error) {
	out := make(map[spotify.ID]*spotify.AudioFeatures, len(ids))
	for start := 0; start < len(ids); start += maxFeatureBatch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + maxFeatureBatch
		if end > len(ids) {
			end = len(ids)
		}
		feats, err := c.client.GetAudioFeatures(ids[start:end]...)
		if err != nil {
			return nil, translateErr(err)
		}
		for _, f := range feats {
			if f != nil {
				out[f.ID] = f
			}
		}
	}
	return out, nil
}

// trackDetails fetches popularity per track and genres per artist. The
// recommendations endpoint returns simplified tracks, so both require follow
// up lookups.
func (c *Client) trackDetails(ctx context.Context, ids []spotify.ID) (map[spotify.ID]int, map[spotify.ID][]string, error) {
	popularity := make(map[spotify.ID]int, len(ids))
	artistSet := make(map[spotify.ID]struct{})
	var artistIDs []spotify.ID
	for start := 0; start < len(ids); start += maxTrackBatch {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		end := start + maxTrackBatch
		if end > len(ids) {
			end = len(ids)
		}
		tracks, err := c.client.GetTracks(ids[start:end]...)
		if err != nil {
			return nil, nil, translateErr(err)
		}
		for _, t := range tracks {
			if t == nil {
				continue
			}
			popularity[t.ID] = t.Popularity
			for _, a := range t.Artists {
				if _, ok := artistSet[a.ID]; !ok {
					artistSet[a.ID] = struct{}{}
					artistIDs = append(artistIDs, a.ID)
				}
			}
		}
	}

	genres := make(map[spotify.ID][]string, len(artistIDs))
	for start := 0; start < len(artistIDs); start += maxArtistBatch {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		end := start + maxArtistBatch
		if end > len(artistIDs) {
			end = len(artistIDs)
		}
		artists, err := c.client.GetArtists(artistIDs[start:end]...)
		if err != nil {
			return nil, nil, translateErr(err)
		}
		for _, a := range artists {
			if a != nil {
				genres[a.ID] = a.Genres
			}
		}
	}
	return popularity, genres, nil
}

// trackAttributes converts a feature target into the recommendation
// endpoint's target/min/max tunable attributes. Midpoints become targets and
// the tolerance band becomes the min/max bounds.
func trackAttributes(t emotion.Target) *spotify.TrackAttributes {
	attrs := spotify.NewTrackAttributes()
	if b, ok := t[emotion.Valence]; ok {
		attrs = attrs.TargetValence(b.Center).
			MinValence(clampUnit(b.Center - b.Tolerance)).
			MaxValence(clampUnit(b.Center + b.Tolerance))
	}
	if b, ok := t[emotion.Energy]; ok {
		attrs = attrs.TargetEnergy(b.Center).
			MinEnergy(clampUnit(b.Center - b.Tolerance)).
			MaxEnergy(clampUnit(b.Center + b.Tolerance))
	}
	if b, ok := t[emotion.Danceability]; ok {
		attrs = attrs.TargetDanceability(b.Center).
			MinDanceability(clampUnit(b.Center - b.Tolerance)).
			MaxDanceability(clampUnit(b.Center + b.Tolerance))
	}
	if b, ok := t[emotion.Acousticness]; ok {
		attrs = attrs.TargetAcousticness(b.Center).
			MinAcousticness(clampUnit(b.Center - b.Tolerance)).
			MaxAcousticness(clampUnit(b.Center + b.Tolerance))
	}
	if b, ok := t[emotion.Tempo]; ok {
		lo := b.Center - b.Tolerance
		if lo < 0 {
			lo = 0
		}
		attrs = attrs.TargetTempo(b.Center).
			MinTempo(lo).
			MaxTempo(b.Center + b.Tolerance)
	}
	return attrs
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// translateErr maps Spotify API errors onto the catalog error vocabulary so
// the fetcher can distinguish throttling from hard failures.
func translateErr(err error) error {
	var se spotify.Error
	if errors.As(err, &se) && se.Status == 429 {
		return &catalog.RateLimitError{}
	}
	return err
}
