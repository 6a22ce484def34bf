// Package playlist implements the engine's Materializer boundary: turning a
// ranked track list into an actual playlist. The Spotify materializer needs a
// user-authorized client since playlist creation acts on a user's library;
// the in-memory materializer exists for tests and for running the engine
// without a provider account.
package playlist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zmb3/spotify"

	"EmotionBeats-Go/pkg/engine"
)

// creator is the subset of the spotify.Client needed to materialize a
// playlist, extracted so tests can substitute a fake.
type creator interface {
	CreatePlaylistForUser(userID, playlistName, description string, public bool) (*spotify.FullPlaylist, error)
	AddTracksToPlaylist(playlistID spotify.ID, trackIDs ...spotify.ID) (string, error)
}

// Spotify materializes playlists into a Spotify user's library.
type Spotify struct {
	client creator
	userID string
}

var _ engine.Materializer = (*Spotify)(nil)

// NewSpotify wraps a user-authorized Spotify client. userID is the Spotify
// account that will own the created playlists.
func NewSpotify(c *spotify.Client, userID string) *Spotify {
	return &Spotify{client: c, userID: userID}
}

// Apply creates a private playlist for the session and fills it with the
// ranked tracks in order.
func (s *Spotify) Apply(ctx context.Context, sessionID string, trackIDs []string) (engine.PlaylistRef, error) {
	if err := ctx.Err(); err != nil {
		return engine.PlaylistRef{}, err
	}
	name := fmt.Sprintf("EmotionBeats %s", time.Now().Format("Jan 2 15:04"))
	desc := fmt.Sprintf("Generated for session %s", sessionID)
	pl, err := s.client.CreatePlaylistForUser(s.userID, name, desc, false)
	if err != nil {
		return engine.PlaylistRef{}, fmt.Errorf("create playlist: %w", err)
	}
	ids := make([]spotify.ID, len(trackIDs))
	for i, id := range trackIDs {
		ids[i] = spotify.ID(id)
	}
	if _, err := s.client.AddTracksToPlaylist(pl.ID, ids...); err != nil {
		return engine.PlaylistRef{}, fmt.Errorf("add tracks: %w", err)
	}
	return engine.PlaylistRef{
		ID:   string(pl.ID),
		Name: pl.Name,
		URL:  pl.ExternalURLs["spotify"],
	}, nil
}

// Memory is an in-process materializer that just remembers what it was asked
// to build. Useful in tests and local development.
type Memory struct {
	mu        sync.Mutex
	playlists map[string][]string // playlist ID -> ordered track IDs
}

var _ engine.Materializer = (*Memory)(nil)

// NewMemory returns an empty in-memory materializer.
func NewMemory() *Memory {
	return &Memory{playlists: make(map[string][]string)}
}

// Apply stores the ordered track list under a fresh playlist ID.
func (m *Memory) Apply(_ context.Context, sessionID string, trackIDs []string) (engine.PlaylistRef, error) {
	id := uuid.NewString()
	m.mu.Lock()
	m.playlists[id] = append([]string(nil), trackIDs...)
	m.mu.Unlock()
	return engine.PlaylistRef{
		ID:   id,
		Name: fmt.Sprintf("session %s", sessionID),
	}, nil
}

// Tracks returns the ordered track IDs stored under a playlist ID.
func (m *Memory) Tracks(playlistID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.playlists[playlistID]...)
}
