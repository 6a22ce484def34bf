// Package handlers provides the JSON API over the recommendation engine. The
// surrounding chat service calls these endpoints after running its emotion
// classifier and preference extractor on a conversation turn; the request
// bodies carry those components' outputs. All endpoints speak JSON and map
// the engine's error taxonomy onto HTTP status codes: unknown sessions are
// 404, a fully unavailable catalog is 503, and a partially available catalog
// still returns 200 with a degraded flag so clients can tell the user they
// got fewer recommendations than usual.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"EmotionBeats-Go/pkg/catalog"
	"EmotionBeats-Go/pkg/db"
	"EmotionBeats-Go/pkg/emotion"
	"EmotionBeats-Go/pkg/engine"
	"EmotionBeats-Go/pkg/prefs"
	"EmotionBeats-Go/pkg/session"
)

var log = logrus.WithField("component", "handlers")

// Recommender is the subset of the engine the handlers need. It allows the
// concrete engine to be replaced in tests.
type Recommender interface {
	Recommend(ctx context.Context, sessionID string, label emotion.Label, raw prefs.RawSignal, topK int) (*engine.Result, error)
}

// Application bundles the dependencies used by the HTTP handlers.
type Application struct {
	Engine  Recommender
	Tracker *session.Tracker
	DB      *db.DB
}

// OpenSession creates session state for a new conversation. The body may
// supply a session_id; when absent one is generated and returned.
func (app *Application) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if err := app.Tracker.Open(req.SessionID); err != nil {
		if errors.Is(err, session.ErrSessionExists) {
			respondJSONError(w, http.StatusConflict, "session already open")
			return
		}
		respondJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"session_id": req.SessionID})
}

// CloseSession tears down session state. Results of any in-flight cycle for
// the session will be discarded rather than recorded.
func (app *Application) CloseSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := app.Tracker.Close(req.SessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			respondJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		respondJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// recommendRequest carries one conversation turn's classifier and extractor
// output.
type recommendRequest struct {
	SessionID      string             `json:"session_id"`
	Emotion        string             `json:"emotion"`
	Genres         []string           `json:"genres,omitempty"`
	Artists        []string           `json:"artists,omitempty"`
	ExcludeArtists []string           `json:"exclude_artists,omitempty"`
	ExcludeTracks  []string           `json:"exclude_tracks,omitempty"`
	Adjustments    map[string]float64 `json:"adjustments,omitempty"`
	TopK           int                `json:"top_k,omitempty"`
}

// trackResponse is the serialized form of one ranked track.
type trackResponse struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Artists    []string `json:"artists,omitempty"`
	Genres     []string `json:"genres,omitempty"`
	Popularity int      `json:"popularity"`
	Score      float64  `json:"score"`
	Similarity float64  `json:"similarity"`
}

type recommendResponse struct {
	SessionID string          `json:"session_id"`
	Emotion   string          `json:"emotion"`
	Tracks    []trackResponse `json:"tracks"`
	Shortfall int             `json:"shortfall"`
	Degraded  bool            `json:"degraded"`
	Drift     bool            `json:"drift"`
	Dropped   []string        `json:"dropped_fields,omitempty"`
	Playlist  *playlistRef    `json:"playlist,omitempty"`
}

type playlistRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Recommend runs one recommendation cycle for a conversation turn.
func (app *Application) Recommend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req recommendRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SessionID == "" {
		respondJSONError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	label, err := emotion.ParseLabel(req.Emotion)
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	raw := prefs.RawSignal{
		Genres:         req.Genres,
		Artists:        req.Artists,
		ExcludeArtists: req.ExcludeArtists,
		ExcludeTracks:  req.ExcludeTracks,
		Adjustments:    req.Adjustments,
	}
	res, err := app.Engine.Recommend(r.Context(), req.SessionID, label, raw, req.TopK)
	degraded := false
	switch {
	case err == nil:
	case errors.Is(err, session.ErrSessionNotFound):
		respondJSONError(w, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, catalog.ErrUpstreamUnavailable) && res != nil:
		// Partial result: surface what we have and flag the degradation.
		degraded = true
	case errors.Is(err, catalog.ErrUpstreamUnavailable):
		respondJSONError(w, http.StatusServiceUnavailable, "music catalog unavailable")
		return
	default:
		log.WithError(err).Error("recommendation cycle failed")
		respondJSONError(w, http.StatusInternalServerError, "recommendation failed")
		return
	}

	resp := recommendResponse{
		SessionID: res.SessionID,
		Emotion:   string(res.Emotion),
		Tracks:    make([]trackResponse, len(res.Tracks)),
		Shortfall: res.Shortfall,
		Degraded:  degraded || res.Partial,
		Drift:     res.Drift,
		Dropped:   res.Dropped,
	}
	for i, t := range res.Tracks {
		resp.Tracks[i] = trackResponse{
			ID:         t.ID,
			Name:       t.Name,
			Artists:    t.Artists,
			Genres:     t.Genres,
			Popularity: t.Popularity,
			Score:      t.Score,
			Similarity: t.Similarity,
		}
	}
	if res.Playlist != nil {
		resp.Playlist = &playlistRef{ID: res.Playlist.ID, Name: res.Playlist.Name, URL: res.Playlist.URL}
	}
	respondJSON(w, http.StatusOK, resp)
}

// Feedback records the user's verdict on a recommended track. Rejections feed
// the exclusion set on the session's next cycle.
func (app *Application) Feedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		SessionID string `json:"session_id"`
		TrackID   string `json:"track_id"`
		Verdict   string `json:"verdict"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SessionID == "" || req.TrackID == "" {
		respondJSONError(w, http.StatusBadRequest, "session_id and track_id are required")
		return
	}
	if err := app.Tracker.Feedback(req.SessionID, req.TrackID, session.Verdict(req.Verdict)); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			respondJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		respondJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if app.DB != nil {
		if err := app.DB.SaveFeedback(r.Context(), req.SessionID, req.TrackID, req.Verdict); err != nil {
			log.WithError(err).Warn("failed to archive feedback")
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// PlaylistsJSON lists the playlists archived for a session, newest first.
func (app *Application) PlaylistsJSON(w http.ResponseWriter, r *http.Request) {
	if app.DB == nil {
		respondJSONError(w, http.StatusInternalServerError, "db not configured")
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		respondJSONError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	pls, err := app.DB.ListPlaylists(r.Context(), sessionID)
	if err != nil {
		respondJSONError(w, http.StatusInternalServerError, "failed to load playlists")
		return
	}
	respondJSON(w, http.StatusOK, pls)
}

// maxBodyBytes bounds request bodies. Classifier and extractor output for one
// conversation turn is tiny; anything bigger is malformed or hostile.
const maxBodyBytes = 64 << 10

// decodeJSON decodes the request body into v. Unknown fields are rejected so
// schema drift between the chat layer and this API surfaces as a 400 instead
// of silently dropped data.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if dec.More() {
		return errors.New("request body must be a single JSON object")
	}
	return nil
}

// respondJSON writes v as a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("encode response")
	}
}

// respondJSONError writes a JSON error body with the given status code.
func respondJSONError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
