// Package engine orchestrates one recommendation cycle per conversation turn:
// it folds pending feedback and the new extractor signal into the session's
// preference set, looks up the emotion's audio feature target, fetches
// candidates, ranks them, and records the outcome on the session. Cycles for
// one session serialize through the tracker; cycles for different sessions
// run concurrently and share only the immutable profile store and the
// fetcher's upstream budget.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"EmotionBeats-Go/pkg/catalog"
	"EmotionBeats-Go/pkg/emotion"
	"EmotionBeats-Go/pkg/metrics"
	"EmotionBeats-Go/pkg/prefs"
	"EmotionBeats-Go/pkg/ranking"
	"EmotionBeats-Go/pkg/session"
)

// PlaylistRef identifies a materialized playlist at the external provider.
type PlaylistRef struct {
	ID   string
	Name string
	URL  string
}

// Materializer turns a ranked track list into an actual playlist. The engine
// does not know or care how playlists are stored; pkg/playlist provides the
// Spotify-backed implementation.
type Materializer interface {
	Apply(ctx context.Context, sessionID string, trackIDs []string) (PlaylistRef, error)
}

// Archive is the optional persistence partner. Failures to archive are logged
// and never fail a cycle.
type Archive interface {
	RecordCycle(ctx context.Context, sessionID string, label emotion.Label, trackIDs []string) error
	SavePlaylist(ctx context.Context, sessionID string, label emotion.Label, ref PlaylistRef, trackIDs []string) error
}

// Config bounds a cycle's fan-out and output.
type Config struct {
	// FetchLimit caps raw candidates gathered per cycle.
	FetchLimit int
	// TopK is the default ranked list length when the caller passes 0.
	TopK int
}

// DefaultConfig fetches up to 50 raw candidates and returns 20 ranked tracks.
func DefaultConfig() Config {
	return Config{FetchLimit: 50, TopK: 20}
}

// Recommender wires the core components together. All fields except
// Materializer and Archive are required.
type Recommender struct {
	Profiles     *emotion.Profiles
	Fetcher      *catalog.Fetcher
	Tracker      *session.Tracker
	Weights      ranking.Weights
	Config       Config
	Materializer Materializer
	Archive      Archive
	Log          logrus.FieldLogger
}

// Result is the outcome of one recommendation cycle. Partial is set when the
// catalog was only partially available; Shortfall counts unfilled slots below
// the requested top-k. Both are degraded-but-valid signals, not failures.
type Result struct {
	SessionID string
	Emotion   emotion.Label
	Tracks    []ranking.ScoredCandidate
	Shortfall int
	Partial   bool
	Drift     bool
	Dropped   []string
	Playlist  *PlaylistRef
}

// NewRecommender applies defaults for optional fields. It returns an error if
// a required collaborator is missing.
func NewRecommender(r Recommender) (*Recommender, error) {
	if r.Profiles == nil {
		return nil, fmt.Errorf("engine: profile store is required")
	}
	if r.Fetcher == nil {
		return nil, fmt.Errorf("engine: candidate fetcher is required")
	}
	if r.Tracker == nil {
		return nil, fmt.Errorf("engine: session tracker is required")
	}
	if r.Weights == (ranking.Weights{}) {
		r.Weights = ranking.DefaultWeights()
	}
	if r.Config.FetchLimit <= 0 {
		r.Config.FetchLimit = DefaultConfig().FetchLimit
	}
	if r.Config.TopK <= 0 {
		r.Config.TopK = DefaultConfig().TopK
	}
	if r.Log == nil {
		r.Log = logrus.StandardLogger()
	}
	r.Log = r.Log.WithField("component", "engine")
	return &r, nil
}

// Recommend runs one full cycle for the session. The raw signal may be empty
// when the turn carried no extractable preferences. topK <= 0 selects the
// configured default.
//
// When the catalog is only partially available the returned result carries
// whatever could be ranked and the error wraps catalog.ErrUpstreamUnavailable;
// callers should surface the degraded result rather than discard it. A cycle
// whose session closes while the fetch is in flight is discarded: nothing is
// recorded and session.ErrSessionNotFound is returned.
func (r *Recommender) Recommend(ctx context.Context, sessionID string, label emotion.Label, raw prefs.RawSignal, topK int) (*Result, error) {
	start := time.Now()
	if topK <= 0 {
		topK = r.Config.TopK
	}
	log := r.Log.WithFields(logrus.Fields{"session": sessionID, "emotion": label})

	// One cycle per session at a time: a later turn must see this turn's
	// recommendations in its recency window and must not race the preference
	// revision below.
	release, err := r.Tracker.BeginCycle(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	snap, err := r.Tracker.Snapshot(sessionID)
	if err != nil {
		return nil, err
	}
	drift, err := r.Tracker.ObserveEmotion(sessionID, label)
	if err != nil {
		return nil, err
	}

	// Fold rejected feedback into the exclusion side of the raw signal so
	// the normalizer, as the preference set's single writer, applies it.
	for trackID, v := range snap.Verdicts {
		if v == session.VerdictRejected {
			raw.ExcludeTracks = append(raw.ExcludeTracks, trackID)
		}
	}
	current, err := r.Tracker.Preferences(sessionID)
	if err != nil {
		return nil, err
	}
	next, diags := prefs.Normalize(current, raw)
	var dropped []string
	for _, d := range diags {
		metrics.DroppedSignalFields.Inc()
		log.WithError(d).Warn("dropped preference signal field")
		dropped = append(dropped, d.Error())
	}
	if err := r.Tracker.SetPreferences(sessionID, next); err != nil {
		return nil, err
	}

	target, err := r.Profiles.Target(label)
	if err != nil {
		return nil, err
	}
	target = next.AdjustTarget(target)

	excluded := make(map[string]struct{}, len(snap.Recent))
	for id := range snap.Recent {
		excluded[id] = struct{}{}
	}
	for _, id := range next.ExcludedTracks() {
		excluded[id] = struct{}{}
	}

	candidates, fetchErr := r.Fetcher.Fetch(ctx, target, next, r.Profiles.SeedGenres(label), excluded, r.Config.FetchLimit)
	if fetchErr != nil && !errors.Is(fetchErr, catalog.ErrUpstreamUnavailable) {
		return nil, fetchErr
	}
	if fetchErr != nil && len(candidates) == 0 {
		// Retries exhausted with nothing gathered; no meaningful result
		// is possible.
		return nil, fetchErr
	}

	ranked := ranking.Rank(candidates, target, next, snap, topK, r.Weights)
	if ranked.Shortfall > 0 {
		metrics.Shortfalls.Inc()
	}

	trackIDs := make([]string, len(ranked.Tracks))
	for i, t := range ranked.Tracks {
		trackIDs[i] = t.ID
	}
	// Recording is the commit point. If the session closed while the fetch
	// was in flight this fails and the cycle's results are discarded so a
	// dead session is not resurrected.
	if err := r.Tracker.Record(sessionID, trackIDs); err != nil {
		log.WithError(err).Info("discarding cycle results for closed session")
		return nil, err
	}

	res := &Result{
		SessionID: sessionID,
		Emotion:   label,
		Tracks:    ranked.Tracks,
		Shortfall: ranked.Shortfall,
		Partial:   fetchErr != nil,
		Drift:     drift,
		Dropped:   dropped,
	}

	if r.Archive != nil {
		if err := r.Archive.RecordCycle(ctx, sessionID, label, trackIDs); err != nil {
			log.WithError(err).Warn("failed to archive cycle")
		}
	}
	if r.Materializer != nil && len(trackIDs) > 0 {
		ref, err := r.Materializer.Apply(ctx, sessionID, trackIDs)
		if err != nil {
			log.WithError(err).Warn("playlist materialization failed")
		} else {
			res.Playlist = &ref
			if r.Archive != nil {
				if err := r.Archive.SavePlaylist(ctx, sessionID, label, ref, trackIDs); err != nil {
					log.WithError(err).Warn("failed to archive playlist")
				}
			}
		}
	}

	metrics.CycleDuration.WithLabelValues(string(label)).Observe(time.Since(start).Seconds())
	log.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"returned":   len(ranked.Tracks),
		"shortfall":  ranked.Shortfall,
		"partial":    res.Partial,
	}).Info("recommendation cycle complete")

	if fetchErr != nil {
		return res, fetchErr
	}
	return res, nil
}

// Feedback forwards a user verdict to the tracker. Rejected tracks take
// effect on the next cycle's normalization pass.
func (r *Recommender) Feedback(sessionID, trackID string, v session.Verdict) error {
	return r.Tracker.Feedback(sessionID, trackID, v)
}
