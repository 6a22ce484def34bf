// Command web initializes the EmotionBeats recommendation service and starts
// the HTTP server. Configuration is provided via environment variables for
// Spotify API credentials and database location. The server listens on port
// 4000 by default and serves the JSON API plus Prometheus metrics on
// /metrics. The chat layer that runs the emotion classifier and preference
// extractor lives in a separate service and calls this API per conversation
// turn.

package main

import (
	"net/http"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"EmotionBeats-Go/pkg/catalog"
	"EmotionBeats-Go/pkg/db"
	"EmotionBeats-Go/pkg/emotion"
	"EmotionBeats-Go/pkg/engine"
	"EmotionBeats-Go/pkg/handlers"
	"EmotionBeats-Go/pkg/session"
	"EmotionBeats-Go/pkg/spotify"
)

// main configures application dependencies and starts the HTTP server.
func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Spotify credentials are required for catalog access; without them the
	// engine has no candidate source.
	clientID := os.Getenv("SPOTIFY_CLIENT_ID")
	clientSecret := os.Getenv("SPOTIFY_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		log.Fatal("SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET must be set")
	}
	source, err := spotify.NewClient(clientID, clientSecret)
	if err != nil {
		log.WithError(err).Fatal("spotify client init")
	}

	fetchCfg := catalog.DefaultConfig()
	if v := envInt("FETCH_MAX_IN_FLIGHT"); v > 0 {
		fetchCfg.MaxInFlight = v
	}
	fetcher := catalog.NewFetcher(source, fetchCfg, log)

	trackCfg := session.DefaultConfig()
	if v := envInt("SESSION_HISTORY_CAP"); v > 0 {
		trackCfg.HistoryCap = v
	}
	if v := envInt("SESSION_RECENCY_CYCLES"); v > 0 {
		trackCfg.RecencyCycles = v
	}
	tracker := session.NewTracker(trackCfg, log)

	// DATABASE_PATH allows the SQLite file to be customised. It defaults to
	// a file named emotionbeats.db in the working directory.
	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "emotionbeats.db"
	}
	database, err := db.New(dbPath)
	if err != nil {
		log.WithError(err).Fatal("db init")
	}
	defer database.Close()

	engCfg := engine.DefaultConfig()
	if v := envInt("FETCH_LIMIT"); v > 0 {
		engCfg.FetchLimit = v
	}
	if v := envInt("TOP_K"); v > 0 {
		engCfg.TopK = v
	}
	rec, err := engine.NewRecommender(engine.Recommender{
		Profiles: emotion.DefaultProfiles(),
		Fetcher:  fetcher,
		Tracker:  tracker,
		Config:   engCfg,
		Archive:  database,
		Log:      log,
	})
	if err != nil {
		log.WithError(err).Fatal("engine init")
	}

	app := &handlers.Application{Engine: rec, Tracker: tracker, DB: database}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", app.OpenSession)
	mux.HandleFunc("/api/sessions/close", app.CloseSession)
	mux.HandleFunc("/api/recommendations", app.Recommend)
	mux.HandleFunc("/api/feedback", app.Feedback)
	mux.HandleFunc("/api/playlists", app.PlaylistsJSON)
	mux.Handle("/metrics", promhttp.Handler())

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":4000"
	}
	log.WithField("addr", addr).Info("starting server")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Fatal("http server error")
	}
}

// envInt reads an integer environment variable, returning 0 when unset or
// malformed.
func envInt(name string) int {
	v, err := strconv.Atoi(os.Getenv(name))
	if err != nil {
		return 0
	}
	return v
}
