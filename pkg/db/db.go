// Package db provides the persistence partner used by the recommendation
// engine. It wraps a SQLite database and archives what each session produced:
// recommendation cycles, user feedback and materialized playlists. The engine
// itself never reads this data back; it exists for the surrounding
// application (history pages, analysis) and survives process restarts, unlike
// the in-memory session state. Callers are expected to open a single DB
// instance using New and reuse it for all operations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"EmotionBeats-Go/pkg/emotion"
	"EmotionBeats-Go/pkg/engine"
)

// DB wraps a sql.DB connection and exposes helper methods for archiving
// engine output.
type DB struct {
	*sql.DB
}

// Compile-time check that DB satisfies the engine's archive interface.
var _ engine.Archive = (*DB)(nil)

// New opens the SQLite database located at path, creating the file and schema
// when they do not exist yet.
func New(path string) (*DB, error) {
	d, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS recommendations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			emotion TEXT NOT NULL,
			track_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rec_session ON recommendations(session_id)`,
		`CREATE TABLE IF NOT EXISTS feedback (
			session_id TEXT NOT NULL,
			track_id TEXT NOT NULL,
			verdict TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (session_id, track_id)
		)`,
		`CREATE TABLE IF NOT EXISTS playlists (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			emotion TEXT NOT NULL,
			name TEXT,
			url TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS playlist_tracks (
			playlist_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			track_id TEXT NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := d.Exec(s); err != nil {
			d.Close()
			return nil, fmt.Errorf("init db: %w", err)
		}
	}
	return &DB{d}, nil
}

// RecordCycle archives one recommendation cycle's ordered track list.
func (db *DB) RecordCycle(ctx context.Context, sessionID string, label emotion.Label, trackIDs []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now()
	for i, id := range trackIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO recommendations(session_id, emotion, track_id, position, created_at) VALUES(?, ?, ?, ?, ?)`,
			sessionID, string(label), id, i, now); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// SaveFeedback upserts the user's verdict for a track so the latest reaction
// wins.
func (db *DB) SaveFeedback(ctx context.Context, sessionID, trackID, verdict string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO feedback(session_id, track_id, verdict, created_at) VALUES(?, ?, ?, ?)
		 ON CONFLICT(session_id, track_id) DO UPDATE SET verdict=excluded.verdict, created_at=excluded.created_at`,
		sessionID, trackID, verdict, time.Now())
	return err
}

// SavePlaylist archives a materialized playlist and its ordered tracks.
func (db *DB) SavePlaylist(ctx context.Context, sessionID string, label emotion.Label, ref engine.PlaylistRef, trackIDs []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO playlists(id, session_id, emotion, name, url, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		ref.ID, sessionID, string(label), ref.Name, ref.URL, time.Now()); err != nil {
		tx.Rollback()
		return err
	}
	for i, id := range trackIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO playlist_tracks(playlist_id, position, track_id) VALUES(?, ?, ?)`,
			ref.ID, i, id); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Playlist describes one archived playlist.
type Playlist struct {
	ID        string
	SessionID string
	Emotion   string
	Name      string
	URL       string
	CreatedAt time.Time
}

// ListPlaylists returns the playlists archived for a session, newest first.
func (db *DB) ListPlaylists(ctx context.Context, sessionID string) ([]Playlist, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, session_id, emotion, name, url, created_at FROM playlists WHERE session_id=? ORDER BY created_at DESC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Playlist
	for rows.Next() {
		var p Playlist
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Emotion, &p.Name, &p.URL, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecommendationHistory returns the most recently archived track IDs for a
// session, newest cycle first, up to limit rows.
func (db *DB) RecommendationHistory(ctx context.Context, sessionID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT track_id FROM recommendations WHERE session_id=? ORDER BY id DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
