// Package session implements the per-conversation refinement tracker. Each
// open session owns the memory of what has already been recommended, how the
// user reacted, and how the detected emotion has moved across turns. All
// mutation funnels through the Tracker's methods. Each session additionally
// carries a cycle lock claimed through BeginCycle for the whole of a
// recommendation cycle, so cycles for one session run strictly one at a time
// while unrelated sessions proceed fully concurrently.
//
// The tracker stores the latest preference set revision for each session but
// never builds one itself; the normalizer in pkg/prefs is the single writer
// and callers replace the stored revision wholesale.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"EmotionBeats-Go/pkg/emotion"
	"EmotionBeats-Go/pkg/prefs"
)

// ErrSessionNotFound is returned when an operation references a session ID
// with no open state. It is fatal to that request only; other sessions are
// unaffected.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExists is returned by Open when the session ID is already open.
var ErrSessionExists = errors.New("session already open")

// Verdict records the user's reaction to a recommended track.
type Verdict string

const (
	VerdictAccepted Verdict = "accepted"
	VerdictRejected Verdict = "rejected"
)

// driftSpan is how many trailing emotions are compared against the preceding
// span to call drift: the 3 most recent all differing from the previous 3.
const driftSpan = 3

// maxTrajectory bounds the rolling emotion history kept per session.
const maxTrajectory = 12

// Config controls per-session bounds.
type Config struct {
	// HistoryCap bounds the recommendation history ring buffer.
	HistoryCap int
	// RecencyCycles is how many recent cycles feed the recency exclusion
	// window consulted by the ranking engine.
	RecencyCycles int
}

// DefaultConfig keeps the last 200 recommended tracks and excludes anything
// recommended within the last 5 cycles.
func DefaultConfig() Config {
	return Config{HistoryCap: 200, RecencyCycles: 5}
}

// State is an immutable snapshot of one session, safe to hand to the ranking
// engine while the live session keeps moving.
type State struct {
	ID string
	// History lists recommended track IDs oldest first, bounded by
	// HistoryCap.
	History []string
	// Recent contains the track IDs recommended within the recency window;
	// the ranking engine hard-excludes these.
	Recent map[string]struct{}
	// Verdicts maps track ID to the user's recorded reaction.
	Verdicts map[string]Verdict
	// Trajectory lists the detected emotions oldest first.
	Trajectory []emotion.Label
	// Drift is an advisory flag: the 3 most recent emotions all differ from
	// the 3 before them. The scoring engine ignores it; orchestrators may
	// use it to reset preferences or re-seed.
	Drift bool
	// Cycles counts completed recommendation cycles.
	Cycles int
}

// historyEntry ties a recommended track to the cycle that produced it so the
// recency window can be expressed in cycles rather than raw track counts.
type historyEntry struct {
	cycle int
	track string
}

type sessionEntry struct {
	mu sync.Mutex
	// cycleMu serializes whole recommendation cycles for this session. It is
	// claimed via Tracker.BeginCycle and held across snapshot, fetch, rank
	// and record so concurrent turns cannot interleave their state updates.
	cycleMu    sync.Mutex
	id         string
	history    []historyEntry // ring buffer, oldest first
	verdicts   map[string]Verdict
	trajectory []emotion.Label
	prefsRev   prefs.Set
	cycles     int
}

// Tracker owns every open session. Safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	cfg      Config
	log      logrus.FieldLogger
}

// NewTracker returns a tracker with the given bounds. A nil logger falls back
// to the standard logrus logger.
func NewTracker(cfg Config, log logrus.FieldLogger) *Tracker {
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = DefaultConfig().HistoryCap
	}
	if cfg.RecencyCycles <= 0 {
		cfg.RecencyCycles = DefaultConfig().RecencyCycles
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Tracker{
		sessions: make(map[string]*sessionEntry),
		cfg:      cfg,
		log:      log.WithField("component", "session.tracker"),
	}
}

// Open creates state for a new session. Opening an already-open session is an
// error so lifecycle bugs in the caller surface instead of silently resetting
// a live conversation.
func (t *Tracker) Open(id string) error {
	if id == "" {
		return fmt.Errorf("session id must not be empty")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[id]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	t.sessions[id] = &sessionEntry{
		id:       id,
		verdicts: make(map[string]Verdict),
	}
	t.log.WithField("session", id).Info("session opened")
	return nil
}

// Close tears the session down. In-flight cycles that complete afterwards
// will fail to record and their results are discarded by the orchestrator.
func (t *Tracker) Close(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(t.sessions, id)
	t.log.WithField("session", id).Info("session closed")
	return nil
}

func (t *Tracker) entry(id string) (*sessionEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e, nil
}

// BeginCycle claims the session's cycle slot, blocking until any in-flight
// cycle for the same session has finished. The returned release function must
// be called once the cycle completes. Close never waits for the cycle slot, so
// a session can still be torn down while a cycle is running; that cycle's
// Record then fails and its results are discarded.
func (t *Tracker) BeginCycle(id string) (func(), error) {
	e, err := t.entry(id)
	if err != nil {
		return nil, err
	}
	e.cycleMu.Lock()
	return e.cycleMu.Unlock, nil
}

// Record appends one cycle's recommended tracks to the session history,
// evicting the oldest entries once the ring buffer is full.
func (t *Tracker) Record(id string, recommended []string) error {
	e, err := t.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cycles++
	for _, trk := range recommended {
		e.history = append(e.history, historyEntry{cycle: e.cycles, track: trk})
	}
	if over := len(e.history) - t.cfg.HistoryCap; over > 0 {
		e.history = append([]historyEntry(nil), e.history[over:]...)
	}
	return nil
}

// Feedback records the user's verdict on a track. Rejected tracks flow into
// the preference exclusion set on the next normalization pass; the tracker
// only stores the verdict and never touches the preference set itself.
func (t *Tracker) Feedback(id, trackID string, v Verdict) error {
	if v != VerdictAccepted && v != VerdictRejected {
		return fmt.Errorf("unknown verdict %q", v)
	}
	e, err := t.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.verdicts[trackID] = v
	return nil
}

// ObserveEmotion appends a newly detected emotion to the session trajectory
// and reports whether the trajectory, including this observation, shows drift.
func (t *Tracker) ObserveEmotion(id string, l emotion.Label) (bool, error) {
	e, err := t.entry(id)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trajectory = append(e.trajectory, l)
	if len(e.trajectory) > maxTrajectory {
		e.trajectory = append([]emotion.Label(nil), e.trajectory[len(e.trajectory)-maxTrajectory:]...)
	}
	return drifted(e.trajectory), nil
}

// Preferences returns the latest preference set revision for the session.
func (t *Tracker) Preferences(id string) (prefs.Set, error) {
	e, err := t.entry(id)
	if err != nil {
		return prefs.Set{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prefsRev, nil
}

// SetPreferences replaces the session's preference set with a new revision
// produced by the normalizer. Latest revision wins.
func (t *Tracker) SetPreferences(id string, s prefs.Set) error {
	e, err := t.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prefsRev = s
	return nil
}

// Snapshot returns an immutable copy of the session's state.
func (t *Tracker) Snapshot(id string) (State, error) {
	e, err := t.entry(id)
	if err != nil {
		return State{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	st := State{
		ID:       e.id,
		History:  make([]string, 0, len(e.history)),
		Recent:   make(map[string]struct{}),
		Verdicts: make(map[string]Verdict, len(e.verdicts)),
		Cycles:   e.cycles,
	}
	minCycle := e.cycles - t.cfg.RecencyCycles + 1
	for _, h := range e.history {
		st.History = append(st.History, h.track)
		if h.cycle >= minCycle {
			st.Recent[h.track] = struct{}{}
		}
	}
	for trk, v := range e.verdicts {
		st.Verdicts[trk] = v
	}
	st.Trajectory = append([]emotion.Label(nil), e.trajectory...)
	st.Drift = drifted(e.trajectory)
	return st, nil
}

// Len reports how many sessions are currently open.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// drifted reports whether the trailing driftSpan emotions all differ from the
// driftSpan before them.
func drifted(traj []emotion.Label) bool {
	if len(traj) < 2*driftSpan {
		return false
	}
	prev := make(map[emotion.Label]struct{}, driftSpan)
	for _, l := range traj[len(traj)-2*driftSpan : len(traj)-driftSpan] {
		prev[l] = struct{}{}
	}
	for _, l := range traj[len(traj)-driftSpan:] {
		if _, ok := prev[l]; ok {
			return false
		}
	}
	return true
}
