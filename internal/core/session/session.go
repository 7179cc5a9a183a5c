// Package session tracks per-match player participation: the
// Active/Disconnected/Abandoned state machine that gates command
// authority and snapshot subscriptions.
package session

import (
	"errors"
	"sync"
	"time"
)

// State is a session's position in the connect/disconnect/abandon
// state machine.
type State int

const (
	Active State = iota
	Disconnected
	Abandoned
)

func (s State) String() string {
	switch s {
	case Active:
		return "Active"
	case Disconnected:
		return "Disconnected"
	case Abandoned:
		return "Abandoned"
	default:
		return "Unknown"
	}
}

// ErrReconnectExpired is returned by Reconnect once the reconnect
// window has elapsed since disconnect.
var ErrReconnectExpired = errors.New("reconnect window expired")

// key identifies a session by its unique (playerID, matchID) pair.
type key struct {
	playerID string
	matchID  string
}

// Session is one player's participation record within one match.
type Session struct {
	PlayerID      string
	MatchID       string
	State         State
	LastHeartbeat time.Time
}

// Service owns every session for one container.
type Service struct {
	mu                  sync.RWMutex
	sessions            map[key]*Session
	reconnectWindow     time.Duration
	now                 func() time.Time
}

// NewService creates a session service with the given reconnect
// window (spec default: 300s).
func NewService(reconnectWindow time.Duration) *Service {
	return &Service{
		sessions:        make(map[key]*Session),
		reconnectWindow: reconnectWindow,
		now:             time.Now,
	}
}

func (s *Service) k(playerID, matchID string) key { return key{playerID, matchID} }

// Connect creates or resumes a session for (player, match): a fresh
// pair becomes Active; an existing Active session is a no-op; a
// Disconnected session reconnects to Active; an Abandoned session is
// replaced by a fresh Active one for the same pair.
func (s *Service) Connect(playerID, matchID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.k(playerID, matchID)
	existing, ok := s.sessions[k]
	if !ok || existing.State == Abandoned {
		sess := &Session{PlayerID: playerID, MatchID: matchID, State: Active, LastHeartbeat: s.now()}
		s.sessions[k] = sess
		return sess
	}
	if existing.State == Disconnected {
		existing.State = Active
		existing.LastHeartbeat = s.now()
	}
	return existing
}

// Disconnect transitions an Active session to Disconnected, recording
// the heartbeat timestamp the reconnect window is measured from.
func (s *Service) Disconnect(playerID, matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[s.k(playerID, matchID)]
	if !ok {
		return errors.New("session not found")
	}
	if sess.State == Active {
		sess.State = Disconnected
		sess.LastHeartbeat = s.now()
	}
	return nil
}

// Reconnect transitions a Disconnected session back to Active,
// provided it's still within the reconnect window.
func (s *Service) Reconnect(playerID, matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[s.k(playerID, matchID)]
	if !ok {
		return errors.New("session not found")
	}
	if sess.State != Disconnected {
		return nil
	}
	if s.now().Sub(sess.LastHeartbeat) > s.reconnectWindow {
		return ErrReconnectExpired
	}
	sess.State = Active
	sess.LastHeartbeat = s.now()
	return nil
}

// Abandon transitions any session to the terminal Abandoned state.
func (s *Service) Abandon(playerID, matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[s.k(playerID, matchID)]; ok {
		sess.State = Abandoned
	}
}

// CanReconnect reports whether a Disconnected session within the
// reconnect window exists for (player, match).
func (s *Service) CanReconnect(playerID, matchID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[s.k(playerID, matchID)]
	if !ok || sess.State != Disconnected {
		return false
	}
	return s.now().Sub(sess.LastHeartbeat) <= s.reconnectWindow
}

// IsAuthorized reports whether (player, match) currently holds an
// Active session — the gate command enqueue and snapshot subscription
// both check.
func (s *Service) IsAuthorized(playerID, matchID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[s.k(playerID, matchID)]
	return ok && sess.State == Active
}

// Get returns the session for (player, match), if any.
func (s *Service) Get(playerID, matchID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[s.k(playerID, matchID)]
	return sess, ok
}

// ActiveForMatch returns every Active session's player id for a match,
// exposed to AIs so they know which players are present.
func (s *Service) ActiveForMatch(matchID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var players []string
	for k, sess := range s.sessions {
		if k.matchID == matchID && sess.State == Active {
			players = append(players, k.playerID)
		}
	}
	return players
}

// SweepAbandoned transitions every session disconnected longer than
// window to Abandoned; returns how many were swept. Intended to be
// called periodically (see container's cron-driven sweep).
func (s *Service) SweepAbandoned(window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	swept := 0
	for _, sess := range s.sessions {
		if sess.State == Disconnected && s.now().Sub(sess.LastHeartbeat) > window {
			sess.State = Abandoned
			swept++
		}
	}
	return swept
}
