// Package watch is the client side of the watch page: local session state,
// optimistic like and subscribe toggles, and live projections of counters and
// comment feeds pushed by the API.
package watch

import (
	"context"
	"errors"
	"sync"
)

// ErrLoginRequired is returned when an anonymous viewer tries to interact.
// No remote call is made.
var ErrLoginRequired = errors.New("watch: please log in first")

// SessionState is the viewer's authentication state.
type SessionState struct {
	IsLoggedIn      bool   `json:"isLoggedIn"`
	CurrentUserID   string `json:"currentUserId,omitempty"`
	CurrentUserName string `json:"currentUserName"`
}

// AnonymousState is the state of a signed-out viewer.
func AnonymousState() SessionState {
	return SessionState{CurrentUserName: "Anonymous"}
}

// SessionSource reports the current auth state, typically the API.
type SessionSource interface {
	Session(ctx context.Context) (SessionState, error)
}

// Session holds the viewer's auth state and notifies listeners when it changes.
type Session struct {
	mu        sync.RWMutex
	state     SessionState
	listeners map[int]func(SessionState)
	nextID    int
}

// NewSession starts anonymous.
func NewSession() *Session {
	return &Session{
		state:     AnonymousState(),
		listeners: make(map[int]func(SessionState)),
	}
}

// State returns the current auth state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// OnAuthStateChanged calls listener with the current state right away and again
// after every change, until the returned function is called.
func (s *Session) OnAuthStateChanged(listener func(SessionState)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	state := s.state
	s.mu.Unlock()

	listener(state)
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// SetAuthState replaces the state and notifies listeners.
func (s *Session) SetAuthState(state SessionState) {
	if !state.IsLoggedIn {
		state = AnonymousState()
	}
	s.mu.Lock()
	s.state = state
	listeners := make([]func(SessionState), 0, len(s.listeners))
	for _, listener := range s.listeners {
		listeners = append(listeners, listener)
	}
	s.mu.Unlock()

	for _, listener := range listeners {
		listener(state)
	}
}

// Refresh loads the auth state from source.
func (s *Session) Refresh(ctx context.Context, source SessionSource) error {
	state, err := source.Session(ctx)
	if err != nil {
		return err
	}
	s.SetAuthState(state)
	return nil
}
