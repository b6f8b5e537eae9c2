// Package snapshot holds the latest settled refresh result.
package snapshot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"RebalanceSentinel/internal/model"
)

// ErrStaleGeneration is returned when a superseded cycle tries to commit.
var ErrStaleGeneration = errors.New("snapshot: stale generation")

// Token identifies one refresh cycle. Tokens increase monotonically.
type Token uint64

// Store publishes one snapshot per completed cycle. Only the most recently
// begun cycle may commit; beginning a cycle cancels the context of the one
// before it so its in-flight requests stop early.
type Store struct {
	mu      sync.Mutex
	current Token
	cancel  context.CancelFunc

	latest      atomic.Pointer[model.Snapshot]
	subscribers []func(prev, next *model.Snapshot)
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Begin starts a new cycle. The returned context is derived from parent and
// is cancelled when a newer cycle begins or the cycle's result is committed.
func (s *Store) Begin(parent context.Context) (context.Context, Token) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.current++
	s.cancel = cancel
	return ctx, s.current
}

// Commit publishes snap if tok still belongs to the newest cycle.
func (s *Store) Commit(tok Token, snap *model.Snapshot) error {
	s.mu.Lock()
	if tok != s.current {
		s.mu.Unlock()
		return ErrStaleGeneration
	}
	snap.Generation = uint64(tok)
	prev := s.latest.Swap(snap)
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	subs := append([]func(prev, next *model.Snapshot){}, s.subscribers...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(prev, snap)
	}
	return nil
}

// Abandon releases the cycle's context without committing. It is a no-op for
// a superseded token.
func (s *Store) Abandon(tok Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok == s.current && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Latest returns the most recently committed snapshot, or nil.
func (s *Store) Latest() *model.Snapshot {
	return s.latest.Load()
}

// Generation returns the newest begun token.
func (s *Store) Generation() Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe registers fn to run after every successful commit, outside the lock.
func (s *Store) Subscribe(fn func(prev, next *model.Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}
