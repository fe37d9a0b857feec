package confessional

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Store holds the bot's process-wide mutable state: per-user post
// cooldowns, the authorship ledger linking anonymous posts to their
// authors, and the post sequence counter.
//
// Nothing here is persisted. A restart clears all cooldowns and
// authorship records, after which existing posts can no longer be used
// to request a DM.
//
// Each map has its own lock, and the counter is atomic, so concurrent
// interaction handlers can share a single Store.
type Store struct {
	cooldown time.Duration
	now      func() time.Time

	// user ID -> cooldown expiry
	cooldowns  map[string]time.Time
	cooldownMu sync.Mutex

	// message ID -> author user ID
	authors  map[string]string
	authorMu sync.RWMutex

	sequence atomic.Int64
	closed   atomic.Bool
}

// NewStore returns an empty Store using the given post cooldown
func NewStore(cooldown time.Duration) *Store {
	return &Store{
		cooldown:  cooldown,
		now:       time.Now,
		cooldowns: map[string]time.Time{},
		authors:   map[string]string{},
	}
}

// OnCooldown returns true if the user has a cooldown expiry set, and
// it's still in the future
func (s *Store) OnCooldown(userID string) bool {
	s.cooldownMu.Lock()
	defer s.cooldownMu.Unlock()
	return s.onCooldown(userID, s.now())
}

func (s *Store) onCooldown(userID string, now time.Time) bool {
	expiry, ok := s.cooldowns[userID]
	return ok && now.Before(expiry)
}

// CooldownExpiry returns the user's cooldown expiry, if they're
// currently on cooldown
func (s *Store) CooldownExpiry(userID string) (time.Time, bool) {
	s.cooldownMu.Lock()
	defer s.cooldownMu.Unlock()
	if !s.onCooldown(userID, s.now()) {
		return time.Time{}, false
	}
	return s.cooldowns[userID], true
}

// StartCooldown sets the user's cooldown to expire after the configured
// duration, overwriting any existing expiry
func (s *Store) StartCooldown(userID string) time.Time {
	s.cooldownMu.Lock()
	defer s.cooldownMu.Unlock()
	expiry := s.now().Add(s.cooldown)
	s.cooldowns[userID] = expiry
	return expiry
}

// TryStartCooldown starts the user's cooldown unless they're already on
// cooldown. The check and the update happen under one lock, so two
// concurrent posts from the same user can't both succeed.
// Returns the (new or existing) expiry, and whether a new cooldown was
// started.
func (s *Store) TryStartCooldown(userID string) (time.Time, bool) {
	s.cooldownMu.Lock()
	defer s.cooldownMu.Unlock()
	now := s.now()
	if s.onCooldown(userID, now) {
		return s.cooldowns[userID], false
	}
	expiry := now.Add(s.cooldown)
	s.cooldowns[userID] = expiry
	return expiry, true
}

// RecordAuthor links a posted message to its author. Records are
// append-only: a message's author can't be changed once set.
func (s *Store) RecordAuthor(messageID string, userID string) error {
	s.authorMu.Lock()
	defer s.authorMu.Unlock()
	if existing, ok := s.authors[messageID]; ok {
		return fmt.Errorf("%w: message %s (author %s)", ErrAuthorExists, messageID, existing)
	}
	s.authors[messageID] = userID
	return nil
}

// Author returns the ID of the user who posted the given message
func (s *Store) Author(messageID string) (string, bool) {
	s.authorMu.RLock()
	defer s.authorMu.RUnlock()
	userID, ok := s.authors[messageID]
	return userID, ok
}

// NextSequence increments and returns the post sequence number
func (s *Store) NextSequence() int64 {
	return s.sequence.Add(1)
}

// Sequence returns the current post sequence number, without
// incrementing it
func (s *Store) Sequence() int64 {
	return s.sequence.Load()
}

// StoreStats summarizes the contents of a [Store]
type StoreStats struct {
	Posts           int64 `json:"posts"`
	AuthoredPosts   int   `json:"authored_posts"`
	ActiveCooldowns int   `json:"active_cooldowns"`
}

func (s *Store) Stats() StoreStats {
	stats := StoreStats{Posts: s.sequence.Load()}

	s.authorMu.RLock()
	stats.AuthoredPosts = len(s.authors)
	s.authorMu.RUnlock()

	s.cooldownMu.Lock()
	now := s.now()
	for userID := range s.cooldowns {
		if s.onCooldown(userID, now) {
			stats.ActiveCooldowns++
		}
	}
	s.cooldownMu.Unlock()

	return stats
}

// Close discards the store's contents. It's safe to call more than once.
func (s *Store) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cooldownMu.Lock()
	clear(s.cooldowns)
	s.cooldownMu.Unlock()

	s.authorMu.Lock()
	clear(s.authors)
	s.authorMu.Unlock()
}
