package memory

import (
	"context"
	"sort"
	"sync"

	"blockfund/internal/domain"
	"blockfund/internal/storage"
)

type journalKey struct {
	sessionID string
	seq       int64
}

// JournalStore is an in-memory implementation of storage.JournalStore.
type JournalStore struct {
	mu   sync.RWMutex
	data map[journalKey]*domain.JournalEntry
	// lastActive is the latest recorded_at per session
	lastActive map[string]int64
}

// NewJournalStore creates a new in-memory journal store.
func NewJournalStore() *JournalStore {
	return &JournalStore{
		data:       make(map[journalKey]*domain.JournalEntry),
		lastActive: make(map[string]int64),
	}
}

// Compile-time interface check.
var _ storage.JournalStore = (*JournalStore)(nil)

// Insert adds a new entry. Returns ErrDuplicateKey if (session_id, seq) exists.
func (s *JournalStore) Insert(_ context.Context, e *domain.JournalEntry) error {
	if err := storage.ValidateJournalEntry(e); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := journalKey{e.SessionID, e.Seq}
	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}
	s.putLocked(key, e)
	return nil
}

// InsertBulk adds multiple entries atomically. Fails entire batch on any duplicate.
func (s *JournalStore) InsertBulk(_ context.Context, entries []*domain.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}

	seen := make(map[journalKey]struct{}, len(entries))
	for _, e := range entries {
		if err := storage.ValidateJournalEntry(e); err != nil {
			return err
		}
		key := journalKey{e.SessionID, e.Seq}
		if _, dup := seen[key]; dup {
			return storage.ErrDuplicateKey
		}
		seen[key] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range seen {
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
	}
	for _, e := range entries {
		s.putLocked(journalKey{e.SessionID, e.Seq}, e)
	}
	return nil
}

func (s *JournalStore) putLocked(key journalKey, e *domain.JournalEntry) {
	// Store a copy to prevent external mutation
	entryCopy := *e
	s.data[key] = &entryCopy
	if e.RecordedAt >= s.lastActive[e.SessionID] {
		s.lastActive[e.SessionID] = e.RecordedAt
	}
}

// GetBySession retrieves all entries of a session, ordered by seq ASC.
func (s *JournalStore) GetBySession(_ context.Context, sessionID string) ([]*domain.JournalEntry, error) {
	return s.filter(sessionID, func(*domain.JournalEntry) bool { return true }), nil
}

// GetByTimeRange retrieves entries of a session recorded within [start, end] (inclusive).
func (s *JournalStore) GetByTimeRange(_ context.Context, sessionID string, start, end int64) ([]*domain.JournalEntry, error) {
	return s.filter(sessionID, func(e *domain.JournalEntry) bool {
		return e.RecordedAt >= start && e.RecordedAt <= end
	}), nil
}

func (s *JournalStore) filter(sessionID string, keep func(*domain.JournalEntry) bool) []*domain.JournalEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.JournalEntry
	for key, e := range s.data {
		if key.sessionID == sessionID && keep(e) {
			entryCopy := *e
			result = append(result, &entryCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq < result[j].Seq
	})
	return result
}

// ListSessions returns the ids of all sessions, most recently active first.
func (s *JournalStore) ListSessions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.lastActive))
	for id := range s.lastActive {
		sessions = append(sessions, id)
	}
	sort.Slice(sessions, func(i, j int) bool {
		ti, tj := s.lastActive[sessions[i]], s.lastActive[sessions[j]]
		if ti != tj {
			return ti > tj
		}
		return sessions[i] < sessions[j]
	})
	return sessions, nil
}
