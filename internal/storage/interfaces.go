package storage

import (
	"context"

	"blockfund/internal/domain"
)

// JournalStore provides access to journal_entries storage.
type JournalStore interface {
	// Insert adds a new entry. Returns ErrDuplicateKey if (session_id, seq) exists.
	Insert(ctx context.Context, e *domain.JournalEntry) error

	// InsertBulk adds multiple entries atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, entries []*domain.JournalEntry) error

	// GetBySession retrieves all entries of a session, ordered by seq ASC.
	GetBySession(ctx context.Context, sessionID string) ([]*domain.JournalEntry, error)

	// GetByTimeRange retrieves entries of a session recorded within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, sessionID string, start, end int64) ([]*domain.JournalEntry, error)

	// ListSessions returns the ids of all sessions, most recently active first.
	ListSessions(ctx context.Context) ([]string, error)
}

// ValidateJournalEntry checks the fields every backend requires.
func ValidateJournalEntry(e *domain.JournalEntry) error {
	if e == nil || e.SessionID == "" || e.Seq <= 0 || !e.Kind.IsValid() || e.Name == "" {
		return ErrInvalidInput
	}
	return nil
}
