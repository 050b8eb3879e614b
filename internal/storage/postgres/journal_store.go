package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"blockfund/internal/domain"
	"blockfund/internal/storage"
)

// JournalStore implements storage.JournalStore using PostgreSQL.
type JournalStore struct {
	pool *Pool
}

// NewJournalStore creates a new JournalStore.
func NewJournalStore(pool *Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.JournalStore = (*JournalStore)(nil)

const insertJournalEntry = `
	INSERT INTO journal_entries (
		session_id, seq, kind, name, outcome, detail, recorded_at
	) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)
`

const selectJournalEntry = `
	SELECT session_id::text, seq, kind, name, outcome, detail, recorded_at, created_at
	FROM journal_entries
`

// Insert adds a new entry. Returns ErrDuplicateKey if (session_id, seq) exists.
func (s *JournalStore) Insert(ctx context.Context, e *domain.JournalEntry) error {
	if err := storage.ValidateJournalEntry(e); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, insertJournalEntry,
		e.SessionID,
		e.Seq,
		string(e.Kind),
		e.Name,
		e.Outcome,
		e.Detail,
		e.RecordedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// InsertBulk adds multiple entries atomically. Fails entire batch on any duplicate.
func (s *JournalStore) InsertBulk(ctx context.Context, entries []*domain.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if err := storage.ValidateJournalEntry(e); err != nil {
			return err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		_, err := tx.Exec(ctx, insertJournalEntry,
			e.SessionID,
			e.Seq,
			string(e.Kind),
			e.Name,
			e.Outcome,
			e.Detail,
			e.RecordedAt,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert journal entry in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetBySession retrieves all entries of a session, ordered by seq ASC.
func (s *JournalStore) GetBySession(ctx context.Context, sessionID string) ([]*domain.JournalEntry, error) {
	query := selectJournalEntry + `
		WHERE session_id = $1::uuid
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get journal by session: %w", err)
	}
	defer rows.Close()

	return scanJournalEntries(rows)
}

// GetByTimeRange retrieves entries of a session recorded within [start, end] (inclusive).
func (s *JournalStore) GetByTimeRange(ctx context.Context, sessionID string, start, end int64) ([]*domain.JournalEntry, error) {
	query := selectJournalEntry + `
		WHERE session_id = $1::uuid AND recorded_at >= $2 AND recorded_at <= $3
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, sessionID, start, end)
	if err != nil {
		return nil, fmt.Errorf("get journal by time range: %w", err)
	}
	defer rows.Close()

	return scanJournalEntries(rows)
}

// ListSessions returns the ids of all sessions, most recently active first.
func (s *JournalStore) ListSessions(ctx context.Context) ([]string, error) {
	query := `
		SELECT session_id::text
		FROM journal_entries
		GROUP BY session_id
		ORDER BY MAX(recorded_at) DESC, session_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list journal sessions: %w", err)
	}
	defer rows.Close()

	sessions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan journal sessions: %w", err)
	}
	return sessions, nil
}

// scanJournalEntries scans multiple rows into a slice of JournalEntry.
func scanJournalEntries(rows pgx.Rows) ([]*domain.JournalEntry, error) {
	var entries []*domain.JournalEntry

	for rows.Next() {
		var e domain.JournalEntry
		var kindStr string

		err := rows.Scan(
			&e.SessionID,
			&e.Seq,
			&kindStr,
			&e.Name,
			&e.Outcome,
			&e.Detail,
			&e.RecordedAt,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}

		e.Kind = domain.JournalKind(kindStr)
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal rows: %w", err)
	}

	return entries, nil
}
