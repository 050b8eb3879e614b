package domain

// JournalKind distinguishes journal entry sources.
type JournalKind string

const (
	JournalNotification JournalKind = "notification"
	JournalAction       JournalKind = "action"
)

// IsValid checks if the kind is a valid value.
func (k JournalKind) IsValid() bool {
	return k == JournalNotification || k == JournalAction
}

// JournalEntry is one audit line of a session.
// Corresponds to journal_entries table in PostgreSQL.
type JournalEntry struct {
	SessionID  string      // session UUID
	Seq        int64       // per-session sequence, starts at 1
	Kind       JournalKind // notification | action
	Name       string      // event kind or action name
	Outcome    string      // e.g. received, submitted, precondition, failed
	Detail     string      // free-form context (tx hash, error text)
	RecordedAt int64       // Unix timestamp in milliseconds
	CreatedAt  int64       // record creation timestamp (ms)
}
