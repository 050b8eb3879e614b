// Package journal records an append-only audit trail of one session.
package journal

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"blockfund/internal/domain"
	"blockfund/internal/observability"
	"blockfund/internal/storage"
)

// Action outcomes.
const (
	OutcomeReceived     = "received"
	OutcomeSubmitted    = "submitted"
	OutcomePrecondition = "precondition"
	OutcomeFailed       = "failed"
)

// Journal writes entries for one session. Write failures are logged and
// counted, never returned.
type Journal struct {
	store     storage.JournalStore
	sessionID string
	seq       atomic.Int64
	now       func() time.Time
	logger    *zap.Logger
}

// New starts a journal session backed by store.
func New(store storage.JournalStore, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	j := &Journal{
		store:     store,
		sessionID: uuid.NewString(),
		now:       time.Now,
	}
	j.logger = logger.Named("journal").With(zap.String("session", j.sessionID))
	return j
}

// SessionID returns the session UUID.
func (j *Journal) SessionID() string {
	return j.sessionID
}

// Notification records a received contract notification.
func (j *Journal) Notification(ctx context.Context, ev domain.Event) {
	detail := fmt.Sprintf("block=%d log=%d tx=%s", ev.BlockNumber, ev.LogIndex, ev.TxHash)
	if ev.CampaignID != 0 {
		detail += " campaign=" + ev.CampaignID.String()
	}
	j.write(ctx, domain.JournalNotification, string(ev.Kind), OutcomeReceived, detail)
}

// Action records the outcome of one action attempt.
func (j *Journal) Action(ctx context.Context, name, outcome, detail string) {
	j.write(ctx, domain.JournalAction, name, outcome, detail)
}

func (j *Journal) write(ctx context.Context, kind domain.JournalKind, name, outcome, detail string) {
	e := &domain.JournalEntry{
		SessionID:  j.sessionID,
		Seq:        j.seq.Add(1),
		Kind:       kind,
		Name:       name,
		Outcome:    outcome,
		Detail:     detail,
		RecordedAt: j.now().UnixMilli(),
	}
	if err := j.store.Insert(ctx, e); err != nil {
		observability.RecordJournalError()
		j.logger.Warn("journal write failed",
			zap.Int64("seq", e.Seq),
			zap.String("name", name),
			zap.Error(err))
	}
}
