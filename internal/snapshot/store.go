// Package snapshot holds the session's local mirror of contract state.
//
// The Store has a single writer, the reconciliation engine. Every fetch
// takes a Token before it starts and hands it back on commit; a result is
// applied only if no fetch that started later has already been committed
// for the same field. Identity-scoped fields are also dropped when the
// acting identity changed after the token was taken. Readers load the
// latest committed snapshot without locking.
package snapshot

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"blockfund/internal/classify"
	"blockfund/internal/domain"
	"blockfund/internal/observability"
)

// Field names one independently refreshed part of the snapshot.
type Field int

const (
	FieldOwner Field = iota
	FieldSpecialWallet
	FieldContractBalance
	FieldCollectedFees
	FieldCampaignFee
	FieldTerminated
	FieldIsBanned
	FieldHasFundsToWithdraw
	FieldRecords

	numFields
)

var fieldNames = [numFields]string{
	FieldOwner:              "owner",
	FieldSpecialWallet:      "specialWallet",
	FieldContractBalance:    "contractBalance",
	FieldCollectedFees:      "collectedFees",
	FieldCampaignFee:        "campaignFee",
	FieldTerminated:         "terminated",
	FieldIsBanned:           "isBanned",
	FieldHasFundsToWithdraw: "hasFundsToWithdraw",
	FieldRecords:            "records",
}

func (f Field) String() string {
	if f < 0 || f >= numFields {
		return "unknown"
	}
	return fieldNames[f]
}

// IdentityScoped reports whether the field's value depends on the acting identity.
func (f Field) IdentityScoped() bool {
	switch f {
	case FieldIsBanned, FieldHasFundsToWithdraw, FieldRecords:
		return true
	}
	return false
}

// RequiresIdentity reports whether the field cannot be read without an
// acting identity. Records can; their caller pledges read as zero.
func (f Field) RequiresIdentity() bool {
	return f == FieldIsBanned || f == FieldHasFundsToWithdraw
}

// Token marks the start of a fetch.
type Token struct {
	seq      uint64
	epoch    uint64
	identity domain.Address
}

// Identity returns the acting identity at the time the token was taken.
func (t Token) Identity() domain.Address {
	return t.identity
}

// Update is one field assignment applied by Commit.
type Update struct {
	field Field
	apply func(s *domain.SessionSnapshot)
}

// Field returns the field the update assigns.
func (u Update) Field() Field {
	return u.field
}

func Owner(a domain.Address) Update {
	return Update{FieldOwner, func(s *domain.SessionSnapshot) { s.Owner = a }}
}

func SpecialWallet(a domain.Address) Update {
	return Update{FieldSpecialWallet, func(s *domain.SessionSnapshot) { s.SpecialWallet = a }}
}

func ContractBalance(v domain.Amount) Update {
	return Update{FieldContractBalance, func(s *domain.SessionSnapshot) { s.ContractBalance = v }}
}

func CollectedFees(v domain.Amount) Update {
	return Update{FieldCollectedFees, func(s *domain.SessionSnapshot) { s.CollectedFees = v }}
}

func CampaignFee(v domain.Amount) Update {
	return Update{FieldCampaignFee, func(s *domain.SessionSnapshot) { s.CampaignFee = v }}
}

// Terminated never clears a flag that is already set.
func Terminated(v bool) Update {
	return Update{FieldTerminated, func(s *domain.SessionSnapshot) { s.Terminated = s.Terminated || v }}
}

func IsBanned(v bool) Update {
	return Update{FieldIsBanned, func(s *domain.SessionSnapshot) { s.IsBanned = v }}
}

func HasFundsToWithdraw(v bool) Update {
	return Update{FieldHasFundsToWithdraw, func(s *domain.SessionSnapshot) { s.HasFundsToWithdraw = v }}
}

// Records replaces the full record set and reclassifies it.
func Records(records []domain.CampaignRecord) Update {
	return Update{FieldRecords, func(s *domain.SessionSnapshot) {
		s.LiveRecords, s.FulfilledRecords, s.CanceledRecords = classify.Classify(records)
	}}
}

// Store is the single owner of the session snapshot.
type Store struct {
	logger *zap.Logger

	seq atomic.Uint64
	cur atomic.Pointer[domain.SessionSnapshot]

	mu        sync.Mutex
	epoch     uint64
	committed [numFields]uint64

	changes chan struct{}
}

// NewStore creates a store holding an empty snapshot.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		logger:  logger.Named("snapshot"),
		changes: make(chan struct{}, 1),
	}
	s.cur.Store(&domain.SessionSnapshot{
		LiveRecords:      []domain.CampaignRecord{},
		FulfilledRecords: []domain.CampaignRecord{},
		CanceledRecords:  []domain.CampaignRecord{},
	})
	return s
}

// Begin takes a token for a fetch about to start.
func (s *Store) Begin() Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Token{
		seq:      s.seq.Add(1),
		epoch:    s.epoch,
		identity: s.cur.Load().ActingIdentity,
	}
}

// Commit applies updates fetched under tok as one new snapshot. Updates
// that lost the freshness race are skipped and returned.
func (s *Store) Commit(tok Token, updates ...Update) (stale []Field) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.cur.Load()
	var next *domain.SessionSnapshot

	for _, u := range updates {
		if !s.freshLocked(tok, u.field) {
			stale = append(stale, u.field)
			continue
		}
		if next == nil {
			next = prev.Clone()
		}
		u.apply(next)
		s.committed[u.field] = tok.seq
	}

	for _, f := range stale {
		observability.RecordStaleCommit(f.String())
		s.logger.Debug("discarding stale fetch", zap.Stringer("field", f), zap.Uint64("seq", tok.seq))
	}

	if next != nil {
		s.publishLocked(next)
	}
	return stale
}

func (s *Store) freshLocked(tok Token, f Field) bool {
	if tok.seq <= s.committed[f] {
		return false
	}
	if f.IdentityScoped() && tok.epoch != s.epoch {
		return false
	}
	return true
}

// MarkTerminated sets the one-way terminated flag without a fetch.
func (s *Store) MarkTerminated() {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.cur.Load()
	if prev.Terminated {
		return
	}
	next := prev.Clone()
	next.Terminated = true
	s.publishLocked(next)
}

// SetIdentity switches the acting identity. Identity-scoped fields fall
// back to their most restrictive values until they are fetched again, and
// fetches started under the previous identity can no longer commit them.
func (s *Store) SetIdentity(addr domain.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.cur.Load()
	if prev.ActingIdentity == addr {
		return
	}

	next := prev.Clone()
	next.ActingIdentity = addr
	next.IsBanned = !addr.IsZero()
	next.HasFundsToWithdraw = false
	for _, group := range [][]domain.CampaignRecord{next.LiveRecords, next.FulfilledRecords, next.CanceledRecords} {
		for i := range group {
			group[i].CallerPledges = 0
		}
	}

	s.epoch++
	s.publishLocked(next)
}

func (s *Store) publishLocked(next *domain.SessionSnapshot) {
	s.cur.Store(next)
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// Snapshot returns the latest committed snapshot. Callers must not modify it.
func (s *Store) Snapshot() *domain.SessionSnapshot {
	return s.cur.Load()
}

// Changes signals after every published snapshot. Signals coalesce: a
// receiver sees at least one signal after any number of changes.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

// View returns a read-only handle on the store.
func (s *Store) View() View {
	return View{s: s}
}

// View is the read side of a Store handed to presentation and action code.
type View struct {
	s *Store
}

// Snapshot returns a private copy of the latest snapshot.
func (v View) Snapshot() *domain.SessionSnapshot {
	return v.s.Snapshot().Clone()
}

// Changes signals after every published snapshot.
func (v View) Changes() <-chan struct{} {
	return v.s.Changes()
}
