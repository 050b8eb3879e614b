// Package reconcile keeps a session snapshot consistent with the contract.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"blockfund/internal/domain"
	"blockfund/internal/identity"
	"blockfund/internal/ledger"
	"blockfund/internal/observability"
	"blockfund/internal/snapshot"
)

// Journal receives every notification the engine folds.
type Journal interface {
	Notification(ctx context.Context, ev domain.Event)
}

// Remote is the part of the ledger the engine needs.
type Remote interface {
	ledger.Reader
	ledger.Notifier
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithJournal records folded notifications to j.
func WithJournal(j Journal) Option {
	return func(e *Engine) {
		e.journal = j
	}
}

// Engine bootstraps the snapshot, folds notifications into it and refreshes
// identity-scoped state when the acting identity switches.
type Engine struct {
	remote  Remote
	store   *snapshot.Store
	tracker *identity.Tracker
	journal Journal
	logger  *zap.Logger

	mu         sync.Mutex
	started    bool
	closed     bool
	ctx        context.Context
	cancel     context.CancelFunc
	subs       []ledger.Subscription
	unregister func()
	wg         sync.WaitGroup
}

// NewEngine creates an engine writing to store.
func NewEngine(remote Remote, store *snapshot.Store, tracker *identity.Tracker, opts ...Option) *Engine {
	e := &Engine{
		remote:  remote,
		store:   store,
		tracker: tracker,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("reconcile")
	return e
}

// Bootstrap loads the full state. Contract-wide fields are committed
// together only if all of them were fetched; on failure they keep their
// previous values and the identity phase is skipped. The identity phase
// commits whatever it fetched and never rolls back the contract phase.
func (e *Engine) Bootstrap(ctx context.Context) error {
	start := time.Now()
	err := e.loadContract(ctx)
	observability.RecordBootstrapPhase("contract", time.Since(start), err)
	if err != nil {
		e.logger.Error("bootstrap failed", zap.String("phase", "contract"), zap.Error(err))
		return fmt.Errorf("load contract state: %w", err)
	}

	start = time.Now()
	err = e.loadIdentity(ctx)
	observability.RecordBootstrapPhase("identity", time.Since(start), err)
	if err != nil {
		e.logger.Warn("bootstrap incomplete", zap.String("phase", "identity"), zap.Error(err))
		return fmt.Errorf("load identity state: %w", err)
	}

	snap := e.store.Snapshot()
	e.logger.Info("bootstrap complete",
		zap.String("identity", snap.ActingIdentity.String()),
		zap.Int("live", len(snap.LiveRecords)),
		zap.Int("fulfilled", len(snap.FulfilledRecords)),
		zap.Int("canceled", len(snap.CanceledRecords)))
	return nil
}

func (e *Engine) loadContract(ctx context.Context) error {
	tok := e.store.Begin()
	updates := make([]snapshot.Update, 0, len(contractFields))
	for _, f := range contractFields {
		u, _, err := e.fetch(ctx, tok, f)
		if err != nil {
			return err
		}
		updates = append(updates, u)
	}
	e.store.Commit(tok, updates...)
	return nil
}

func (e *Engine) loadIdentity(ctx context.Context) error {
	if _, err := e.tracker.Resolve(ctx); err != nil {
		// Records are still listed, with no caller pledges
		if rerr := e.refresh(ctx, []snapshot.Field{snapshot.FieldRecords}); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}

	// A switch may have landed since Resolve returned
	e.tracker.Pin(e.store.SetIdentity)
	return e.refresh(ctx, identityFields)
}

// Start subscribes to every notification category and to identity
// switches. Start does not depend on Bootstrap having succeeded.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errors.New("engine closed")
	}
	if e.started {
		return nil
	}

	e.ctx, e.cancel = context.WithCancel(ctx)

	subs := make([]ledger.Subscription, 0, len(domain.AllEventKinds()))
	for _, kind := range domain.AllEventKinds() {
		sub, err := e.remote.Subscribe(ctx, kind)
		if err != nil {
			for _, s := range subs {
				s.Unsubscribe()
			}
			e.cancel()
			return fmt.Errorf("subscribe %s: %w", kind, err)
		}
		subs = append(subs, sub)
	}

	e.subs = subs
	for _, sub := range subs {
		e.wg.Add(1)
		go e.consume(sub)
	}
	e.unregister = e.tracker.OnSwitch(e.onIdentitySwitch)
	e.started = true

	e.logger.Info("listening for notifications", zap.Int("subscriptions", len(subs)))
	return nil
}

func (e *Engine) consume(sub ledger.Subscription) {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			e.HandleEvent(e.ctx, ev)
		}
	}
}

// HandleEvent folds one notification into the snapshot.
func (e *Engine) HandleEvent(ctx context.Context, ev domain.Event) error {
	observability.RecordNotification(string(ev.Kind))
	if e.journal != nil {
		e.journal.Notification(ctx, ev)
	}

	p := planFor(ev, e.store.Snapshot().ActingIdentity)
	e.logger.Debug("folding notification",
		zap.String("event", string(ev.Kind)),
		zap.Uint64("block", ev.BlockNumber),
		zap.Stringer("campaign", ev.CampaignID),
		zap.Int("fields", len(p.fields)))

	if p.markTerminated {
		e.store.MarkTerminated()
	}
	return e.refresh(ctx, p.fields)
}

func (e *Engine) onIdentitySwitch(addr domain.Address) {
	e.store.SetIdentity(addr)

	e.mu.Lock()
	ctx := e.ctx
	if e.closed || ctx == nil {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		if err := e.refresh(ctx, identityFields); err != nil {
			e.logger.Warn("identity refresh incomplete", zap.Error(err))
		}
	}()
}

// refresh fetches fields under one token and commits what succeeded.
// Failed fields keep their previous values.
func (e *Engine) refresh(ctx context.Context, fields []snapshot.Field) error {
	if len(fields) == 0 {
		return nil
	}

	tok := e.store.Begin()
	updates := make([]snapshot.Update, 0, len(fields))
	var errs []error

	for _, f := range fields {
		u, ok, err := e.fetch(ctx, tok, f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			updates = append(updates, u)
		}
	}

	e.store.Commit(tok, updates...)
	return errors.Join(errs...)
}

// fetch reads one field. Fields that require an identity are skipped
// (ok == false) when the token carries none.
func (e *Engine) fetch(ctx context.Context, tok snapshot.Token, f snapshot.Field) (u snapshot.Update, ok bool, err error) {
	who := tok.Identity()
	if f.RequiresIdentity() && who.IsZero() {
		return snapshot.Update{}, false, nil
	}

	defer func() {
		observability.RecordFetch(f.String(), err)
		if err != nil {
			e.logger.Warn("fetch failed", zap.Stringer("field", f), zap.Error(err))
			err = fmt.Errorf("fetch %s: %w", f, err)
		}
	}()

	switch f {
	case snapshot.FieldOwner:
		v, err := e.remote.Owner(ctx)
		return snapshot.Owner(v), err == nil, err
	case snapshot.FieldSpecialWallet:
		v, err := e.remote.SpecialWallet(ctx)
		return snapshot.SpecialWallet(v), err == nil, err
	case snapshot.FieldContractBalance:
		v, err := e.remote.BalanceOf(ctx, e.remote.ContractAddress())
		return snapshot.ContractBalance(v), err == nil, err
	case snapshot.FieldCollectedFees:
		v, err := e.remote.TotalPlatformFees(ctx)
		return snapshot.CollectedFees(v), err == nil, err
	case snapshot.FieldCampaignFee:
		v, err := e.remote.CampaignFee(ctx)
		return snapshot.CampaignFee(v), err == nil, err
	case snapshot.FieldTerminated:
		v, err := e.remote.Terminated(ctx)
		return snapshot.Terminated(v), err == nil, err
	case snapshot.FieldIsBanned:
		v, err := e.remote.BannedEntrepreneurs(ctx, who)
		return snapshot.IsBanned(v), err == nil, err
	case snapshot.FieldHasFundsToWithdraw:
		v, err := e.remote.IsRefundAvailable(ctx, who)
		return snapshot.HasFundsToWithdraw(v), err == nil, err
	case snapshot.FieldRecords:
		v, err := e.remote.GetAllCampaigns(ctx, who)
		return snapshot.Records(v), err == nil, err
	}
	return snapshot.Update{}, false, fmt.Errorf("unknown field %d", int(f))
}

// Close unsubscribes from every notification category and the identity
// tracker, then waits for in-flight folds to finish.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	subs := e.subs
	e.subs = nil
	unregister := e.unregister
	e.unregister = nil
	cancel := e.cancel
	e.mu.Unlock()

	if unregister != nil {
		unregister()
	}
	if cancel != nil {
		cancel()
	}

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}

	e.wg.Wait()
	e.logger.Info("closed")
	return errors.Join(errs...)
}
