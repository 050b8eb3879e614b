// Package action guards user-initiated contract mutations. Every action
// checks its pre-conditions against the latest known state and submits
// only if they hold. Failed submissions are never retried.
package action

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"blockfund/internal/domain"
	"blockfund/internal/identity"
	"blockfund/internal/journal"
	"blockfund/internal/ledger"
	"blockfund/internal/observability"
	"blockfund/internal/snapshot"
)

var (
	// ErrPrecondition means the action was rejected locally and nothing was submitted.
	ErrPrecondition = errors.New("precondition failed")

	// ErrSubmission means the remote rejected or failed the submission.
	ErrSubmission = errors.New("submission failed")
)

// Action names, as journaled and counted.
const (
	NameCreateCampaign    = "createCampaign"
	NamePledge            = "pledge"
	NameFulfill           = "fulfill"
	NameCancel            = "cancel"
	NameRefund            = "refund"
	NameWithdrawFees      = "withdrawFees"
	NameChangeOwner       = "changeOwner"
	NameBanEntrepreneur   = "banEntrepreneur"
	NameTerminateContract = "terminateContract"
)

// Journal receives the outcome of every action attempt.
type Journal interface {
	Action(ctx context.Context, name, outcome, detail string)
}

// Remote is the part of the ledger actions need.
type Remote interface {
	ledger.Reader
	ledger.Submitter
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithJournal records action outcomes to j.
func WithJournal(j Journal) Option {
	return func(g *Gateway) {
		g.journal = j
	}
}

// Gateway runs the nine guarded actions on behalf of the acting identity of
// the snapshot it reads.
type Gateway struct {
	remote  Remote
	view    snapshot.View
	journal Journal
	logger  *zap.Logger
}

// NewGateway creates an action gateway.
func NewGateway(remote Remote, view snapshot.View, opts ...Option) *Gateway {
	g := &Gateway{
		remote: remote,
		view:   view,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("action")
	return g
}

func precondition(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}

// acting returns the latest snapshot and the sender options of its identity.
func (g *Gateway) acting() (*domain.SessionSnapshot, ledger.TxOpts, error) {
	snap := g.view.Snapshot()
	if !snap.HasIdentity() {
		return snap, ledger.TxOpts{}, fmt.Errorf("%w: %w", ErrPrecondition, identity.ErrIdentityUnavailable)
	}
	return snap, ledger.TxOpts{From: snap.ActingIdentity}, nil
}

// run checks then submits, recording the outcome.
func (g *Gateway) run(ctx context.Context, name string, check func() error, submit func() (string, error)) (string, error) {
	if err := check(); err != nil {
		observability.RecordAction(name, journal.OutcomePrecondition)
		g.record(ctx, name, journal.OutcomePrecondition, err.Error())
		g.logger.Debug("action rejected", zap.String("action", name), zap.Error(err))
		return "", err
	}

	txHash, err := submit()
	if err != nil {
		observability.RecordAction(name, journal.OutcomeFailed)
		g.record(ctx, name, journal.OutcomeFailed, err.Error())
		g.logger.Error("submission failed", zap.String("action", name), zap.Error(err))
		return "", fmt.Errorf("%w: %s: %w", ErrSubmission, name, err)
	}

	observability.RecordAction(name, journal.OutcomeSubmitted)
	g.record(ctx, name, journal.OutcomeSubmitted, "tx="+txHash)
	g.logger.Info("submitted", zap.String("action", name), zap.String("tx", txHash))
	return txHash, nil
}

func (g *Gateway) record(ctx context.Context, name, outcome, detail string) {
	if g.journal != nil {
		g.journal.Action(ctx, name, outcome, detail)
	}
}

// CreateCampaign creates a campaign of pledges pledges costing cost ether
// each. The snapshot campaign fee is attached as the value.
func (g *Gateway) CreateCampaign(ctx context.Context, title, cost, pledges string) (string, error) {
	var (
		snap  *domain.SessionSnapshot
		opts  ledger.TxOpts
		price domain.Amount
		count uint64
	)

	check := func() error {
		if strings.TrimSpace(title) == "" || strings.TrimSpace(cost) == "" || strings.TrimSpace(pledges) == "" {
			return precondition("title, cost and pledges are required")
		}

		var err error
		if snap, opts, err = g.acting(); err != nil {
			return err
		}
		if snap.HasTitle(title) {
			return precondition("title %q already used", title)
		}
		if price, err = domain.ParseEther(cost); err != nil {
			return fmt.Errorf("%w: %w", ErrPrecondition, err)
		}
		if price.Sign() <= 0 {
			return precondition("cost must be greater than zero")
		}
		if count, err = strconv.ParseUint(strings.TrimSpace(pledges), 10, 64); err != nil || count == 0 {
			return precondition("pledges must be a positive integer, got %q", pledges)
		}
		if snap.Terminated {
			return precondition("contract terminated")
		}
		if snap.IsBanned {
			return precondition("entrepreneur banned")
		}
		if snap.ActingIdentity == snap.Owner {
			return precondition("owner cannot create campaigns")
		}

		taken, err := g.remote.CampaignTitles(ctx, title)
		if err != nil {
			return precondition("check title: %v", err)
		}
		if taken {
			return precondition("title %q already used", title)
		}
		opts.Value = snap.CampaignFee
		return nil
	}

	return g.run(ctx, NameCreateCampaign, check, func() (string, error) {
		return g.remote.CreateCampaign(ctx, opts, title, price, count)
	})
}

// liveRecord point-reads a campaign and requires it to be non-terminal.
func (g *Gateway) liveRecord(ctx context.Context, from domain.Address, id domain.CampaignID) (domain.CampaignRecord, error) {
	if id == 0 {
		return domain.CampaignRecord{}, precondition("campaign id required")
	}
	rec, err := g.remote.GetCampaignInfoByID(ctx, from, id)
	if err != nil {
		return domain.CampaignRecord{}, precondition("read campaign %s: %v", id, err)
	}
	switch {
	case rec.Fulfilled:
		return rec, precondition("campaign %s already fulfilled", id)
	case rec.Canceled:
		return rec, precondition("campaign %s already canceled", id)
	}
	return rec, nil
}

// Pledge buys one pledge of campaign id at its current price.
func (g *Gateway) Pledge(ctx context.Context, id domain.CampaignID) (string, error) {
	var opts ledger.TxOpts
	check := func() error {
		var err error
		if _, opts, err = g.acting(); err != nil {
			return err
		}
		rec, err := g.liveRecord(ctx, opts.From, id)
		if err != nil {
			return err
		}
		opts.Value = rec.Price
		return nil
	}

	return g.run(ctx, NamePledge, check, func() (string, error) {
		return g.remote.FundCampaign(ctx, opts, id, 1)
	})
}

// Fulfill completes campaign id.
func (g *Gateway) Fulfill(ctx context.Context, id domain.CampaignID) (string, error) {
	var opts ledger.TxOpts
	check := func() error {
		var err error
		if _, opts, err = g.acting(); err != nil {
			return err
		}
		_, err = g.liveRecord(ctx, opts.From, id)
		return err
	}

	return g.run(ctx, NameFulfill, check, func() (string, error) {
		return g.remote.CompleteCampaign(ctx, opts, id)
	})
}

// Cancel cancels campaign id.
func (g *Gateway) Cancel(ctx context.Context, id domain.CampaignID) (string, error) {
	var opts ledger.TxOpts
	check := func() error {
		var err error
		if _, opts, err = g.acting(); err != nil {
			return err
		}
		_, err = g.liveRecord(ctx, opts.From, id)
		return err
	}

	return g.run(ctx, NameCancel, check, func() (string, error) {
		return g.remote.CancelCampaign(ctx, opts, id)
	})
}

// Refund withdraws the acting identity's pending refunds.
func (g *Gateway) Refund(ctx context.Context) (string, error) {
	var opts ledger.TxOpts
	check := func() error {
		snap, o, err := g.acting()
		if err != nil {
			return err
		}
		if !snap.HasFundsToWithdraw {
			return precondition("no funds to withdraw")
		}
		opts = o
		return nil
	}

	return g.run(ctx, NameRefund, check, func() (string, error) {
		return g.remote.RefundInvestor(ctx, opts)
	})
}

// WithdrawFees withdraws the collected platform fees.
func (g *Gateway) WithdrawFees(ctx context.Context) (string, error) {
	var opts ledger.TxOpts
	check := func() error {
		snap, o, err := g.acting()
		if err != nil {
			return err
		}
		if !snap.IsPrivileged(o.From) {
			return precondition("not privileged")
		}
		if snap.CollectedFees.Sign() <= 0 {
			return precondition("no fees collected")
		}
		opts = o
		return nil
	}

	return g.run(ctx, NameWithdrawFees, check, func() (string, error) {
		return g.remote.WithdrawPlatformFees(ctx, opts)
	})
}

// adminTarget checks a privileged action that names another address.
func (g *Gateway) adminTarget(raw string) (ledger.TxOpts, domain.Address, error) {
	snap, opts, err := g.acting()
	if err != nil {
		return opts, domain.Address{}, err
	}
	if !snap.IsPrivileged(opts.From) {
		return opts, domain.Address{}, precondition("not privileged")
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return opts, domain.Address{}, precondition("address required")
	}
	addr, err := domain.ParseAddress(raw)
	if err != nil {
		return opts, domain.Address{}, fmt.Errorf("%w: %w", ErrPrecondition, err)
	}
	if snap.Terminated {
		return opts, domain.Address{}, precondition("contract terminated")
	}
	return opts, addr, nil
}

// ChangeOwner transfers contract ownership to addr.
func (g *Gateway) ChangeOwner(ctx context.Context, addr string) (string, error) {
	var (
		opts   ledger.TxOpts
		target domain.Address
	)
	check := func() (err error) {
		opts, target, err = g.adminTarget(addr)
		return err
	}

	return g.run(ctx, NameChangeOwner, check, func() (string, error) {
		return g.remote.ChangeOwnership(ctx, opts, target)
	})
}

// BanEntrepreneur bans addr from creating campaigns.
func (g *Gateway) BanEntrepreneur(ctx context.Context, addr string) (string, error) {
	var (
		opts   ledger.TxOpts
		target domain.Address
	)
	check := func() (err error) {
		opts, target, err = g.adminTarget(addr)
		return err
	}

	return g.run(ctx, NameBanEntrepreneur, check, func() (string, error) {
		return g.remote.BanEntrepreneur(ctx, opts, target)
	})
}

// TerminateContract shuts the contract down for good.
func (g *Gateway) TerminateContract(ctx context.Context) (string, error) {
	var opts ledger.TxOpts
	check := func() error {
		snap, o, err := g.acting()
		if err != nil {
			return err
		}
		if !snap.IsPrivileged(o.From) {
			return precondition("not privileged")
		}
		if snap.Terminated {
			return precondition("contract terminated")
		}
		opts = o
		return nil
	}

	return g.run(ctx, NameTerminateContract, check, func() (string, error) {
		return g.remote.TerminateContract(ctx, opts)
	})
}
