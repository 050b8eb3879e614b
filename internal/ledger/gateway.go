// Package ledger provides access to the crowdfunding contract: point reads,
// transaction submission and notification subscriptions.
package ledger

import (
	"context"

	"blockfund/internal/domain"
)

// Reader defines the contract's read-only queries.
type Reader interface {
	// ContractAddress returns the address of the crowdfunding contract.
	ContractAddress() domain.Address

	Owner(ctx context.Context) (domain.Address, error)
	SpecialWallet(ctx context.Context) (domain.Address, error)

	// BalanceOf returns the native balance held by addr.
	BalanceOf(ctx context.Context, addr domain.Address) (domain.Amount, error)

	TotalPlatformFees(ctx context.Context) (domain.Amount, error)
	CampaignFee(ctx context.Context) (domain.Amount, error)
	Terminated(ctx context.Context) (bool, error)
	BannedEntrepreneurs(ctx context.Context, addr domain.Address) (bool, error)

	// IsRefundAvailable reports whether from has a pending refund.
	IsRefundAvailable(ctx context.Context, from domain.Address) (bool, error)

	// GetAllCampaigns returns every campaign; CallerPledges is relative to from.
	GetAllCampaigns(ctx context.Context, from domain.Address) ([]domain.CampaignRecord, error)

	// GetCampaignInfoByID returns a single campaign; CallerPledges is relative to from.
	GetCampaignInfoByID(ctx context.Context, from domain.Address, id domain.CampaignID) (domain.CampaignRecord, error)

	// CampaignTitles reports whether title is already taken.
	CampaignTitles(ctx context.Context, title string) (bool, error)
}

// TxOpts carries the sender and attached value of a submission.
type TxOpts struct {
	From  domain.Address
	Value domain.Amount
}

// Submitter defines the contract's mutating calls.
// Each returns the submitted transaction hash.
type Submitter interface {
	CreateCampaign(ctx context.Context, opts TxOpts, title string, cost domain.Amount, pledges uint64) (string, error)
	FundCampaign(ctx context.Context, opts TxOpts, id domain.CampaignID, count uint64) (string, error)
	CompleteCampaign(ctx context.Context, opts TxOpts, id domain.CampaignID) (string, error)
	CancelCampaign(ctx context.Context, opts TxOpts, id domain.CampaignID) (string, error)
	RefundInvestor(ctx context.Context, opts TxOpts) (string, error)
	WithdrawPlatformFees(ctx context.Context, opts TxOpts) (string, error)
	ChangeOwnership(ctx context.Context, opts TxOpts, newOwner domain.Address) (string, error)
	BanEntrepreneur(ctx context.Context, opts TxOpts, entrepreneur domain.Address) (string, error)
	TerminateContract(ctx context.Context, opts TxOpts) (string, error)
}

// Notifier defines per-category notification subscriptions.
type Notifier interface {
	// Subscribe starts delivering notifications of kind.
	// Delivery is at-least-once and carries no ordering guarantee.
	Subscribe(ctx context.Context, kind domain.EventKind) (Subscription, error)
}

// Subscription is a live notification stream.
type Subscription interface {
	// Events is closed after Unsubscribe or when the transport shuts down.
	Events() <-chan domain.Event

	// Unsubscribe stops delivery. Safe to call more than once.
	Unsubscribe() error
}

// Gateway is the full remote contract surface.
type Gateway interface {
	Reader
	Submitter
	Notifier
}
