// Package stub provides an in-memory crowdfunding contract implementing
// ledger.Gateway for tests and offline runs.
package stub

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"blockfund/internal/domain"
	"blockfund/internal/ledger"
)

var (
	// ErrNotFound is returned when a campaign does not exist.
	ErrNotFound = errors.New("not found")

	// ErrReverted wraps every rule the simulated contract enforces.
	ErrReverted = errors.New("execution reverted")
)

// PlatformFeePercent is the share of raised funds kept on completion.
const PlatformFeePercent = 20

// ContractAddress is the simulated contract's address.
var ContractAddress = domain.MustParseAddress("0x00000000000000000000000000000000000bf0d1")

type campaign struct {
	id           domain.CampaignID
	entrepreneur domain.Address
	title        string
	price        *big.Int
	pledgesLeft  uint64
	pledges      map[domain.Address]uint64
	fulfilled    bool
	canceled     bool
}

// Gateway simulates the crowdfunding contract.
type Gateway struct {
	mu            sync.Mutex
	beforeRead    func(ctx context.Context, method string) error
	autoEmit      bool
	owner         domain.Address
	specialWallet domain.Address
	campaignFee   *big.Int
	fees          *big.Int
	balance       *big.Int
	terminated    bool
	banned        map[domain.Address]bool
	refunds       map[domain.Address]*big.Int
	campaigns     []*campaign
	titles        map[string]bool
	calls         map[string]int
	block         uint64

	subsMu sync.Mutex
	subs   map[*subscription]struct{}
}

// NewGateway creates a contract owned by owner with a campaign fee in wei.
func NewGateway(owner, specialWallet domain.Address, campaignFee domain.Amount) *Gateway {
	return &Gateway{
		autoEmit:      true,
		owner:         owner,
		specialWallet: specialWallet,
		campaignFee:   campaignFee.Int(),
		fees:          new(big.Int),
		balance:       new(big.Int),
		banned:        make(map[domain.Address]bool),
		refunds:       make(map[domain.Address]*big.Int),
		titles:        make(map[string]bool),
		calls:         make(map[string]int),
		subs:          make(map[*subscription]struct{}),
	}
}

// SetBeforeRead installs a hook run at the start of every read with the
// contract method name. A non-nil error fails the read. Tests use it to
// inject failures and to hold reads in flight.
func (g *Gateway) SetBeforeRead(fn func(ctx context.Context, method string) error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.beforeRead = fn
}

// SetAutoEmit controls whether successful mutations emit notifications.
func (g *Gateway) SetAutoEmit(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.autoEmit = on
}

// Calls returns how many times method was invoked, reads and mutations alike.
func (g *Gateway) Calls(method string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[method]
}

// AddCampaign inserts a campaign directly, bypassing fees and events.
func (g *Gateway) AddCampaign(entrepreneur domain.Address, title string, price domain.Amount, pledges uint64) domain.CampaignID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addCampaignLocked(entrepreneur, title, price.Int(), pledges).id
}

// SetCampaignState forces a campaign's terminal flags, bypassing contract rules.
func (g *Gateway) SetCampaignState(id domain.CampaignID, fulfilled, canceled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c := g.campaignLocked(id); c != nil {
		c.fulfilled = fulfilled
		c.canceled = canceled
	}
}

func (g *Gateway) addCampaignLocked(entrepreneur domain.Address, title string, price *big.Int, pledges uint64) *campaign {
	c := &campaign{
		id:           domain.CampaignID(len(g.campaigns) + 1),
		entrepreneur: entrepreneur,
		title:        title,
		price:        new(big.Int).Set(price),
		pledgesLeft:  pledges,
		pledges:      make(map[domain.Address]uint64),
	}
	g.campaigns = append(g.campaigns, c)
	g.titles[title] = true
	return c
}

func (g *Gateway) campaignLocked(id domain.CampaignID) *campaign {
	if id == 0 || int(id) > len(g.campaigns) {
		return nil
	}
	return g.campaigns[id-1]
}

func (c *campaign) record(from domain.Address) domain.CampaignRecord {
	return domain.CampaignRecord{
		CampaignID:    c.id,
		Entrepreneur:  c.entrepreneur,
		Title:         c.title,
		Price:         domain.NewAmount(c.price),
		Backers:       uint64(len(c.pledges)),
		PledgesLeft:   c.pledgesLeft,
		CallerPledges: c.pledges[from],
		Fulfilled:     c.fulfilled,
		Canceled:      c.canceled,
	}
}

// beginRead counts the call and runs the read hook outside the lock.
func (g *Gateway) beginRead(ctx context.Context, method string) error {
	g.mu.Lock()
	g.calls[method]++
	hook := g.beforeRead
	g.mu.Unlock()

	if hook != nil {
		return hook(ctx, method)
	}
	return ctx.Err()
}

// ContractAddress returns the simulated contract address.
func (g *Gateway) ContractAddress() domain.Address {
	return ContractAddress
}

// Owner returns the contract owner.
func (g *Gateway) Owner(ctx context.Context) (domain.Address, error) {
	if err := g.beginRead(ctx, "owner"); err != nil {
		return domain.Address{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.owner, nil
}

// SpecialWallet returns the secondary privileged address.
func (g *Gateway) SpecialWallet(ctx context.Context) (domain.Address, error) {
	if err := g.beginRead(ctx, "specialWallet"); err != nil {
		return domain.Address{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.specialWallet, nil
}

// BalanceOf returns the contract balance; other addresses hold nothing.
func (g *Gateway) BalanceOf(ctx context.Context, addr domain.Address) (domain.Amount, error) {
	if err := g.beginRead(ctx, "getBalance"); err != nil {
		return domain.Amount{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if addr != ContractAddress {
		return domain.Amount{}, nil
	}
	return domain.NewAmount(g.balance), nil
}

// TotalPlatformFees returns fees not yet withdrawn.
func (g *Gateway) TotalPlatformFees(ctx context.Context) (domain.Amount, error) {
	if err := g.beginRead(ctx, "totalPlatformFees"); err != nil {
		return domain.Amount{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return domain.NewAmount(g.fees), nil
}

// CampaignFee returns the campaign creation fee.
func (g *Gateway) CampaignFee(ctx context.Context) (domain.Amount, error) {
	if err := g.beginRead(ctx, "campaignFee"); err != nil {
		return domain.Amount{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return domain.NewAmount(g.campaignFee), nil
}

// Terminated reports whether the contract was terminated.
func (g *Gateway) Terminated(ctx context.Context) (bool, error) {
	if err := g.beginRead(ctx, "terminated"); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.terminated, nil
}

// BannedEntrepreneurs reports whether addr is banned.
func (g *Gateway) BannedEntrepreneurs(ctx context.Context, addr domain.Address) (bool, error) {
	if err := g.beginRead(ctx, "bannedEntrepreneurs"); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.banned[addr], nil
}

// IsRefundAvailable reports whether from has a pending refund.
func (g *Gateway) IsRefundAvailable(ctx context.Context, from domain.Address) (bool, error) {
	if err := g.beginRead(ctx, "isRefundAvailable"); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.refunds[from]
	return ok && r.Sign() > 0, nil
}

// GetAllCampaigns returns all campaigns in creation order.
func (g *Gateway) GetAllCampaigns(ctx context.Context, from domain.Address) ([]domain.CampaignRecord, error) {
	if err := g.beginRead(ctx, "getAllCampaigns"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	records := make([]domain.CampaignRecord, 0, len(g.campaigns))
	for _, c := range g.campaigns {
		records = append(records, c.record(from))
	}
	return records, nil
}

// GetCampaignInfoByID returns one campaign.
func (g *Gateway) GetCampaignInfoByID(ctx context.Context, from domain.Address, id domain.CampaignID) (domain.CampaignRecord, error) {
	if err := g.beginRead(ctx, "getCampaignInfoById"); err != nil {
		return domain.CampaignRecord{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	c := g.campaignLocked(id)
	if c == nil {
		return domain.CampaignRecord{}, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	return c.record(from), nil
}

// CampaignTitles reports whether title is taken.
func (g *Gateway) CampaignTitles(ctx context.Context, title string) (bool, error) {
	if err := g.beginRead(ctx, "campaignTitles"); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.titles[title], nil
}

func revert(reason string) error {
	return fmt.Errorf("%w: %s", ErrReverted, reason)
}

// mutate runs fn under the lock and emits the events it returns.
func (g *Gateway) mutate(ctx context.Context, method string, fn func() ([]domain.Event, error)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	g.calls[method]++
	events, err := fn()
	var txHash string
	if err == nil {
		g.block++
		txHash = fmt.Sprintf("0x%064x", g.block)
		for i := range events {
			events[i].BlockNumber = g.block
			events[i].LogIndex = uint64(i)
			events[i].TxHash = txHash
		}
	}
	emit := g.autoEmit
	g.mu.Unlock()

	if err != nil {
		return "", err
	}
	if emit {
		for _, ev := range events {
			g.Emit(ev)
		}
	}
	return txHash, nil
}

func (g *Gateway) isPrivilegedLocked(a domain.Address) bool {
	return a == g.owner || (!g.specialWallet.IsZero() && a == g.specialWallet)
}

// CreateCampaign registers a new campaign.
func (g *Gateway) CreateCampaign(ctx context.Context, opts ledger.TxOpts, title string, cost domain.Amount, pledges uint64) (string, error) {
	return g.mutate(ctx, "createCampaign", func() ([]domain.Event, error) {
		switch {
		case g.terminated:
			return nil, revert("contract terminated")
		case g.banned[opts.From]:
			return nil, revert("entrepreneur banned")
		case opts.From == g.owner:
			return nil, revert("owner cannot create campaigns")
		case opts.Value.Int().Cmp(g.campaignFee) != 0:
			return nil, revert("wrong campaign fee")
		case title == "" || g.titles[title]:
			return nil, revert("title taken")
		case cost.IsZero() || pledges == 0:
			return nil, revert("invalid campaign terms")
		}

		fee := opts.Value.Int()
		g.fees.Add(g.fees, fee)
		g.balance.Add(g.balance, fee)
		c := g.addCampaignLocked(opts.From, title, cost.Int(), pledges)

		return []domain.Event{{
			Kind:         domain.EventCampaignCreated,
			CampaignID:   c.id,
			Entrepreneur: c.entrepreneur,
			Title:        c.title,
		}}, nil
	})
}

// FundCampaign pledges count units to a campaign.
func (g *Gateway) FundCampaign(ctx context.Context, opts ledger.TxOpts, id domain.CampaignID, count uint64) (string, error) {
	return g.mutate(ctx, "fundCampaign", func() ([]domain.Event, error) {
		c := g.campaignLocked(id)
		switch {
		case c == nil:
			return nil, revert("unknown campaign")
		case g.terminated:
			return nil, revert("contract terminated")
		case c.fulfilled || c.canceled:
			return nil, revert("campaign closed")
		case count == 0 || count > c.pledgesLeft:
			return nil, revert("not enough pledges left")
		}

		want := new(big.Int).Mul(c.price, new(big.Int).SetUint64(count))
		if opts.Value.Int().Cmp(want) != 0 {
			return nil, revert("wrong pledge value")
		}

		c.pledgesLeft -= count
		c.pledges[opts.From] += count
		g.balance.Add(g.balance, want)

		return []domain.Event{{
			Kind:       domain.EventPledgeMade,
			CampaignID: c.id,
			Backer:     opts.From,
			Amount:     domain.NewAmount(want),
		}}, nil
	})
}

// CompleteCampaign pays out a fully pledged campaign minus the platform fee.
func (g *Gateway) CompleteCampaign(ctx context.Context, opts ledger.TxOpts, id domain.CampaignID) (string, error) {
	return g.mutate(ctx, "completeCampaign", func() ([]domain.Event, error) {
		c := g.campaignLocked(id)
		switch {
		case c == nil:
			return nil, revert("unknown campaign")
		case opts.From != c.entrepreneur && !g.isPrivilegedLocked(opts.From):
			return nil, revert("not allowed")
		case c.fulfilled || c.canceled:
			return nil, revert("campaign closed")
		case c.pledgesLeft != 0:
			return nil, revert("campaign not fully pledged")
		}

		raised := new(big.Int).Mul(c.price, new(big.Int).SetUint64(c.totalPledges()))
		fee := new(big.Int).Div(new(big.Int).Mul(raised, big.NewInt(PlatformFeePercent)), big.NewInt(100))
		g.fees.Add(g.fees, fee)
		g.balance.Sub(g.balance, new(big.Int).Sub(raised, fee))
		c.fulfilled = true

		return []domain.Event{{Kind: domain.EventCampaignCompleted, CampaignID: c.id}}, nil
	})
}

// CancelCampaign cancels a live campaign and credits refunds to its backers.
func (g *Gateway) CancelCampaign(ctx context.Context, opts ledger.TxOpts, id domain.CampaignID) (string, error) {
	return g.mutate(ctx, "cancelCampaign", func() ([]domain.Event, error) {
		c := g.campaignLocked(id)
		switch {
		case c == nil:
			return nil, revert("unknown campaign")
		case opts.From != c.entrepreneur && !g.isPrivilegedLocked(opts.From):
			return nil, revert("not allowed")
		case c.fulfilled || c.canceled:
			return nil, revert("campaign closed")
		}

		g.cancelLocked(c)
		return []domain.Event{{Kind: domain.EventCampaignCanceled, CampaignID: c.id}}, nil
	})
}

func (g *Gateway) cancelLocked(c *campaign) {
	c.canceled = true
	for backer, n := range c.pledges {
		owed := new(big.Int).Mul(c.price, new(big.Int).SetUint64(n))
		if prev, ok := g.refunds[backer]; ok {
			owed.Add(owed, prev)
		}
		g.refunds[backer] = owed
	}
}

func (c *campaign) totalPledges() uint64 {
	var total uint64
	for _, n := range c.pledges {
		total += n
	}
	return total
}

// RefundInvestor pays out the caller's pending refund.
func (g *Gateway) RefundInvestor(ctx context.Context, opts ledger.TxOpts) (string, error) {
	return g.mutate(ctx, "refundInvestor", func() ([]domain.Event, error) {
		owed, ok := g.refunds[opts.From]
		if !ok || owed.Sign() == 0 {
			return nil, revert("nothing to refund")
		}

		delete(g.refunds, opts.From)
		g.balance.Sub(g.balance, owed)

		return []domain.Event{{
			Kind:     domain.EventInvestorRefunded,
			Investor: opts.From,
			Amount:   domain.NewAmount(owed),
		}}, nil
	})
}

// WithdrawPlatformFees pays collected fees to the caller.
func (g *Gateway) WithdrawPlatformFees(ctx context.Context, opts ledger.TxOpts) (string, error) {
	return g.mutate(ctx, "withdrawPlatformFees", func() ([]domain.Event, error) {
		switch {
		case !g.isPrivilegedLocked(opts.From):
			return nil, revert("not allowed")
		case g.fees.Sign() == 0:
			return nil, revert("no fees")
		}

		amount := new(big.Int).Set(g.fees)
		g.balance.Sub(g.balance, amount)
		g.fees.SetUint64(0)

		return []domain.Event{{
			Kind:   domain.EventPlatformFeesWithdrawn,
			Amount: domain.NewAmount(amount),
		}}, nil
	})
}

// ChangeOwnership transfers ownership.
func (g *Gateway) ChangeOwnership(ctx context.Context, opts ledger.TxOpts, newOwner domain.Address) (string, error) {
	return g.mutate(ctx, "changeOwnership", func() ([]domain.Event, error) {
		switch {
		case !g.isPrivilegedLocked(opts.From):
			return nil, revert("not allowed")
		case g.terminated:
			return nil, revert("contract terminated")
		case newOwner.IsZero():
			return nil, revert("zero address")
		}

		g.owner = newOwner
		return []domain.Event{{Kind: domain.EventOwnershipChanged, NewOwner: newOwner}}, nil
	})
}

// BanEntrepreneur bans an address from creating campaigns.
func (g *Gateway) BanEntrepreneur(ctx context.Context, opts ledger.TxOpts, entrepreneur domain.Address) (string, error) {
	return g.mutate(ctx, "banEntrepreneur", func() ([]domain.Event, error) {
		switch {
		case !g.isPrivilegedLocked(opts.From):
			return nil, revert("not allowed")
		case g.terminated:
			return nil, revert("contract terminated")
		}

		g.banned[entrepreneur] = true
		return []domain.Event{{Kind: domain.EventEntrepreneurBanned, Entrepreneur: entrepreneur}}, nil
	})
}

// TerminateContract winds the contract down, canceling every live campaign.
func (g *Gateway) TerminateContract(ctx context.Context, opts ledger.TxOpts) (string, error) {
	return g.mutate(ctx, "terminateContract", func() ([]domain.Event, error) {
		switch {
		case !g.isPrivilegedLocked(opts.From):
			return nil, revert("not allowed")
		case g.terminated:
			return nil, revert("contract terminated")
		}

		g.terminated = true
		for _, c := range g.campaigns {
			if !c.fulfilled && !c.canceled {
				g.cancelLocked(c)
			}
		}
		return []domain.Event{{Kind: domain.EventContractTerminated}}, nil
	})
}

// subscription is a stub notification stream.
type subscription struct {
	gw   *Gateway
	kind domain.EventKind
	ch   chan domain.Event
	done chan struct{}
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

func (s *subscription) Events() <-chan domain.Event {
	return s.ch
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.gw.subsMu.Lock()
		delete(s.gw.subs, s)
		s.gw.subsMu.Unlock()

		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
	return nil
}

// Subscribe registers a notification stream for kind.
func (g *Gateway) Subscribe(ctx context.Context, kind domain.EventKind) (ledger.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !kind.IsValid() {
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}

	sub := &subscription{
		gw:   g,
		kind: kind,
		ch:   make(chan domain.Event, 256),
		done: make(chan struct{}),
	}
	g.subsMu.Lock()
	g.subs[sub] = struct{}{}
	g.subsMu.Unlock()
	return sub, nil
}

// ActiveSubscriptions returns the number of live subscriptions.
func (g *Gateway) ActiveSubscriptions() int {
	g.subsMu.Lock()
	defer g.subsMu.Unlock()
	return len(g.subs)
}

// Emit delivers ev to every subscriber of its kind. Tests call it directly
// to replay, duplicate or reorder notifications.
func (g *Gateway) Emit(ev domain.Event) {
	g.subsMu.Lock()
	targets := make([]*subscription, 0, len(g.subs))
	for sub := range g.subs {
		if sub.kind == ev.Kind {
			targets = append(targets, sub)
		}
	}
	g.subsMu.Unlock()

	for _, sub := range targets {
		sub.mu.RLock()
		if !sub.closed {
			select {
			case sub.ch <- ev:
			case <-sub.done:
			}
		}
		sub.mu.RUnlock()
	}
}

var _ ledger.Gateway = (*Gateway)(nil)
