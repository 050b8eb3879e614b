package stub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockfund/internal/domain"
	"blockfund/internal/ledger"
)

var (
	owner    = domain.MustParseAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	special  = domain.MustParseAddress("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
	alice    = domain.MustParseAddress("0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB")
	bob      = domain.MustParseAddress("0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb")
	fee      = domain.AmountFromUint64(100)
	unitCost = domain.AmountFromUint64(1000)
)

func newGateway() *Gateway {
	return NewGateway(owner, special, fee)
}

func TestGateway_CreateAndFund(t *testing.T) {
	ctx := context.Background()
	g := newGateway()

	_, err := g.CreateCampaign(ctx, ledger.TxOpts{From: alice, Value: fee}, "Acme", unitCost, 2)
	require.NoError(t, err)

	taken, err := g.CampaignTitles(ctx, "Acme")
	require.NoError(t, err)
	assert.True(t, taken)

	_, err = g.FundCampaign(ctx, ledger.TxOpts{From: bob, Value: unitCost}, 1, 1)
	require.NoError(t, err)

	rec, err := g.GetCampaignInfoByID(ctx, bob, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Backers)
	assert.Equal(t, uint64(1), rec.PledgesLeft)
	assert.Equal(t, uint64(1), rec.CallerPledges)

	// callerPledges is relative to the reader
	rec, err = g.GetCampaignInfoByID(ctx, alice, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rec.CallerPledges)

	balance, err := g.BalanceOf(ctx, ContractAddress)
	require.NoError(t, err)
	assert.Equal(t, "1100", balance.String())

	fees, err := g.TotalPlatformFees(ctx)
	require.NoError(t, err)
	assert.Equal(t, "100", fees.String())
}

func TestGateway_CreateRules(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(g *Gateway)
		opts  ledger.TxOpts
		title string
	}{
		{"owner", nil, ledger.TxOpts{From: owner, Value: fee}, "A"},
		{"wrong fee", nil, ledger.TxOpts{From: alice, Value: domain.AmountFromUint64(1)}, "A"},
		{"duplicate title", func(g *Gateway) { g.AddCampaign(bob, "A", unitCost, 1) }, ledger.TxOpts{From: alice, Value: fee}, "A"},
		{"banned", func(g *Gateway) {
			_, err := g.BanEntrepreneur(ctx, ledger.TxOpts{From: owner}, alice)
			require.NoError(t, err)
		}, ledger.TxOpts{From: alice, Value: fee}, "A"},
		{"terminated", func(g *Gateway) {
			_, err := g.TerminateContract(ctx, ledger.TxOpts{From: special})
			require.NoError(t, err)
		}, ledger.TxOpts{From: alice, Value: fee}, "A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGateway()
			if tt.setup != nil {
				tt.setup(g)
			}
			_, err := g.CreateCampaign(ctx, tt.opts, tt.title, unitCost, 1)
			assert.ErrorIs(t, err, ErrReverted)
		})
	}
}

func TestGateway_CompleteTakesPlatformFee(t *testing.T) {
	ctx := context.Background()
	g := newGateway()
	id := g.AddCampaign(alice, "Acme", unitCost, 2)

	_, err := g.CompleteCampaign(ctx, ledger.TxOpts{From: alice}, id)
	require.ErrorIs(t, err, ErrReverted, "not fully pledged")

	_, err = g.FundCampaign(ctx, ledger.TxOpts{From: bob, Value: domain.AmountFromUint64(2000)}, id, 2)
	require.NoError(t, err)

	_, err = g.CompleteCampaign(ctx, ledger.TxOpts{From: bob}, id)
	require.ErrorIs(t, err, ErrReverted, "only entrepreneur or privileged")

	_, err = g.CompleteCampaign(ctx, ledger.TxOpts{From: alice}, id)
	require.NoError(t, err)

	fees, err := g.TotalPlatformFees(ctx)
	require.NoError(t, err)
	assert.Equal(t, "400", fees.String())

	balance, err := g.BalanceOf(ctx, ContractAddress)
	require.NoError(t, err)
	assert.Equal(t, "400", balance.String())

	_, err = g.FundCampaign(ctx, ledger.TxOpts{From: bob, Value: unitCost}, id, 1)
	assert.ErrorIs(t, err, ErrReverted)
}

func TestGateway_CancelAndRefund(t *testing.T) {
	ctx := context.Background()
	g := newGateway()
	id := g.AddCampaign(alice, "Acme", unitCost, 5)

	_, err := g.FundCampaign(ctx, ledger.TxOpts{From: bob, Value: domain.AmountFromUint64(3000)}, id, 3)
	require.NoError(t, err)

	_, err = g.CancelCampaign(ctx, ledger.TxOpts{From: owner}, id)
	require.NoError(t, err)

	available, err := g.IsRefundAvailable(ctx, bob)
	require.NoError(t, err)
	assert.True(t, available)

	_, err = g.RefundInvestor(ctx, ledger.TxOpts{From: bob})
	require.NoError(t, err)

	available, err = g.IsRefundAvailable(ctx, bob)
	require.NoError(t, err)
	assert.False(t, available)

	_, err = g.RefundInvestor(ctx, ledger.TxOpts{From: bob})
	assert.ErrorIs(t, err, ErrReverted)
}

func TestGateway_TerminateCancelsLiveCampaigns(t *testing.T) {
	ctx := context.Background()
	g := newGateway()
	live := g.AddCampaign(alice, "Live", unitCost, 5)
	done := g.AddCampaign(alice, "Done", unitCost, 1)
	g.SetCampaignState(done, true, false)

	_, err := g.TerminateContract(ctx, ledger.TxOpts{From: alice})
	require.ErrorIs(t, err, ErrReverted)

	_, err = g.TerminateContract(ctx, ledger.TxOpts{From: owner})
	require.NoError(t, err)

	records, err := g.GetAllCampaigns(ctx, alice)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, live, records[0].CampaignID)
	assert.True(t, records[0].Canceled)
	assert.True(t, records[1].Fulfilled)
	assert.False(t, records[1].Canceled)

	terminated, err := g.Terminated(ctx)
	require.NoError(t, err)
	assert.True(t, terminated)
}

func TestGateway_Notifications(t *testing.T) {
	ctx := context.Background()
	g := newGateway()

	sub, err := g.Subscribe(ctx, domain.EventCampaignCreated)
	require.NoError(t, err)
	other, err := g.Subscribe(ctx, domain.EventPledgeMade)
	require.NoError(t, err)
	assert.Equal(t, 2, g.ActiveSubscriptions())

	txHash, err := g.CreateCampaign(ctx, ledger.TxOpts{From: alice, Value: fee}, "Acme", unitCost, 1)
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, domain.EventCampaignCreated, ev.Kind)
		assert.Equal(t, domain.CampaignID(1), ev.CampaignID)
		assert.Equal(t, alice, ev.Entrepreneur)
		assert.Equal(t, txHash, ev.TxHash)
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}

	select {
	case ev := <-other.Events():
		t.Fatalf("unexpected %s on PledgeMade subscription", ev.Kind)
	default:
	}

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 1, g.ActiveSubscriptions())

	_, ok := <-sub.Events()
	assert.False(t, ok)

	// Emitting after unsubscribe must not panic
	g.Emit(domain.Event{Kind: domain.EventCampaignCreated, CampaignID: 1})
	require.NoError(t, other.Unsubscribe())
}

func TestGateway_AutoEmitOff(t *testing.T) {
	ctx := context.Background()
	g := newGateway()
	g.SetAutoEmit(false)

	sub, err := g.Subscribe(ctx, domain.EventCampaignCreated)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_, err = g.CreateCampaign(ctx, ledger.TxOpts{From: alice, Value: fee}, "Acme", unitCost, 1)
	require.NoError(t, err)

	select {
	case <-sub.Events():
		t.Fatal("notification emitted with AutoEmit off")
	default:
	}
}

func TestGateway_BeforeReadHook(t *testing.T) {
	ctx := context.Background()
	g := newGateway()
	g.SetBeforeRead(func(_ context.Context, method string) error {
		if method == "owner" {
			return assert.AnError
		}
		return nil
	})

	_, err := g.Owner(ctx)
	assert.ErrorIs(t, err, assert.AnError)

	_, err = g.CampaignFee(ctx)
	assert.NoError(t, err)

	assert.Equal(t, 1, g.Calls("owner"))
	assert.Equal(t, 1, g.Calls("campaignFee"))
}
