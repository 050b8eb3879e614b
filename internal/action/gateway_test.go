package action

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockfund/internal/domain"
	"blockfund/internal/identity"
	"blockfund/internal/journal"
	"blockfund/internal/ledger"
	"blockfund/internal/ledger/stub"
	"blockfund/internal/snapshot"
	"blockfund/internal/storage/memory"
)

var (
	owner   = domain.MustParseAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	special = domain.MustParseAddress("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
	alice   = domain.MustParseAddress("0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB")
	bob     = domain.MustParseAddress("0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb")

	fee   = domain.AmountFromUint64(100)
	price = domain.AmountFromUint64(1000)
)

type testEnv struct {
	gw      *stub.Gateway
	store   *snapshot.Store
	journal *journal.Journal
	entries *memory.JournalStore
	actions *Gateway
}

func newTestEnv(t *testing.T, acting domain.Address) *testEnv {
	t.Helper()

	gw := stub.NewGateway(owner, special, fee)
	gw.SetAutoEmit(false)
	store := snapshot.NewStore(nil)
	store.SetIdentity(acting)

	entries := memory.NewJournalStore()
	j := journal.New(entries, nil)

	env := &testEnv{
		gw:      gw,
		store:   store,
		journal: j,
		entries: entries,
		actions: NewGateway(gw, store.View(), WithJournal(j)),
	}
	env.sync(t)
	return env
}

// sync mirrors the stub state into the store.
func (e *testEnv) sync(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	me := e.store.Snapshot().ActingIdentity

	ownerAddr, err := e.gw.Owner(ctx)
	require.NoError(t, err)
	wallet, err := e.gw.SpecialWallet(ctx)
	require.NoError(t, err)
	campaignFee, err := e.gw.CampaignFee(ctx)
	require.NoError(t, err)
	fees, err := e.gw.TotalPlatformFees(ctx)
	require.NoError(t, err)
	terminated, err := e.gw.Terminated(ctx)
	require.NoError(t, err)
	banned, err := e.gw.BannedEntrepreneurs(ctx, me)
	require.NoError(t, err)
	refund, err := e.gw.IsRefundAvailable(ctx, me)
	require.NoError(t, err)
	records, err := e.gw.GetAllCampaigns(ctx, me)
	require.NoError(t, err)

	e.store.Commit(e.store.Begin(),
		snapshot.Owner(ownerAddr),
		snapshot.SpecialWallet(wallet),
		snapshot.CampaignFee(campaignFee),
		snapshot.CollectedFees(fees),
		snapshot.Terminated(terminated),
		snapshot.IsBanned(banned),
		snapshot.HasFundsToWithdraw(refund),
		snapshot.Records(records),
	)
}

func (e *testEnv) lastOutcome(t *testing.T) (string, string) {
	t.Helper()
	got, err := e.entries.GetBySession(context.Background(), e.journal.SessionID())
	require.NoError(t, err)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	return last.Name, last.Outcome
}

func TestCreateCampaign_Submits(t *testing.T) {
	env := newTestEnv(t, alice)
	ctx := context.Background()

	tx, err := env.actions.CreateCampaign(ctx, "Acme", "1.5", "10")
	require.NoError(t, err)
	assert.NotEmpty(t, tx)

	rec, err := env.gw.GetCampaignInfoByID(ctx, alice, 1)
	require.NoError(t, err)
	assert.Equal(t, "Acme", rec.Title)
	assert.Equal(t, "1500000000000000000", rec.Price.String())
	assert.Equal(t, uint64(10), rec.PledgesLeft)

	fees, err := env.gw.TotalPlatformFees(ctx)
	require.NoError(t, err)
	assert.Equal(t, fee.String(), fees.String(), "campaign fee attached as value")

	name, outcome := env.lastOutcome(t)
	assert.Equal(t, NameCreateCampaign, name)
	assert.Equal(t, journal.OutcomeSubmitted, outcome)
}

func TestCreateCampaign_SubmitsTitleAsGiven(t *testing.T) {
	env := newTestEnv(t, alice)
	ctx := context.Background()

	_, err := env.actions.CreateCampaign(ctx, "  Acme ", "1", "3")
	require.NoError(t, err)

	rec, err := env.gw.GetCampaignInfoByID(ctx, alice, 1)
	require.NoError(t, err)
	assert.Equal(t, "  Acme ", rec.Title)

	taken, err := env.gw.CampaignTitles(ctx, "Acme")
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestCreateCampaign_RejectsLocally(t *testing.T) {
	env := newTestEnv(t, alice)
	env.gw.AddCampaign(bob, "Acme", price, 3)
	env.sync(t)

	tests := []struct {
		name    string
		title   string
		cost    string
		pledges string
	}{
		{"duplicate title", "Acme", "1", "10"},
		{"zero cost", "Bolt", "0", "10"},
		{"negative cost", "Bolt", "-1", "10"},
		{"non-numeric cost", "Bolt", "abc", "10"},
		{"sub-wei cost", "Bolt", "0.0000000000000000001", "10"},
		{"fractional pledges", "Bolt", "1", "2.5"},
		{"zero pledges", "Bolt", "1", "0"},
		{"negative pledges", "Bolt", "1", "-3"},
		{"empty title", "", "1", "10"},
		{"blank title", "   ", "1", "10"},
		{"empty cost", "Bolt", "", "10"},
		{"empty pledges", "Bolt", "1", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.actions.CreateCampaign(context.Background(), tt.title, tt.cost, tt.pledges)
			assert.ErrorIs(t, err, ErrPrecondition)
		})
	}

	assert.Equal(t, 0, env.gw.Calls("createCampaign"))
	assert.Equal(t, 0, env.gw.Calls("campaignTitles"), "local checks run before any remote read")

	name, outcome := env.lastOutcome(t)
	assert.Equal(t, NameCreateCampaign, name)
	assert.Equal(t, journal.OutcomePrecondition, outcome)
}

func TestCreateCampaign_TitleTakenRemotely(t *testing.T) {
	env := newTestEnv(t, alice)
	// Not yet mirrored locally
	env.gw.AddCampaign(bob, "Acme", price, 3)

	_, err := env.actions.CreateCampaign(context.Background(), "Acme", "1", "10")
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, 1, env.gw.Calls("campaignTitles"))
	assert.Equal(t, 0, env.gw.Calls("createCampaign"))
}

func TestCreateCampaign_IdentityGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("no identity", func(t *testing.T) {
		env := newTestEnv(t, domain.Address{})
		_, err := env.actions.CreateCampaign(ctx, "Acme", "1", "10")
		assert.ErrorIs(t, err, ErrPrecondition)
		assert.ErrorIs(t, err, identity.ErrIdentityUnavailable)
	})

	t.Run("banned", func(t *testing.T) {
		env := newTestEnv(t, alice)
		_, err := env.gw.BanEntrepreneur(ctx, ledger.TxOpts{From: owner}, alice)
		require.NoError(t, err)
		env.sync(t)

		_, err = env.actions.CreateCampaign(ctx, "Acme", "1", "10")
		assert.ErrorIs(t, err, ErrPrecondition)
	})

	t.Run("owner", func(t *testing.T) {
		env := newTestEnv(t, owner)
		_, err := env.actions.CreateCampaign(ctx, "Acme", "1", "10")
		assert.ErrorIs(t, err, ErrPrecondition)
	})

	t.Run("terminated", func(t *testing.T) {
		env := newTestEnv(t, alice)
		env.store.MarkTerminated()
		_, err := env.actions.CreateCampaign(ctx, "Acme", "1", "10")
		assert.ErrorIs(t, err, ErrPrecondition)
	})
}

func TestPledge_TerminalRecordNeverSubmitted(t *testing.T) {
	env := newTestEnv(t, bob)
	id := env.gw.AddCampaign(alice, "Acme", price, 3)
	env.sync(t)

	// The snapshot still shows the record live; the point read does not
	env.gw.SetCampaignState(id, true, false)

	_, err := env.actions.Pledge(context.Background(), id)
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, 0, env.gw.Calls("fundCampaign"))
	assert.Equal(t, 1, env.gw.Calls("getCampaignInfoById"))

	env.gw.SetCampaignState(id, false, true)
	_, err = env.actions.Pledge(context.Background(), id)
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, 0, env.gw.Calls("fundCampaign"))
}

func TestPledge_Submits(t *testing.T) {
	env := newTestEnv(t, bob)
	ctx := context.Background()
	id := env.gw.AddCampaign(alice, "Acme", price, 3)

	_, err := env.actions.Pledge(ctx, id)
	require.NoError(t, err)

	rec, err := env.gw.GetCampaignInfoByID(ctx, bob, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.CallerPledges)
	assert.Equal(t, uint64(2), rec.PledgesLeft)
}

func TestPledge_MissingCampaign(t *testing.T) {
	env := newTestEnv(t, bob)

	_, err := env.actions.Pledge(context.Background(), 0)
	assert.ErrorIs(t, err, ErrPrecondition)

	_, err = env.actions.Pledge(context.Background(), 99)
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, 0, env.gw.Calls("fundCampaign"))
}

func TestFulfill_SubmissionFailure(t *testing.T) {
	env := newTestEnv(t, alice)
	id := env.gw.AddCampaign(alice, "Acme", price, 3)

	// Not fully pledged: passes local checks, reverts remotely
	_, err := env.actions.Fulfill(context.Background(), id)
	assert.ErrorIs(t, err, ErrSubmission)
	assert.ErrorIs(t, err, stub.ErrReverted)
	assert.Equal(t, 1, env.gw.Calls("completeCampaign"))

	name, outcome := env.lastOutcome(t)
	assert.Equal(t, NameFulfill, name)
	assert.Equal(t, journal.OutcomeFailed, outcome)
}

func TestFulfill_Submits(t *testing.T) {
	env := newTestEnv(t, alice)
	ctx := context.Background()
	id := env.gw.AddCampaign(alice, "Acme", price, 1)
	_, err := env.gw.FundCampaign(ctx, ledger.TxOpts{From: bob, Value: price}, id, 1)
	require.NoError(t, err)

	_, err = env.actions.Fulfill(ctx, id)
	require.NoError(t, err)

	rec, err := env.gw.GetCampaignInfoByID(ctx, alice, id)
	require.NoError(t, err)
	assert.True(t, rec.Fulfilled)

	// Fulfilled now: no second submission
	_, err = env.actions.Fulfill(ctx, id)
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, 1, env.gw.Calls("completeCampaign"))
}

func TestCancelAndRefund(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, bob)
	id := env.gw.AddCampaign(alice, "Acme", price, 3)
	_, err := env.gw.FundCampaign(ctx, ledger.TxOpts{From: bob, Value: price}, id, 1)
	require.NoError(t, err)
	env.sync(t)

	_, err = env.actions.Refund(ctx)
	assert.ErrorIs(t, err, ErrPrecondition, "nothing to refund yet")
	assert.Equal(t, 0, env.gw.Calls("refundInvestor"))

	// Bob is not allowed to cancel; the contract says no
	_, err = env.actions.Cancel(ctx, id)
	assert.ErrorIs(t, err, ErrSubmission)

	_, err = env.gw.CancelCampaign(ctx, ledger.TxOpts{From: alice}, id)
	require.NoError(t, err)
	env.sync(t)

	_, err = env.actions.Cancel(ctx, id)
	assert.ErrorIs(t, err, ErrPrecondition)

	_, err = env.actions.Refund(ctx)
	require.NoError(t, err)

	available, err := env.gw.IsRefundAvailable(ctx, bob)
	require.NoError(t, err)
	assert.False(t, available)
}

func TestWithdrawFees(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t, alice)
	_, err := env.actions.CreateCampaign(ctx, "Acme", "1", "1")
	require.NoError(t, err)
	env.sync(t)

	_, err = env.actions.WithdrawFees(ctx)
	assert.ErrorIs(t, err, ErrPrecondition, "not privileged")

	admin := NewGateway(env.gw, adminView(t, env, special))
	_, err = admin.WithdrawFees(ctx)
	require.NoError(t, err)

	fees, err := env.gw.TotalPlatformFees(ctx)
	require.NoError(t, err)
	assert.True(t, fees.IsZero())

	empty := NewGateway(env.gw, adminView(t, env, special))
	_, err = empty.WithdrawFees(ctx)
	assert.ErrorIs(t, err, ErrPrecondition, "no fees collected")
	assert.Equal(t, 1, env.gw.Calls("withdrawPlatformFees"))
}

// adminView mirrors env's stub as seen by who.
func adminView(t *testing.T, env *testEnv, who domain.Address) snapshot.View {
	t.Helper()
	other := &testEnv{gw: env.gw, store: snapshot.NewStore(nil)}
	other.store.SetIdentity(who)
	other.sync(t)
	return other.store.View()
}

func TestAdminActions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, owner)

	for _, addr := range []string{"", "0x123", "not an address"} {
		_, err := env.actions.ChangeOwner(ctx, addr)
		assert.ErrorIs(t, err, ErrPrecondition, "address %q", addr)
		_, err = env.actions.BanEntrepreneur(ctx, addr)
		assert.ErrorIs(t, err, ErrPrecondition, "address %q", addr)
	}
	assert.Equal(t, 0, env.gw.Calls("changeOwnership"))
	assert.Equal(t, 0, env.gw.Calls("banEntrepreneur"))

	_, err := env.actions.BanEntrepreneur(ctx, alice.Hex())
	require.NoError(t, err)
	banned, err := env.gw.BannedEntrepreneurs(ctx, alice)
	require.NoError(t, err)
	assert.True(t, banned)

	_, err = env.actions.TerminateContract(ctx)
	require.NoError(t, err)
	env.sync(t)

	_, err = env.actions.TerminateContract(ctx)
	assert.ErrorIs(t, err, ErrPrecondition)
	_, err = env.actions.ChangeOwner(ctx, bob.Hex())
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, 1, env.gw.Calls("terminateContract"))
}

func TestAdminActions_RequirePrivilege(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, alice)

	_, err := env.actions.ChangeOwner(ctx, bob.Hex())
	assert.ErrorIs(t, err, ErrPrecondition)
	_, err = env.actions.BanEntrepreneur(ctx, bob.Hex())
	assert.ErrorIs(t, err, ErrPrecondition)
	_, err = env.actions.TerminateContract(ctx)
	assert.ErrorIs(t, err, ErrPrecondition)

	assert.Equal(t, 0, env.gw.Calls("changeOwnership"))
	assert.Equal(t, 0, env.gw.Calls("banEntrepreneur"))
	assert.Equal(t, 0, env.gw.Calls("terminateContract"))
}

func TestChangeOwner_Submits(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, special)

	_, err := env.actions.ChangeOwner(ctx, bob.Hex())
	require.NoError(t, err)

	got, err := env.gw.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, bob, got)
}
