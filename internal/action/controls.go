package action

import "blockfund/internal/domain"

// SessionControls reports which session-wide controls are enabled.
type SessionControls struct {
	CreateCampaign    bool
	Refund            bool
	WithdrawFees      bool
	ChangeOwner       bool
	BanEntrepreneur   bool
	TerminateContract bool
}

// CampaignControls reports which controls of one record are enabled.
type CampaignControls struct {
	Pledge  bool
	Cancel  bool
	Fulfill bool
}

// Controls derives the session-wide controls from snap. A control is never
// enabled when its action would fail its pre-conditions.
func Controls(snap *domain.SessionSnapshot) SessionControls {
	if !snap.HasIdentity() {
		return SessionControls{}
	}

	me := snap.ActingIdentity
	admin := snap.IsPrivileged(me) && !snap.Terminated
	return SessionControls{
		CreateCampaign:    me != snap.Owner && !snap.IsBanned && !snap.Terminated,
		Refund:            snap.HasFundsToWithdraw,
		WithdrawFees:      snap.IsPrivileged(me) && snap.CollectedFees.Sign() > 0,
		ChangeOwner:       admin,
		BanEntrepreneur:   admin,
		TerminateContract: admin,
	}
}

// RecordControls derives the controls of rec. Terminal records have none.
func RecordControls(snap *domain.SessionSnapshot, rec domain.CampaignRecord) CampaignControls {
	if !snap.HasIdentity() || rec.Terminal() {
		return CampaignControls{}
	}

	me := snap.ActingIdentity
	canCancel := !snap.Terminated && (me == rec.Entrepreneur || snap.IsPrivileged(me))
	return CampaignControls{
		Pledge:  !snap.Terminated && rec.PledgesLeft > 0,
		Cancel:  canCancel,
		Fulfill: canCancel && rec.PledgesLeft == 0,
	}
}
