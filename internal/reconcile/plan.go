package reconcile

import (
	"blockfund/internal/domain"
	"blockfund/internal/snapshot"
)

// plan lists what a notification invalidates.
type plan struct {
	markTerminated bool
	fields         []snapshot.Field
}

// planFor maps a notification to the snapshot fields that must be fetched
// again. Folds always re-read current truth, so applying a plan once or many
// times, in any order, converges to the same snapshot.
func planFor(ev domain.Event, acting domain.Address) plan {
	switch ev.Kind {
	case domain.EventCampaignCreated:
		return plan{fields: []snapshot.Field{
			snapshot.FieldRecords,
			snapshot.FieldContractBalance,
		}}
	case domain.EventPledgeMade:
		return plan{fields: []snapshot.Field{
			snapshot.FieldContractBalance,
			snapshot.FieldRecords,
		}}
	case domain.EventCampaignCompleted:
		return plan{fields: []snapshot.Field{
			snapshot.FieldContractBalance,
			snapshot.FieldCollectedFees,
			snapshot.FieldRecords,
		}}
	case domain.EventCampaignCanceled:
		return plan{fields: []snapshot.Field{
			snapshot.FieldContractBalance,
			snapshot.FieldHasFundsToWithdraw,
			snapshot.FieldCollectedFees,
			snapshot.FieldRecords,
		}}
	case domain.EventEntrepreneurBanned:
		if acting.IsZero() || ev.Entrepreneur != acting {
			return plan{}
		}
		return plan{fields: []snapshot.Field{snapshot.FieldIsBanned}}
	case domain.EventOwnershipChanged:
		return plan{fields: []snapshot.Field{snapshot.FieldOwner}}
	case domain.EventContractTerminated:
		return plan{markTerminated: true, fields: []snapshot.Field{
			snapshot.FieldRecords,
			snapshot.FieldHasFundsToWithdraw,
			snapshot.FieldContractBalance,
			snapshot.FieldCollectedFees,
		}}
	case domain.EventPlatformFeesWithdrawn:
		return plan{fields: []snapshot.Field{
			snapshot.FieldContractBalance,
			snapshot.FieldCollectedFees,
		}}
	case domain.EventInvestorRefunded:
		return plan{fields: []snapshot.Field{
			snapshot.FieldHasFundsToWithdraw,
			snapshot.FieldContractBalance,
			snapshot.FieldRecords,
		}}
	}
	return plan{}
}

// contractFields are loaded together during bootstrap, in this order.
var contractFields = []snapshot.Field{
	snapshot.FieldOwner,
	snapshot.FieldContractBalance,
	snapshot.FieldCollectedFees,
	snapshot.FieldCampaignFee,
	snapshot.FieldTerminated,
	snapshot.FieldSpecialWallet,
}

// identityFields depend on the acting identity.
var identityFields = []snapshot.Field{
	snapshot.FieldIsBanned,
	snapshot.FieldHasFundsToWithdraw,
	snapshot.FieldRecords,
}
