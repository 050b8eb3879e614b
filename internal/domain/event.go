package domain

// EventKind names a contract notification category.
type EventKind string

const (
	EventCampaignCreated       EventKind = "CampaignCreated"
	EventPledgeMade            EventKind = "PledgeMade"
	EventCampaignCompleted     EventKind = "CampaignCompleted"
	EventCampaignCanceled      EventKind = "CampaignCanceled"
	EventEntrepreneurBanned    EventKind = "EntrepreneurBanned"
	EventOwnershipChanged      EventKind = "OwnershipChanged"
	EventContractTerminated    EventKind = "ContractTerminated"
	EventPlatformFeesWithdrawn EventKind = "PlatformFeesWithdrawn"
	EventInvestorRefunded      EventKind = "InvestorRefunded"
)

// AllEventKinds lists every notification category the contract emits.
func AllEventKinds() []EventKind {
	return []EventKind{
		EventCampaignCreated,
		EventPledgeMade,
		EventCampaignCompleted,
		EventCampaignCanceled,
		EventEntrepreneurBanned,
		EventOwnershipChanged,
		EventContractTerminated,
		EventPlatformFeesWithdrawn,
		EventInvestorRefunded,
	}
}

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a known notification category.
func (k EventKind) IsValid() bool {
	for _, known := range AllEventKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Event is one contract notification. Only the payload fields that belong
// to Kind are set. Delivery is at-least-once and unordered.
type Event struct {
	Kind        EventKind
	BlockNumber uint64
	LogIndex    uint64
	TxHash      string

	CampaignID   CampaignID // CampaignCreated, PledgeMade, CampaignCompleted, CampaignCanceled
	Entrepreneur Address    // CampaignCreated, EntrepreneurBanned
	Title        string     // CampaignCreated
	Backer       Address    // PledgeMade
	Investor     Address    // InvestorRefunded
	NewOwner     Address    // OwnershipChanged
	Amount       Amount     // PledgeMade, PlatformFeesWithdrawn, InvestorRefunded
}
