package domain

// SessionSnapshot is the local mirror of the contract state as seen by one
// session. The three record slices partition the full remote record set.
type SessionSnapshot struct {
	Owner           Address
	SpecialWallet   Address
	ContractBalance Amount
	CollectedFees   Amount
	CampaignFee     Amount
	Terminated      bool

	ActingIdentity     Address
	IsBanned           bool
	HasFundsToWithdraw bool

	LiveRecords      []CampaignRecord
	FulfilledRecords []CampaignRecord
	CanceledRecords  []CampaignRecord
}

// Clone returns a deep copy of the snapshot.
func (s *SessionSnapshot) Clone() *SessionSnapshot {
	c := *s
	c.LiveRecords = cloneRecords(s.LiveRecords)
	c.FulfilledRecords = cloneRecords(s.FulfilledRecords)
	c.CanceledRecords = cloneRecords(s.CanceledRecords)
	return &c
}

// HasIdentity reports whether an acting identity is known.
func (s *SessionSnapshot) HasIdentity() bool {
	return !s.ActingIdentity.IsZero()
}

// IsPrivileged reports whether a is the owner or the special wallet.
func (s *SessionSnapshot) IsPrivileged(a Address) bool {
	if a.IsZero() {
		return false
	}
	return a == s.Owner || a == s.SpecialWallet
}

// Records returns all records: live first, then fulfilled, then canceled.
func (s *SessionSnapshot) Records() []CampaignRecord {
	all := make([]CampaignRecord, 0, len(s.LiveRecords)+len(s.FulfilledRecords)+len(s.CanceledRecords))
	all = append(all, s.LiveRecords...)
	all = append(all, s.FulfilledRecords...)
	all = append(all, s.CanceledRecords...)
	return all
}

// FindRecord looks a record up by id across all categories.
func (s *SessionSnapshot) FindRecord(id CampaignID) (CampaignRecord, bool) {
	for _, r := range s.Records() {
		if r.CampaignID == id {
			return r, true
		}
	}
	return CampaignRecord{}, false
}

// HasTitle reports whether any record already uses title.
func (s *SessionSnapshot) HasTitle(title string) bool {
	for _, r := range s.Records() {
		if r.Title == title {
			return true
		}
	}
	return false
}

func cloneRecords(in []CampaignRecord) []CampaignRecord {
	if in == nil {
		return nil
	}
	out := make([]CampaignRecord, len(in))
	copy(out, in)
	return out
}
