package domain

import "strconv"

// CampaignID identifies a campaign. Zero means "no campaign".
type CampaignID uint64

// ParseCampaignID parses a decimal campaign id.
func ParseCampaignID(s string) (CampaignID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return CampaignID(v), nil
}

// String returns the decimal form of the id.
func (id CampaignID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// CampaignRecord is one crowdfunding campaign as mirrored from the contract.
// Records are replaced wholesale on every fetch and never patched in place.
type CampaignRecord struct {
	CampaignID    CampaignID
	Entrepreneur  Address
	Title         string // unique across all campaigns
	Price         Amount // per pledge, in wei
	Backers       uint64
	PledgesLeft   uint64
	CallerPledges uint64 // pledges made by the acting identity
	Fulfilled     bool
	Canceled      bool
}

// Terminal reports whether the campaign was fulfilled or canceled.
// Terminal records never change again.
func (r CampaignRecord) Terminal() bool {
	return r.Fulfilled || r.Canceled
}
