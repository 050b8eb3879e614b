// Package classify partitions campaign records into display categories.
package classify

import "blockfund/internal/domain"

// Classify splits records into live, fulfilled and canceled, preserving the
// input order within each category. A record that is somehow both canceled
// and fulfilled is reported as canceled. Every input record lands in exactly
// one output slice.
func Classify(records []domain.CampaignRecord) (live, fulfilled, canceled []domain.CampaignRecord) {
	live = make([]domain.CampaignRecord, 0, len(records))
	fulfilled = make([]domain.CampaignRecord, 0)
	canceled = make([]domain.CampaignRecord, 0)

	for _, r := range records {
		switch {
		case r.Canceled:
			canceled = append(canceled, r)
		case r.Fulfilled:
			fulfilled = append(fulfilled, r)
		default:
			live = append(live, r)
		}
	}
	return live, fulfilled, canceled
}
