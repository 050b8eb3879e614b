package ledger

import (
	"encoding/json"
	"fmt"

	"blockfund/internal/domain"
)

// quantity decodes integers sent either as JSON numbers or as decimal/hex
// strings. Contract integers are 256-bit, so strings are the common case.
type quantity string

func (q *quantity) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*q = quantity(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*q = quantity(n.String())
	return nil
}

// amount decodes q; an absent field decodes as zero.
func (q quantity) amount() (domain.Amount, error) {
	if q == "" {
		return domain.Amount{}, nil
	}
	return domain.ParseWei(string(q))
}

func (q quantity) uint64() (uint64, error) {
	a, err := q.amount()
	if err != nil {
		return 0, err
	}
	i := a.Int()
	if !i.IsUint64() {
		return 0, fmt.Errorf("quantity %s overflows uint64", string(q))
	}
	return i.Uint64(), nil
}

// campaignResult is the raw contract tuple for one campaign.
type campaignResult struct {
	CampaignID    quantity `json:"campaignId"`
	Entrepreneur  string   `json:"entrepreneur"`
	Title         string   `json:"title"`
	Price         quantity `json:"price"`
	Backers       quantity `json:"backers"`
	PledgesLeft   quantity `json:"pledgesLeft"`
	CallerPledges quantity `json:"callerPledges"`
	Fulfilled     bool     `json:"fulfilled"`
	Canceled      bool     `json:"canceled"`
}

func (r campaignResult) toRecord() (domain.CampaignRecord, error) {
	id, err := r.CampaignID.uint64()
	if err != nil {
		return domain.CampaignRecord{}, fmt.Errorf("campaignId: %w", err)
	}
	entrepreneur, err := parseOptionalAddress(r.Entrepreneur)
	if err != nil {
		return domain.CampaignRecord{}, fmt.Errorf("entrepreneur: %w", err)
	}
	price, err := r.Price.amount()
	if err != nil {
		return domain.CampaignRecord{}, fmt.Errorf("price: %w", err)
	}
	backers, err := r.Backers.uint64()
	if err != nil {
		return domain.CampaignRecord{}, fmt.Errorf("backers: %w", err)
	}
	left, err := r.PledgesLeft.uint64()
	if err != nil {
		return domain.CampaignRecord{}, fmt.Errorf("pledgesLeft: %w", err)
	}
	mine, err := r.CallerPledges.uint64()
	if err != nil {
		return domain.CampaignRecord{}, fmt.Errorf("callerPledges: %w", err)
	}

	return domain.CampaignRecord{
		CampaignID:    domain.CampaignID(id),
		Entrepreneur:  entrepreneur,
		Title:         r.Title,
		Price:         price,
		Backers:       backers,
		PledgesLeft:   left,
		CallerPledges: mine,
		Fulfilled:     r.Fulfilled,
		Canceled:      r.Canceled,
	}, nil
}

// eventResult is the raw payload of a contract_event notification.
type eventResult struct {
	Event           string      `json:"event"`
	BlockNumber     quantity    `json:"blockNumber"`
	LogIndex        quantity    `json:"logIndex"`
	TransactionHash string      `json:"transactionHash"`
	ReturnValues    eventValues `json:"returnValues"`
}

type eventValues struct {
	CampaignID   quantity `json:"campaignId,omitempty"`
	Entrepreneur string   `json:"entrepreneur,omitempty"`
	Title        string   `json:"title,omitempty"`
	Backer       string   `json:"backer,omitempty"`
	Investor     string   `json:"investor,omitempty"`
	NewOwner     string   `json:"newOwner,omitempty"`
	Amount       quantity `json:"amount,omitempty"`
}

func (r eventResult) toEvent() (domain.Event, error) {
	kind := domain.EventKind(r.Event)
	if !kind.IsValid() {
		return domain.Event{}, fmt.Errorf("unknown event %q", r.Event)
	}

	ev := domain.Event{Kind: kind, TxHash: r.TransactionHash}
	var err error

	if r.BlockNumber != "" {
		if ev.BlockNumber, err = r.BlockNumber.uint64(); err != nil {
			return domain.Event{}, fmt.Errorf("blockNumber: %w", err)
		}
	}
	if r.LogIndex != "" {
		if ev.LogIndex, err = r.LogIndex.uint64(); err != nil {
			return domain.Event{}, fmt.Errorf("logIndex: %w", err)
		}
	}

	v := r.ReturnValues
	if v.CampaignID != "" {
		id, err := v.CampaignID.uint64()
		if err != nil {
			return domain.Event{}, fmt.Errorf("campaignId: %w", err)
		}
		ev.CampaignID = domain.CampaignID(id)
	}
	if v.Amount != "" {
		if ev.Amount, err = v.Amount.amount(); err != nil {
			return domain.Event{}, fmt.Errorf("amount: %w", err)
		}
	}
	ev.Title = v.Title

	for _, f := range []struct {
		raw string
		dst *domain.Address
	}{
		{v.Entrepreneur, &ev.Entrepreneur},
		{v.Backer, &ev.Backer},
		{v.Investor, &ev.Investor},
		{v.NewOwner, &ev.NewOwner},
	} {
		if *f.dst, err = parseOptionalAddress(f.raw); err != nil {
			return domain.Event{}, err
		}
	}

	return ev, nil
}

// parseOptionalAddress treats an empty string as the zero address.
func parseOptionalAddress(s string) (domain.Address, error) {
	if s == "" {
		return domain.Address{}, nil
	}
	return domain.ParseAddress(s)
}
