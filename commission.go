package rolepolicy

import "github.com/shopspring/decimal"

// ActorClass says who created a listing, which decides the fee split.
type ActorClass string

const (
	ActorUnclassified        ActorClass = ""
	ActorAdminListing        ActorClass = "admin_listing"
	ActorFreelanceHost       ActorClass = "freelance_host"
	ActorOfficeLinkedHost    ActorClass = "office_linked_host"
	ActorOfficeEntityListing ActorClass = "office_entity_listing"
)

// LineKind tags a line item.
type LineKind string

const (
	LinePayout      LineKind = "payout"
	LinePlatformFee LineKind = "platform_fee"
	LineOfficeFee   LineKind = "office_fee"
)

type LineItem struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
	Kind   LineKind        `json:"kind"`
}

// CommissionResult is the price breakdown of one listing. Amounts are rounded
// to the cent.
type CommissionResult struct {
	HostReceives decimal.Decimal `json:"host_receives"`
	PlatformFee  decimal.Decimal `json:"platform_fee"`
	OfficeFee    decimal.Decimal `json:"office_fee"`
	PayerTotal   decimal.Decimal `json:"payer_total"`
	LineItems    []LineItem      `json:"line_items"`
}

// Rates is one row of the commission table, as fractions of the base price.
type Rates struct {
	Platform decimal.Decimal
	Office   decimal.Decimal
}

// CommissionPolicy maps a base price and actor class to a breakdown.
type CommissionPolicy struct {
	rates    map[ActorClass]Rates
	fallback Rates
}

var (
	standardRate     = decimal.RequireFromString("0.35")
	linkedPlatform   = decimal.RequireFromString("0.28")
	linkedOfficeRate = decimal.RequireFromString("0.07")
)

// DefaultCommissionPolicy returns the marketplace's standard table.
func DefaultCommissionPolicy() *CommissionPolicy {
	return NewCommissionPolicy(map[ActorClass]Rates{
		ActorAdminListing:        {Platform: decimal.Zero, Office: decimal.Zero},
		ActorFreelanceHost:       {Platform: standardRate, Office: decimal.Zero},
		ActorOfficeLinkedHost:    {Platform: linkedPlatform, Office: linkedOfficeRate},
		ActorOfficeEntityListing: {Platform: standardRate, Office: decimal.Zero},
	}, Rates{Platform: standardRate, Office: decimal.Zero})
}

// NewCommissionPolicy builds a policy; classes missing from rates use fallback.
func NewCommissionPolicy(rates map[ActorClass]Rates, fallback Rates) *CommissionPolicy {
	cp := &CommissionPolicy{rates: make(map[ActorClass]Rates, len(rates)), fallback: fallback}
	for k, v := range rates {
		cp.rates[k] = v
	}
	return cp
}

// RatesFor returns the row used for actor.
func (cp *CommissionPolicy) RatesFor(actor ActorClass) Rates {
	if r, ok := cp.rates[actor]; ok {
		return r
	}
	return cp.fallback
}

// Compute is pure. The base is rounded to the cent first; the total fee is
// rounded once and the office share is whatever the rounded platform fee
// leaves, so payer total, fees and payout always reconcile.
func (cp *CommissionPolicy) Compute(basePrice decimal.Decimal, actor ActorClass) CommissionResult {
	base := roundCents(basePrice)
	if !base.IsPositive() {
		return CommissionResult{
			HostReceives: decimal.Zero,
			PlatformFee:  decimal.Zero,
			OfficeFee:    decimal.Zero,
			PayerTotal:   decimal.Zero,
			LineItems:    []LineItem{},
		}
	}
	rates := cp.RatesFor(actor)
	totalFee := roundCents(base.Mul(rates.Platform.Add(rates.Office)))
	platform := roundCents(base.Mul(rates.Platform))
	if platform.GreaterThan(totalFee) {
		platform = totalFee
	}
	office := totalFee.Sub(platform)

	items := []LineItem{
		{Label: receivesLabel(actor), Amount: base, Kind: LinePayout},
		{Label: "Platform fee", Amount: platform, Kind: LinePlatformFee},
	}
	if rates.Office.IsPositive() {
		items = append(items, LineItem{Label: "Office fee", Amount: office, Kind: LineOfficeFee})
	}
	return CommissionResult{
		HostReceives: base,
		PlatformFee:  platform,
		OfficeFee:    office,
		PayerTotal:   base.Add(totalFee),
		LineItems:    items,
	}
}

func receivesLabel(actor ActorClass) string {
	switch actor {
	case ActorOfficeEntityListing:
		return "Office receives"
	case ActorAdminListing:
		return "Platform listing"
	}
	return "Host receives"
}

func roundCents(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

// ActorClassFor derives the listing class from who is listing.
func ActorClassFor(p *Principal) ActorClass {
	if p == nil {
		return ActorUnclassified
	}
	switch p.PrimaryRole() {
	case RoleAdmin:
		return ActorAdminListing
	case RoleOfficeManager:
		return ActorOfficeEntityListing
	}
	switch p.HostClassification() {
	case HostOfficeLinked:
		return ActorOfficeLinkedHost
	case HostFreelance:
		return ActorFreelanceHost
	}
	return ActorUnclassified
}
