package models

import (
	"time"
)

// DefaultBillingArrangement is the rate-config fallback key used when a
// unit's own billing arrangement has no configured rates.
const DefaultBillingArrangement = "default"

// UnitRate holds the tax/commission defaults for a billing arrangement.
// Placeholder bookings synthesized from orphan calendar reservations resolve
// their monetary defaults through this table.
type UnitRate struct {
	ID                 string    `json:"id"`
	BillingArrangement string    `json:"billing_arrangement"`
	TaxRate            float64   `json:"tax_rate"`
	CommissionRate     float64   `json:"commission_rate"`
	EffectiveFrom      time.Time `json:"effective_from"`
	CreatedAt          time.Time `json:"created_at"`
}
