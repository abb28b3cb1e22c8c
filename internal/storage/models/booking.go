package models

import (
	"time"
)

// Booking sources.
const (
	SourceAirbnb  = "Airbnb"
	SourcePrivate = "Private"
)

// Booking statuses used by the sync engine. The full status vocabulary is
// owned by the booking subsystem; these are the ones we read or write.
const (
	BookingStatusCancelled    = "Cancelled"
	BookingStatusExpired      = "Expired"
	BookingStatusNeedsDetails = "needs_details"
)

// Sync status values stamped by the reconciler.
const (
	SyncMatched            = "matched"
	SyncConflict           = "conflict"
	SyncSuspectedCancelled = "suspected_cancelled"
	SyncMissingBooking     = "missing_booking"
	SyncNone               = "none"
)

// Guest types that mark a booking as a soft hold/block rather than a stay.
var SoftGuestTypes = []string{
	"hold", "block", "cleaning", "maintenance",
	"late check-out", "late checkout", "late check out",
}

// PlaceholderGuestName labels bookings synthesized for orphan calendar
// reservations so they are trivially queryable for follow-up.
const PlaceholderGuestName = "Airbnb guest (pending details)"

// Booking is an internal reservation/stay record. The reconciler only ever
// mutates sync_status, linked_event_id, overlap_warning and the sync
// timestamps; check-in/check-out change exclusively through the applier.
type Booking struct {
	ID               string     `json:"id"`
	UnitID           string     `json:"unit_id"`
	GuestName        string     `json:"guest_name"`
	GuestType        *string    `json:"guest_type,omitempty"`
	Source           string     `json:"source"`
	Status           string     `json:"status"`
	ConfirmationCode *string    `json:"confirmation_code,omitempty"`
	ReservationCode  *string    `json:"reservation_code,omitempty"`
	CheckIn          time.Time  `json:"check_in"`
	CheckOut         time.Time  `json:"check_out"`
	Payout           float64    `json:"payout"`
	TaxRate          float64    `json:"tax_rate"`
	CommissionRate   float64    `json:"commission_rate"`
	Notes            *string    `json:"notes,omitempty"`
	LinkedEventID    *string    `json:"linked_event_id,omitempty"`
	SyncStatus       string     `json:"sync_status"`
	OverlapWarning   bool       `json:"overlap_warning"`
	LastSyncAt       *time.Time `json:"last_sync_at,omitempty"`
	LastUpdatedAt    *time.Time `json:"last_updated_at,omitempty"`
	LastUpdatedVia   *string    `json:"last_updated_via,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// CheckInYMD returns the check-in date formatted as YYYY-MM-DD.
func (b *Booking) CheckInYMD() string {
	return b.CheckIn.Format("2006-01-02")
}

// CheckOutYMD returns the check-out date formatted as YYYY-MM-DD.
func (b *Booking) CheckOutYMD() string {
	return b.CheckOut.Format("2006-01-02")
}

// Code returns the explicit reservation code or "" when absent.
func (b *Booking) Code() string {
	if b.ReservationCode == nil {
		return ""
	}
	return *b.ReservationCode
}

// ConfCode returns the confirmation code or "" when absent.
func (b *Booking) ConfCode() string {
	if b.ConfirmationCode == nil {
		return ""
	}
	return *b.ConfirmationCode
}
