package reconcile

import (
	"context"
	"fmt"
	"log"

	"github.com/staysync/backend/internal/storage"
	"github.com/staysync/backend/internal/storage/models"
)

// buildPlaceholder synthesizes a minimal booking for a calendar reservation
// that no internal booking backs. Monetary fields stay zero and the guest
// label is a sentinel, so these rows are trivially queryable for follow-up;
// tax/commission defaults come from the unit's billing arrangement.
func buildPlaceholder(ctx context.Context, rates *storage.RateRepository, unit *models.Unit, ev *models.CalendarEvent) *models.Booking {
	arrangement := models.DefaultBillingArrangement
	if unit != nil && unit.BillingArrangement != "" {
		arrangement = unit.BillingArrangement
	}

	taxRate, commissionRate := 0.0, 0.0
	rate, err := rates.Resolve(ctx, arrangement)
	if err != nil {
		log.Printf("Rate lookup failed for arrangement %q: %v", arrangement, err)
	} else if rate != nil {
		taxRate = rate.TaxRate
		commissionRate = rate.CommissionRate
	}

	code := ev.Code()
	note := fmt.Sprintf("Created from calendar event %s (%s)", ev.ID, ev.UID)
	status := models.BookingStatusNeedsDetails

	b := &models.Booking{
		UnitID:         ev.UnitID,
		GuestName:      models.PlaceholderGuestName,
		Source:         models.SourceAirbnb,
		Status:         status,
		CheckIn:        ev.Start,
		CheckOut:       ev.End,
		Payout:         0,
		TaxRate:        taxRate,
		CommissionRate: commissionRate,
		Notes:          &note,
		LinkedEventID:  &ev.ID,
		SyncStatus:     models.SyncMissingBooking,
	}
	if code != "" {
		b.ReservationCode = &code
		b.ConfirmationCode = &code
	}
	return b
}
