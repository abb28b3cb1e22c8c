package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"

	"github.com/staysync/backend/internal/calendar"
	"github.com/staysync/backend/internal/storage"
	"github.com/staysync/backend/internal/storage/models"
)

// Apply error reasons, surfaced to the operator for remediation.
const (
	ReasonNotFound          = "not_found"
	ReasonNoEvent           = "no_event"
	ReasonEventMissingDates = "event_missing_dates"
	ReasonNoChange          = "no_change"

	ActionCancelledMismatch = "cancelled_due_to_ical_mismatch"

	applyProvenance = "calendar-sync"
)

// DateSnapshot is a before/after view of a booking's mutable fields.
type DateSnapshot struct {
	Status   string `json:"status,omitempty"`
	CheckIn  string `json:"checkIn"`
	CheckOut string `json:"checkOut"`
}

// EventSnapshot describes the event the applier read from.
type EventSnapshot struct {
	ID      string `json:"id"`
	Code    string `json:"code,omitempty"`
	DtStart string `json:"dtstart"`
	DtEnd   string `json:"dtend"`
}

// ApplyResult is the payload returned to the apply caller.
type ApplyResult struct {
	OK        bool           `json:"ok"`
	BookingID string         `json:"bookingId"`
	Updated   bool           `json:"updated"`
	Action    string         `json:"action,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Error     string         `json:"error,omitempty"`
	Message   string         `json:"message,omitempty"`
	Before    *DateSnapshot  `json:"before,omitempty"`
	After     *DateSnapshot  `json:"after,omitempty"`
	Event     *EventSnapshot `json:"event,omitempty"`
}

// Applier writes reconciled dates (or a cancellation) back to a booking,
// all-or-nothing per booking. Calls for different bookings may run
// concurrently; calls for the same booking serialize on a per-booking lock.
type Applier struct {
	db       *storage.DB
	bookings *storage.BookingRepository
	events   *storage.EventRepository

	mu    sync.Mutex
	locks map[string]*bookingLock
}

// NewApplier creates a date applier.
func NewApplier(db *storage.DB, bookings *storage.BookingRepository, events *storage.EventRepository) *Applier {
	return &Applier{
		db:       db,
		bookings: bookings,
		events:   events,
		locks:    make(map[string]*bookingLock),
	}
}

// bookingLock is reference-counted so entries leave the map once the last
// holder releases; the map stays bounded by in-flight applies.
type bookingLock struct {
	sync.Mutex
	refs int
}

func (a *Applier) acquire(bookingID string) *bookingLock {
	a.mu.Lock()
	l := a.locks[bookingID]
	if l == nil {
		l = &bookingLock{}
		a.locks[bookingID] = l
	}
	l.refs++
	a.mu.Unlock()

	l.Lock()
	return l
}

func (a *Applier) release(bookingID string, l *bookingLock) {
	l.Unlock()

	a.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(a.locks, bookingID)
	}
	a.mu.Unlock()
}

// Apply reads the booking's linked event and either corrects the booking
// dates or cancels the booking (provider code mismatch). Returns a typed
// failure reason instead of an error for operator-visible preconditions.
func (a *Applier) Apply(ctx context.Context, bookingID string) (*ApplyResult, error) {
	lock := a.acquire(bookingID)
	defer a.release(bookingID, lock)

	booking, err := a.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("getting booking: %w", err)
	}
	if booking == nil {
		return &ApplyResult{
			OK:        false,
			BookingID: bookingID,
			Error:     ReasonNotFound,
			Message:   "Booking not found",
		}, nil
	}

	if booking.LinkedEventID == nil {
		return &ApplyResult{
			OK:        false,
			BookingID: booking.ID,
			Error:     ReasonNoEvent,
			Message:   "No linked calendar event to apply from",
		}, nil
	}

	event, err := a.events.GetByID(ctx, *booking.LinkedEventID)
	if err != nil {
		return nil, fmt.Errorf("getting linked event: %w", err)
	}
	if event == nil {
		return &ApplyResult{
			OK:        false,
			BookingID: booking.ID,
			Error:     ReasonNoEvent,
			Message:   "No linked calendar event to apply from",
		}, nil
	}
	if event.Start.IsZero() || event.End.IsZero() {
		return &ApplyResult{
			OK:        false,
			BookingID: booking.ID,
			Error:     ReasonEventMissingDates,
			Message:   "Linked calendar event is missing dtstart/dtend",
		}, nil
	}

	bookingCode := booking.Code()
	if bookingCode == "" {
		bookingCode = booking.ConfCode()
	}
	eventCode := event.Code()

	before := &DateSnapshot{
		Status:   booking.Status,
		CheckIn:  booking.CheckInYMD(),
		CheckOut: booking.CheckOutYMD(),
	}
	eventSnap := &EventSnapshot{
		ID:      event.ID,
		Code:    eventCode,
		DtStart: event.StartYMD(),
		DtEnd:   event.EndYMD(),
	}

	// A provider booking whose code differs from the linked event's code has
	// been superseded upstream: cancel it and leave the dates alone.
	if booking.Source == models.SourceAirbnb && calendar.IsAirbnbCode(bookingCode) &&
		eventCode != "" && bookingCode != eventCode {
		err := a.db.Transaction(func(tx *sql.Tx) error {
			return a.bookings.CancelTx(ctx, tx, booking.ID, applyProvenance)
		})
		if err != nil {
			return nil, fmt.Errorf("cancelling booking: %w", err)
		}
		log.Printf("Apply cancelled booking %s: code %s vs event code %s", booking.ID, bookingCode, eventCode)
		return &ApplyResult{
			OK:        true,
			BookingID: booking.ID,
			Updated:   true,
			Action:    ActionCancelledMismatch,
			Before:    before,
			After: &DateSnapshot{
				Status:   models.BookingStatusCancelled,
				CheckIn:  booking.CheckInYMD(),
				CheckOut: booking.CheckOutYMD(),
			},
			Event: eventSnap,
		}, nil
	}

	if before.CheckIn == eventSnap.DtStart && before.CheckOut == eventSnap.DtEnd {
		return &ApplyResult{
			OK:        true,
			BookingID: booking.ID,
			Updated:   false,
			Reason:    ReasonNoChange,
			Before:    before,
			After:     before,
			Event:     eventSnap,
		}, nil
	}

	err = a.db.Transaction(func(tx *sql.Tx) error {
		return a.bookings.UpdateDatesTx(ctx, tx, booking.ID, event.Start, event.End, applyProvenance)
	})
	if err != nil {
		return nil, fmt.Errorf("applying dates: %w", err)
	}

	after := &DateSnapshot{
		Status:   booking.Status,
		CheckIn:  eventSnap.DtStart,
		CheckOut: eventSnap.DtEnd,
	}
	log.Printf("Applied calendar dates to booking %s: %s/%s -> %s/%s",
		booking.ID, before.CheckIn, before.CheckOut, after.CheckIn, after.CheckOut)

	return &ApplyResult{
		OK:        true,
		BookingID: booking.ID,
		Updated:   true,
		Before:    before,
		After:     after,
		Event:     eventSnap,
	}, nil
}
