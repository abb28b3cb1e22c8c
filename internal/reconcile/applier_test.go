package reconcile

import (
	"context"
	"testing"

	"github.com/staysync/backend/internal/storage"
	"github.com/staysync/backend/internal/storage/models"
)

func newTestApplier(db *storage.DB) *Applier {
	return NewApplier(db, storage.NewBookingRepository(db), storage.NewEventRepository(db))
}

func TestApplyCorrectsDates(t *testing.T) {
	db := testDB(t)
	unit := seedUnit(t, db)
	ev := seedEvent(t, db, unit.ID, "res-1@airbnb.com", "HM8F2ZW3NX",
		models.EventTypeReservation, d(2025, 5, 21), d(2025, 5, 26))
	b := seedBooking(t, db, &models.Booking{
		UnitID: unit.ID, GuestName: "Ana", Source: models.SourceAirbnb,
		ConfirmationCode: strPtr("HM8F2ZW3NX"),
		CheckIn:          d(2025, 5, 20), CheckOut: d(2025, 5, 24),
		LinkedEventID:    &ev.ID,
	})

	ctx := context.Background()
	result, err := newTestApplier(db).Apply(ctx, b.ID)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !result.OK || !result.Updated || result.Action != "" {
		t.Fatalf("result = %+v, want plain date update", result)
	}
	if result.Before.CheckIn != "2025-05-20" || result.Before.CheckOut != "2025-05-24" {
		t.Errorf("before = %+v", result.Before)
	}
	if result.After.CheckIn != "2025-05-21" || result.After.CheckOut != "2025-05-26" {
		t.Errorf("after = %+v", result.After)
	}
	if result.Event == nil || result.Event.ID != ev.ID || result.Event.Code != "HM8F2ZW3NX" {
		t.Errorf("event = %+v", result.Event)
	}

	got, err := storage.NewBookingRepository(db).GetByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.CheckInYMD() != "2025-05-21" || got.CheckOutYMD() != "2025-05-26" {
		t.Errorf("persisted dates = %s/%s", got.CheckInYMD(), got.CheckOutYMD())
	}
	if got.Status != "Confirmed" {
		t.Errorf("status = %q, want untouched", got.Status)
	}
	if got.LastUpdatedVia == nil || *got.LastUpdatedVia != "calendar-sync" {
		t.Errorf("last_updated_via = %v, want calendar-sync", got.LastUpdatedVia)
	}
}

func TestApplyCancelsOnProviderCodeMismatch(t *testing.T) {
	db := testDB(t)
	unit := seedUnit(t, db)
	// The linked event now carries a different provider code: the original
	// reservation was superseded upstream.
	ev := seedEvent(t, db, unit.ID, "res-1@airbnb.com", "HMNEWCODE1",
		models.EventTypeReservation, d(2025, 5, 21), d(2025, 5, 26))
	b := seedBooking(t, db, &models.Booking{
		UnitID: unit.ID, GuestName: "Ana", Source: models.SourceAirbnb,
		ConfirmationCode: strPtr("HM8F2ZW3NX"),
		CheckIn:          d(2025, 5, 20), CheckOut: d(2025, 5, 24),
		LinkedEventID:    &ev.ID,
	})

	ctx := context.Background()
	result, err := newTestApplier(db).Apply(ctx, b.ID)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !result.OK || !result.Updated || result.Action != ActionCancelledMismatch {
		t.Fatalf("result = %+v, want %s", result, ActionCancelledMismatch)
	}
	if result.After.Status != models.BookingStatusCancelled {
		t.Errorf("after status = %q", result.After.Status)
	}

	got, err := storage.NewBookingRepository(db).GetByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != models.BookingStatusCancelled {
		t.Errorf("persisted status = %q, want cancelled", got.Status)
	}
	// A cancellation never rewrites the stay dates.
	if got.CheckInYMD() != "2025-05-20" || got.CheckOutYMD() != "2025-05-24" {
		t.Errorf("dates changed on cancel: %s/%s", got.CheckInYMD(), got.CheckOutYMD())
	}
}

func TestApplyNoChange(t *testing.T) {
	db := testDB(t)
	unit := seedUnit(t, db)
	ev := seedEvent(t, db, unit.ID, "res-1@airbnb.com", "HM8F2ZW3NX",
		models.EventTypeReservation, d(2025, 5, 20), d(2025, 5, 24))
	b := seedBooking(t, db, &models.Booking{
		UnitID: unit.ID, GuestName: "Ana", Source: models.SourceAirbnb,
		ConfirmationCode: strPtr("HM8F2ZW3NX"),
		CheckIn:          d(2025, 5, 20), CheckOut: d(2025, 5, 24),
		LinkedEventID:    &ev.ID,
	})

	result, err := newTestApplier(db).Apply(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !result.OK || result.Updated || result.Reason != ReasonNoChange {
		t.Fatalf("result = %+v, want no_change", result)
	}
}

func TestApplyBookingNotFound(t *testing.T) {
	db := testDB(t)

	result, err := newTestApplier(db).Apply(context.Background(), "missing-id")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.OK || result.Error != ReasonNotFound {
		t.Fatalf("result = %+v, want not_found", result)
	}
}

func TestApplyReleasesBookingLocks(t *testing.T) {
	db := testDB(t)
	unit := seedUnit(t, db)
	b := seedBooking(t, db, &models.Booking{
		UnitID: unit.ID, GuestName: "Ana", Source: models.SourceAirbnb,
		CheckIn: d(2025, 5, 20), CheckOut: d(2025, 5, 24),
	})

	a := newTestApplier(db)
	for _, id := range []string{b.ID, "missing-id", b.ID} {
		if _, err := a.Apply(context.Background(), id); err != nil {
			t.Fatalf("Apply(%s): %v", id, err)
		}
	}

	a.mu.Lock()
	n := len(a.locks)
	a.mu.Unlock()
	if n != 0 {
		t.Errorf("%d lock entries left behind, want 0", n)
	}
}

func TestApplyWithoutLinkedEvent(t *testing.T) {
	db := testDB(t)
	unit := seedUnit(t, db)
	b := seedBooking(t, db, &models.Booking{
		UnitID: unit.ID, GuestName: "Ana", Source: models.SourceAirbnb,
		CheckIn: d(2025, 5, 20), CheckOut: d(2025, 5, 24),
	})

	result, err := newTestApplier(db).Apply(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.OK || result.Error != ReasonNoEvent {
		t.Fatalf("result = %+v, want no_event", result)
	}
}
