package reconcile

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/staysync/backend/internal/storage"
	"github.com/staysync/backend/internal/storage/models"
)

// fixedNow pins the reconcile clock so grace-window behavior is deterministic.
var fixedNow = time.Date(2025, 5, 15, 12, 0, 0, 0, time.UTC)

func testDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.RunMigrations(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	return db
}

func newTestReconciler(t *testing.T, db *storage.DB) *Reconciler {
	t.Helper()
	r := NewReconciler(
		db,
		storage.NewBookingRepository(db),
		storage.NewEventRepository(db),
		storage.NewUnitRepository(db),
		storage.NewRateRepository(db),
		2, 60,
	)
	r.now = func() time.Time { return fixedNow }
	return r
}

func seedUnit(t *testing.T, db *storage.DB) *models.Unit {
	t.Helper()
	u := &models.Unit{Name: "Casa Palma", City: "Tulum"}
	if err := storage.NewUnitRepository(db).Create(context.Background(), u); err != nil {
		t.Fatalf("creating unit: %v", err)
	}
	return u
}

func seedEvent(t *testing.T, db *storage.DB, unitID, uid, code, eventType string, start, end time.Time) *models.CalendarEvent {
	t.Helper()
	ev := &models.CalendarEvent{
		UnitID:     unitID,
		UID:        uid,
		Start:      start,
		End:        end,
		EventType:  eventType,
		IsBlock:    eventType == models.EventTypeBlock,
		LastSeenAt: fixedNow,
	}
	if code != "" {
		ev.ReservationCode = &code
	}
	if err := storage.NewEventRepository(db).Upsert(context.Background(), db, ev); err != nil {
		t.Fatalf("seeding event: %v", err)
	}
	return ev
}

func seedBooking(t *testing.T, db *storage.DB, b *models.Booking) *models.Booking {
	t.Helper()
	if b.Status == "" {
		b.Status = "Confirmed"
	}
	if err := storage.NewBookingRepository(db).Create(context.Background(), b); err != nil {
		t.Fatalf("seeding booking: %v", err)
	}
	return b
}

func itemFor(t *testing.T, report *Report, bookingID string) *Item {
	t.Helper()
	for i := range report.Items {
		if report.Items[i].BookingID == bookingID {
			return &report.Items[i]
		}
	}
	t.Fatalf("no report item for booking %s", bookingID)
	return nil
}

func TestReconcileExactCodeMatch(t *testing.T) {
	db := testDB(t)
	unit := seedUnit(t, db)
	ev := seedEvent(t, db, unit.ID, "res-1@airbnb.com", "HM8F2ZW3NX",
		models.EventTypeReservation, d(2025, 5, 20), d(2025, 5, 24))
	b := seedBooking(t, db, &models.Booking{
		UnitID: unit.ID, GuestName: "Ana", Source: models.SourceAirbnb,
		ConfirmationCode: strPtr("HM8F2ZW3NX"),
		CheckIn:          d(2025, 5, 20), CheckOut: d(2025, 5, 24),
	})

	r := newTestReconciler(t, db)
	report, err := r.Reconcile(context.Background(), Options{UnitID: unit.ID})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if report.Processed != 1 || report.Matched != 1 || report.Conflicts != 0 {
		t.Fatalf("report = %+v, want 1 processed, 1 matched", report)
	}
	item := itemFor(t, report, b.ID)
	if item.Status != models.SyncMatched || item.MatchMethod != MethodCode {
		t.Errorf("item = %s via %s, want matched via code", item.Status, item.MatchMethod)
	}
	if item.BookingResURL != "https://www.airbnb.com/hosting/reservations/details/HM8F2ZW3NX" {
		t.Errorf("BookingResURL = %q", item.BookingResURL)
	}

	got, err := storage.NewBookingRepository(db).GetByID(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.SyncStatus != models.SyncMatched {
		t.Errorf("persisted sync_status = %q, want matched", got.SyncStatus)
	}
	if got.LinkedEventID == nil || *got.LinkedEventID != ev.ID {
		t.Errorf("persisted linked_event_id = %v, want %s", got.LinkedEventID, ev.ID)
	}
}

func TestReconcileDateConflictProposesEventDates(t *testing.T) {
	db := testDB(t)
	unit := seedUnit(t, db)
	seedEvent(t, db, unit.ID, "res-1@airbnb.com", "HM8F2ZW3NX",
		models.EventTypeReservation, d(2025, 5, 20), d(2025, 5, 26))
	b := seedBooking(t, db, &models.Booking{
		UnitID: unit.ID, GuestName: "Ana", Source: models.SourceAirbnb,
		ConfirmationCode: strPtr("HM8F2ZW3NX"),
		CheckIn:          d(2025, 5, 20), CheckOut: d(2025, 5, 24),
	})

	r := newTestReconciler(t, db)
	report, err := r.Reconcile(context.Background(), Options{UnitID: unit.ID})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if report.Conflicts != 1 {
		t.Fatalf("Conflicts = %d, want 1", report.Conflicts)
	}
	item := itemFor(t, report, b.ID)
	if item.Status != models.SyncConflict {
		t.Fatalf("status = %q, want conflict", item.Status)
	}
	if item.Diffs.CheckIn || !item.Diffs.CheckOut {
		t.Errorf("diffs = %+v, want check-out only", item.Diffs)
	}
	if item.ProposedCheckIn != "2025-05-20" || item.ProposedCheckOut != "2025-05-26" {
		t.Errorf("proposed = %s/%s", item.ProposedCheckIn, item.ProposedCheckOut)
	}
	want := "iCal changed check-out -> 2025-05-26"
	if len(item.Summary) != 1 || item.Summary[0] != want {
		t.Errorf("summary = %v, want [%q]", item.Summary, want)
	}
}

func TestReconcileAirbnbDtendOffByOneIsMatched(t *testing.T) {
	db := testDB(t)
	unit := seedUnit(t, db)
	// Inclusive-end provider export: DTEND one day past the real checkout.
	seedEvent(t, db, unit.ID, "res-1@airbnb.com", "HM8F2ZW3NX",
		models.EventTypeReservation, d(2025, 5, 20), d(2025, 5, 25))
	b := seedBooking(t, db, &models.Booking{
		UnitID: unit.ID, GuestName: "Ana", Source: models.SourceAirbnb,
		ConfirmationCode: strPtr("HM8F2ZW3NX"),
		CheckIn:          d(2025, 5, 20), CheckOut: d(2025, 5, 24),
	})

	r := newTestReconciler(t, db)
	report, err := r.Reconcile(context.Background(), Options{UnitID: unit.ID})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if item := itemFor(t, report, b.ID); item.Status != models.SyncMatched {
		t.Errorf("status = %q, want matched for off-by-one DTEND", item.Status)
	}
}

func TestReconcileMissingCodedBookingWithinGrace(t *testing.T) {
	db := testDB(t)
	unit := seedUnit(t, db)
	b := seedBooking(t, db, &models.Booking{
		UnitID: unit.ID, GuestName: "Ana", Source: models.SourceAirbnb,
		ConfirmationCode: strPtr("HM8F2ZW3NX"),
		CheckIn:          d(2025, 5, 16), CheckOut: d(2025, 5, 20),
	})

	r := newTestReconciler(t, db)
	report, err := r.Reconcile(context.Background(), Options{UnitID: unit.ID})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if report.SuspectedCancelled != 1 {
		t.Fatalf("SuspectedCancelled = %d, want 1", report.SuspectedCancelled)
	}
	item := itemFor(t, report, b.ID)
	if item.Status != models.SyncSuspectedCancelled {
		t.Fatalf("status = %q", item.Status)
	}
	want := "Airbnb: booking code HM8F2ZW3NX not found in iCal - likely cancelled."
	if len(item.Summary) != 1 || item.Summary[0] != want {
		t.Errorf("summary = %v, want [%q]", item.Summary, want)
	}
}

func TestReconcileMissingCodedBookingAgedOutIsMatched(t *testing.T) {
	db := testDB(t)
	unit := seedUnit(t, db)
	// Checkout well past the grace cutoff: the feed has simply truncated it.
	b := seedBooking(t, db, &models.Booking{
		UnitID: unit.ID, GuestName: "Ana", Source: models.SourceAirbnb,
		ConfirmationCode: strPtr("HM8F2ZW3NX"),
		CheckIn:          d(2025, 4, 16), CheckOut: d(2025, 4, 20),
	})

	r := newTestReconciler(t, db)
	report, err := r.Reconcile(context.Background(), Options{UnitID: unit.ID})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	item := itemFor(t, report, b.ID)
	if item.Status != models.SyncMatched {
		t.Errorf("status = %q, want matched for aged-out booking", item.Status)
	}
	if len(item.Summary) != 0 {
		t.Errorf("summary = %v, want empty", item.Summary)
	}
}

func TestReconcileCodedBookingNeverFallsBackToOverlap(t *testing.T) {
	db := testDB(t)
	unit := seedUnit(t, db)
	// A block sits exactly on the booking's dates, but the provider code is
	// gone from the feed. That is cancellation evidence, not a match.
	seedEvent(t, db, unit.ID, "block-1@airbnb.com", "",
		models.EventTypeBlock, d(2025, 5, 16), d(2025, 5, 20))
	b := seedBooking(t, db, &models.Booking{
		UnitID: unit.ID, GuestName: "Ana", Source: models.SourceAirbnb,
		ConfirmationCode: strPtr("HM8F2ZW3NX"),
		CheckIn:          d(2025, 5, 16), CheckOut: d(2025, 5, 20),
	})

	r := newTestReconciler(t, db)
	report, err := r.Reconcile(context.Background(), Options{UnitID: unit.ID})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	item := itemFor(t, report, b.ID)
	if item.Status != models.SyncSuspectedCancelled {
		t.Fatalf("status = %q, want suspected_cancelled", item.Status)
	}
	if item.LinkedEventID != "" || item.MatchMethod != MethodNone {
		t.Errorf("coded booking matched %s via %s", item.LinkedEventID, item.MatchMethod)
	}
}

func TestReconcilePrivateBookingOverlapMatch(t *testing.T) {
	db := testDB(t)
	unit := seedUnit(t, db)
	ev := seedEvent(t, db, unit.ID, "owner-block@staysync.app", "",
		models.EventTypeBlock, d(2025, 5, 20), d(2025, 5, 24))
	b := seedBooking(t, db, &models.Booking{
		UnitID: unit.ID, GuestName: "Owner stay", Source: models.SourcePrivate,
		CheckIn: d(2025, 5, 20), CheckOut: d(2025, 5, 24),
	})

	r := newTestReconciler(t, db)
	report, err := r.Reconcile(context.Background(), Options{UnitID: unit.ID})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	item := itemFor(t, report, b.ID)
	if item.Status != models.SyncMatched || item.MatchMethod != MethodOverlap {
		t.Errorf("item = %s via %s, want matched via overlap", item.Status, item.MatchMethod)
	}
	if item.LinkedEventID != ev.ID {
		t.Errorf("linked to %s, want %s", item.LinkedEventID, ev.ID)
	}

	// Overlap links stamp provenance for audit.
	got, err := storage.NewBookingRepository(db).GetByID(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.LastUpdatedVia == nil || *got.LastUpdatedVia != "calendar-sync" {
		t.Errorf("last_updated_via = %v, want calendar-sync", got.LastUpdatedVia)
	}
}

func TestReconcileAdjacentTurnoverIsMatched(t *testing.T) {
	db := testDB(t)
	unit := seedUnit(t, db)
	// The next stay begins the day this one ends. Back-to-back turnovers are
	// handoffs, not conflicts, even though the ranges never overlap.
	ev := seedEvent(t, db, unit.ID, "next-stay@airbnb.com", "HMNEXTGST1",
		models.EventTypeBlock, d(2025, 5, 24), d(2025, 5, 28))
	b := seedBooking(t, db, &models.Booking{
		UnitID: unit.ID, GuestName: "Owner stay", Source: models.SourcePrivate,
		CheckIn: d(2025, 5, 20), CheckOut: d(2025, 5, 24),
	})

	r := newTestReconciler(t, db)
	report, err := r.Reconcile(context.Background(), Options{UnitID: unit.ID})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if report.Conflicts != 0 {
		t.Fatalf("Conflicts = %d, want 0 for a turnover", report.Conflicts)
	}
	item := itemFor(t, report, b.ID)
	if item.Status != models.SyncMatched || item.MatchMethod != MethodOverlap {
		t.Errorf("item = %s via %s, want matched via overlap", item.Status, item.MatchMethod)
	}
	if item.LinkedEventID != ev.ID {
		t.Errorf("linked to %s, want %s", item.LinkedEventID, ev.ID)
	}
	if item.Diffs.CheckIn || item.Diffs.CheckOut {
		t.Errorf("diffs = %+v, want none for a handoff", item.Diffs)
	}
	if len(item.Summary) != 0 {
		t.Errorf("summary = %v, want empty", item.Summary)
	}
}

func TestReconcileCrossSourceOverlapWarning(t *testing.T) {
	db := testDB(t)
	unit := seedUnit(t, db)
	seedEvent(t, db, unit.ID, "res-1@airbnb.com", "HM8F2ZW3NX",
		models.EventTypeReservation, d(2025, 5, 18), d(2025, 5, 22))
	b := seedBooking(t, db, &models.Booking{
		UnitID: unit.ID, GuestName: "Owner stay", Source: models.SourcePrivate,
		CheckIn: d(2025, 5, 20), CheckOut: d(2025, 5, 25),
	})

	r := newTestReconciler(t, db)
	report, err := r.Reconcile(context.Background(), Options{UnitID: unit.ID})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	item := itemFor(t, report, b.ID)
	if !item.OverlapWarning {
		t.Fatal("OverlapWarning not set")
	}
	if len(item.OverlapDetails) != 1 || item.OverlapDetails[0].ReservationCode != "HM8F2ZW3NX" {
		t.Errorf("details = %+v", item.OverlapDetails)
	}
	found := false
	for _, s := range item.Summary {
		if strings.Contains(s, "Calendar double-booked") && strings.Contains(s, "HM8F2ZW3NX") {
			found = true
		}
	}
	if !found {
		t.Errorf("summary %v missing double-booked line", item.Summary)
	}

	got, err := storage.NewBookingRepository(db).GetByID(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !got.OverlapWarning {
		t.Error("overlap_warning not persisted")
	}
}

func TestReconcileOrphanEventCreatesPlaceholder(t *testing.T) {
	db := testDB(t)
	unit := seedUnit(t, db)
	ev := seedEvent(t, db, unit.ID, "res-orphan@airbnb.com", "HMORPHAN77",
		models.EventTypeReservation, d(2025, 5, 20), d(2025, 5, 25))

	r := newTestReconciler(t, db)
	ctx := context.Background()
	report, err := r.Reconcile(ctx, Options{UnitID: unit.ID})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.PlaceholdersCreated != 1 {
		t.Fatalf("PlaceholdersCreated = %d, want 1", report.PlaceholdersCreated)
	}

	bookings := storage.NewBookingRepository(db)
	from := d(2025, 5, 1)
	rows, err := bookings.ListCandidates(ctx, unit.ID, &from, nil)
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d bookings, want 1 placeholder", len(rows))
	}
	p := rows[0]
	if p.GuestName != models.PlaceholderGuestName {
		t.Errorf("guest = %q", p.GuestName)
	}
	if p.Status != models.BookingStatusNeedsDetails || p.SyncStatus != models.SyncMissingBooking {
		t.Errorf("status = %q / sync %q", p.Status, p.SyncStatus)
	}
	if p.Code() != "HMORPHAN77" || p.ConfCode() != "HMORPHAN77" {
		t.Errorf("codes = %q / %q", p.Code(), p.ConfCode())
	}
	if p.LinkedEventID == nil || *p.LinkedEventID != ev.ID {
		t.Errorf("linked_event_id = %v, want %s", p.LinkedEventID, ev.ID)
	}
	if p.CheckInYMD() != "2025-05-20" || p.CheckOutYMD() != "2025-05-25" {
		t.Errorf("dates = %s/%s", p.CheckInYMD(), p.CheckOutYMD())
	}
	// Tax and commission come from the seeded default rate config.
	if p.TaxRate != 0.16 || p.CommissionRate != 0.15 {
		t.Errorf("rates = %v/%v, want 0.16/0.15", p.TaxRate, p.CommissionRate)
	}
	if p.Payout != 0 {
		t.Errorf("payout = %v, want 0", p.Payout)
	}

	// Second pass: the placeholder now backs the code, so nothing new is
	// created and the placeholder classifies as matched.
	report2, err := r.Reconcile(ctx, Options{UnitID: unit.ID})
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if report2.PlaceholdersCreated != 0 {
		t.Errorf("second run PlaceholdersCreated = %d, want 0", report2.PlaceholdersCreated)
	}
	if item := itemFor(t, report2, p.ID); item.Status != models.SyncMatched {
		t.Errorf("placeholder status = %q, want matched", item.Status)
	}
	rows, err = bookings.ListCandidates(ctx, unit.ID, &from, nil)
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("got %d bookings after second run, want 1", len(rows))
	}
}

func TestReconcileDryRunWritesNothing(t *testing.T) {
	db := testDB(t)
	unit := seedUnit(t, db)
	seedEvent(t, db, unit.ID, "res-1@airbnb.com", "HM8F2ZW3NX",
		models.EventTypeReservation, d(2025, 5, 20), d(2025, 5, 26))
	seedEvent(t, db, unit.ID, "res-orphan@airbnb.com", "HMORPHAN77",
		models.EventTypeReservation, d(2025, 5, 20), d(2025, 5, 25))
	b := seedBooking(t, db, &models.Booking{
		UnitID: unit.ID, GuestName: "Ana", Source: models.SourceAirbnb,
		ConfirmationCode: strPtr("HM8F2ZW3NX"),
		CheckIn:          d(2025, 5, 20), CheckOut: d(2025, 5, 24),
	})

	r := newTestReconciler(t, db)
	ctx := context.Background()
	report, err := r.Reconcile(ctx, Options{UnitID: unit.ID, DryRun: true})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !report.DryRun || report.Conflicts != 1 || report.PlaceholdersCreated != 1 {
		t.Fatalf("report = %+v, want dry run with 1 conflict and 1 would-be placeholder", report)
	}

	bookings := storage.NewBookingRepository(db)
	got, err := bookings.GetByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.SyncStatus != models.SyncNone || got.LinkedEventID != nil {
		t.Errorf("dry run persisted state: sync %q link %v", got.SyncStatus, got.LinkedEventID)
	}
	from := d(2025, 5, 1)
	rows, err := bookings.ListCandidates(ctx, unit.ID, &from, nil)
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("dry run created bookings: got %d, want 1", len(rows))
	}
}

func TestReconcileFingerprintStableAcrossRuns(t *testing.T) {
	db := testDB(t)
	unit := seedUnit(t, db)
	seedEvent(t, db, unit.ID, "res-1@airbnb.com", "HM8F2ZW3NX",
		models.EventTypeReservation, d(2025, 5, 20), d(2025, 5, 26))
	b := seedBooking(t, db, &models.Booking{
		UnitID: unit.ID, GuestName: "Ana", Source: models.SourceAirbnb,
		ConfirmationCode: strPtr("HM8F2ZW3NX"),
		CheckIn:          d(2025, 5, 20), CheckOut: d(2025, 5, 24),
	})

	r := newTestReconciler(t, db)
	ctx := context.Background()
	first, err := r.Reconcile(ctx, Options{UnitID: unit.ID})
	if err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	second, err := r.Reconcile(ctx, Options{UnitID: unit.ID})
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}

	fp1 := itemFor(t, first, b.ID).Fingerprint
	fp2 := itemFor(t, second, b.ID).Fingerprint
	if fp1 == "" || fp1 != fp2 {
		t.Errorf("fingerprints %q vs %q, want identical non-empty", fp1, fp2)
	}
}

func TestReconcileIgnoresCancelledBookings(t *testing.T) {
	db := testDB(t)
	unit := seedUnit(t, db)
	seedBooking(t, db, &models.Booking{
		UnitID: unit.ID, GuestName: "Ana", Source: models.SourceAirbnb,
		Status:           models.BookingStatusCancelled,
		ConfirmationCode: strPtr("HM8F2ZW3NX"),
		CheckIn:          d(2025, 5, 16), CheckOut: d(2025, 5, 20),
	})

	r := newTestReconciler(t, db)
	report, err := r.Reconcile(context.Background(), Options{UnitID: unit.ID})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Processed != 0 {
		t.Errorf("Processed = %d, want 0", report.Processed)
	}
}
