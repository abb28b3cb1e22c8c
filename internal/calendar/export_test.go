package calendar

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/staysync/backend/internal/storage"
	"github.com/staysync/backend/internal/storage/models"
)

func strPtr(s string) *string { return &s }

func seedBooking(t *testing.T, db *storage.DB, b *models.Booking) *models.Booking {
	t.Helper()
	if err := storage.NewBookingRepository(db).Create(context.Background(), b); err != nil {
		t.Fatalf("creating booking: %v", err)
	}
	return b
}

func TestExportConfirmedAndSoftRows(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	today := time.Now().UTC().Truncate(24 * time.Hour)

	unit := createUnit(t, db, nil)

	stay := seedBooking(t, db, &models.Booking{
		UnitID:    unit.ID,
		GuestName: "Dana Whitfield",
		Source:    models.SourcePrivate,
		Status:    "Confirmed",
		CheckIn:   today.AddDate(0, 0, 5),
		CheckOut:  today.AddDate(0, 0, 9),
		Payout:    1250.50,
	})
	hold := seedBooking(t, db, &models.Booking{
		UnitID:    unit.ID,
		GuestName: "Possible repeat guest",
		GuestType: strPtr("hold"),
		Source:    models.SourcePrivate,
		Status:    "Confirmed",
		CheckIn:   today.AddDate(0, 0, 12),
		CheckOut:  today.AddDate(0, 0, 14),
	})
	block := seedBooking(t, db, &models.Booking{
		UnitID:    unit.ID,
		GuestType: strPtr("maintenance"),
		Source:    models.SourcePrivate,
		Status:    "Confirmed",
		Notes:     strPtr("pool repair"),
		CheckIn:   today.AddDate(0, 0, 20),
		CheckOut:  today.AddDate(0, 0, 22),
	})
	// Other-source and past rows never export.
	seedBooking(t, db, &models.Booking{
		UnitID:           unit.ID,
		Source:           models.SourceAirbnb,
		Status:           "Confirmed",
		ConfirmationCode: strPtr("HM8F2ZW3NX"),
		CheckIn:          today.AddDate(0, 0, 5),
		CheckOut:         today.AddDate(0, 0, 9),
	})
	seedBooking(t, db, &models.Booking{
		UnitID:   unit.ID,
		Source:   models.SourcePrivate,
		Status:   "Confirmed",
		CheckIn:  today.AddDate(0, 0, -30),
		CheckOut: today.AddDate(0, 0, -27),
	})

	exp := NewExporter(storage.NewUnitRepository(db), storage.NewBookingRepository(db), time.UTC)

	body, err := exp.BuildForUnit(ctx, unit.ID, true, nil, nil)
	if err != nil {
		t.Fatalf("BuildForUnit: %v", err)
	}

	if !strings.Contains(body, "BEGIN:VCALENDAR") || !strings.Contains(body, "END:VCALENDAR") {
		t.Fatal("not a calendar")
	}
	if !strings.Contains(body, "staysync-private-"+stay.ID+"@staysync.app") {
		t.Error("confirmed stay UID missing")
	}
	if !strings.Contains(body, "staysync-soft-"+hold.ID+"@staysync.app") {
		t.Error("hold UID missing")
	}
	if !strings.Contains(body, "staysync-soft-"+block.ID+"@staysync.app") {
		t.Error("block UID missing")
	}
	if strings.Contains(body, "HM8F2ZW3NX") {
		t.Error("provider-sourced booking leaked into the private export")
	}

	if !strings.Contains(body, "Dana Whitfield") {
		t.Error("details requested but guest name missing")
	}
	if !strings.Contains(body, "STATUS:TENTATIVE") {
		t.Error("hold should be tentative")
	}
	if !strings.Contains(body, "TRANSP:TRANSPARENT") {
		t.Error("block should be transparent")
	}
	if !strings.Contains(body, "CATEGORIES:MAINTENANCE") {
		t.Error("block kind category missing")
	}
	if !strings.Contains(body, "BLOCKED [MAINTENANCE]") {
		t.Error("block summary missing kind tag")
	}
	if !strings.Contains(body, "DTSTART;TZID=UTC:"+stay.CheckIn.Format("20060102")+"T000000") {
		t.Error("confirmed stay DTSTART missing or malformed")
	}
}

func TestExportWithoutDetailsHidesGuestAndPayout(t *testing.T) {
	db := testDB(t)
	today := time.Now().UTC().Truncate(24 * time.Hour)
	unit := createUnit(t, db, nil)
	seedBooking(t, db, &models.Booking{
		UnitID:    unit.ID,
		GuestName: "Dana Whitfield",
		Source:    models.SourcePrivate,
		Status:    "Confirmed",
		CheckIn:   today.AddDate(0, 0, 5),
		CheckOut:  today.AddDate(0, 0, 9),
		Payout:    1250.50,
	})

	exp := NewExporter(storage.NewUnitRepository(db), storage.NewBookingRepository(db), time.UTC)
	body, err := exp.BuildForUnit(context.Background(), unit.ID, false, nil, nil)
	if err != nil {
		t.Fatalf("BuildForUnit: %v", err)
	}

	if !strings.Contains(body, "SUMMARY:StaySync Reservation") {
		t.Error("generic summary missing")
	}
	for _, line := range strings.Split(body, "\r\n") {
		if strings.HasPrefix(line, "SUMMARY") && strings.Contains(line, "Dana") {
			t.Error("guest name leaked into summary without details")
		}
		if strings.HasPrefix(line, "SUMMARY") && strings.Contains(line, "1250") {
			t.Error("payout leaked into summary without details")
		}
	}
}

func TestExportDisabledUnitYieldsEmptyCalendar(t *testing.T) {
	db := testDB(t)
	today := time.Now().UTC().Truncate(24 * time.Hour)
	unit := createUnit(t, db, func(u *models.Unit) { u.PrivateExport = false })
	seedBooking(t, db, &models.Booking{
		UnitID:   unit.ID,
		Source:   models.SourcePrivate,
		Status:   "Confirmed",
		CheckIn:  today.AddDate(0, 0, 5),
		CheckOut: today.AddDate(0, 0, 9),
	})

	exp := NewExporter(storage.NewUnitRepository(db), storage.NewBookingRepository(db), time.UTC)
	body, err := exp.BuildForUnit(context.Background(), unit.ID, true, nil, nil)
	if err != nil {
		t.Fatalf("BuildForUnit: %v", err)
	}
	if strings.Contains(body, "BEGIN:VEVENT") {
		t.Error("disabled unit must export an empty calendar")
	}
	if !strings.Contains(body, "BEGIN:VCALENDAR") {
		t.Error("even a disabled unit serves a valid calendar wrapper")
	}
}

func TestExportRoundTripsThroughParser(t *testing.T) {
	db := testDB(t)
	today := time.Now().UTC().Truncate(24 * time.Hour)
	unit := createUnit(t, db, nil)
	stay := seedBooking(t, db, &models.Booking{
		UnitID:           unit.ID,
		GuestName:        "Dana Whitfield",
		Source:           models.SourcePrivate,
		Status:           "Confirmed",
		ReservationCode:  strPtr("PVA1B2C3"),
		ConfirmationCode: strPtr("PVA1B2C3"),
		CheckIn:          today.AddDate(0, 0, 5),
		CheckOut:         today.AddDate(0, 0, 9),
	})

	exp := NewExporter(storage.NewUnitRepository(db), storage.NewBookingRepository(db), time.UTC)
	body, err := exp.BuildForUnit(context.Background(), unit.ID, false, nil, nil)
	if err != nil {
		t.Fatalf("BuildForUnit: %v", err)
	}

	events, err := NewParser(time.UTC).Parse("", []byte(body))
	if err != nil {
		t.Fatalf("re-parsing own export: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.XBookingID != stay.ID {
		t.Errorf("XBookingID = %q, want %q", ev.XBookingID, stay.ID)
	}
	if ev.XBookingCode != "PVA1B2C3" {
		t.Errorf("XBookingCode = %q", ev.XBookingCode)
	}
	if ev.XKind != "reservation" {
		t.Errorf("XKind = %q", ev.XKind)
	}
	if !ev.Start.Equal(stay.CheckIn) || !ev.End.Equal(stay.CheckOut) {
		t.Errorf("dates = %v..%v, want %v..%v", ev.Start, ev.End, stay.CheckIn, stay.CheckOut)
	}
}
