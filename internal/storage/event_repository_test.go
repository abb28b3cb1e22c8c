package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/staysync/backend/internal/storage/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := RunMigrations(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	return db
}

func addUnit(t *testing.T, db *DB, name string) *models.Unit {
	t.Helper()
	u := &models.Unit{Name: name, City: "Tulum"}
	if err := NewUnitRepository(db).Create(context.Background(), u); err != nil {
		t.Fatalf("creating unit: %v", err)
	}
	return u
}

func addEvent(t *testing.T, db *DB, unitID, uid string, start, end time.Time) {
	t.Helper()
	ev := &models.CalendarEvent{
		UnitID:     unitID,
		UID:        uid,
		Start:      start,
		End:        end,
		EventType:  models.EventTypeReservation,
		LastSeenAt: time.Now().UTC(),
	}
	if err := NewEventRepository(db).Upsert(context.Background(), db, ev); err != nil {
		t.Fatalf("seeding event: %v", err)
	}
}

// The earliest-start lookup must scan a stored dtstart back through the
// driver; an aggregate form would come back untyped and fail the scan.
func TestEarliestStart(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	events := NewEventRepository(db)

	got, err := events.EarliestStart(ctx, "")
	if err != nil {
		t.Fatalf("EarliestStart on empty table: %v", err)
	}
	if got != nil {
		t.Fatalf("empty table returned %v, want nil", got)
	}

	a := addUnit(t, db, "Casa Palma")
	b := addUnit(t, db, "Casa Luna")
	addEvent(t, db, a.ID, "a-late@airbnb.com",
		time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC))
	addEvent(t, db, a.ID, "a-early@airbnb.com",
		time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC), time.Date(2025, 5, 6, 0, 0, 0, 0, time.UTC))
	addEvent(t, db, b.ID, "b-only@airbnb.com",
		time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC), time.Date(2025, 5, 24, 0, 0, 0, 0, time.UTC))

	got, err = events.EarliestStart(ctx, "")
	if err != nil {
		t.Fatalf("EarliestStart: %v", err)
	}
	if got == nil || got.Format("2006-01-02") != "2025-05-02" {
		t.Errorf("earliest across units = %v, want 2025-05-02", got)
	}

	got, err = events.EarliestStart(ctx, b.ID)
	if err != nil {
		t.Fatalf("EarliestStart for unit: %v", err)
	}
	if got == nil || !got.Equal(time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("earliest for unit = %v, want 2025-05-20 midnight UTC", got)
	}
}
