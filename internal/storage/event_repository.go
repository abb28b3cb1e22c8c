package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/staysync/backend/internal/storage/models"
)

// EventRepository provides data access for normalized calendar events.
type EventRepository struct {
	BaseRepository
}

// NewEventRepository creates a new calendar event repository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const eventColumns = `
	id, unit_id, uid, dtstart, dtend, summary, description, status,
	event_type, is_block, reservation_url, reservation_code,
	last_seen_at, created_at, updated_at
`

func scanEvent(row interface{ Scan(...any) error }, e *models.CalendarEvent) error {
	return row.Scan(
		&e.ID, &e.UnitID, &e.UID, &e.Start, &e.End, &e.Summary, &e.Description,
		&e.Status, &e.EventType, &e.IsBlock, &e.ReservationURL, &e.ReservationCode,
		&e.LastSeenAt, &e.CreatedAt, &e.UpdatedAt,
	)
}

// GetByID retrieves an event by its ID.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*models.CalendarEvent, error) {
	e := &models.CalendarEvent{}

	row := r.DB().QueryRowContext(ctx, `SELECT `+eventColumns+` FROM calendar_events WHERE id = ?`, id)
	err := scanEvent(row, e)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying event: %w", err)
	}

	return e, nil
}

// GetByUnitAndUID retrieves the event identified by (unit_id, uid).
func (r *EventRepository) GetByUnitAndUID(ctx context.Context, unitID, uid string) (*models.CalendarEvent, error) {
	e := &models.CalendarEvent{}

	row := r.DB().QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM calendar_events WHERE unit_id = ? AND uid = ?
	`, unitID, uid)
	err := scanEvent(row, e)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying event by uid: %w", err)
	}

	return e, nil
}

// Upsert inserts the event or updates the existing (unit_id, uid) row in
// place, preserving the original created_at.
func (r *EventRepository) Upsert(ctx context.Context, q Queryable, e *models.CalendarEvent) error {
	existing, err := r.getByUnitAndUIDIn(ctx, q, e.UnitID, e.UID)
	if err != nil {
		return err
	}

	now := r.Now()
	e.UpdatedAt = now

	if existing != nil {
		e.ID = existing.ID
		e.CreatedAt = existing.CreatedAt

		_, err = q.ExecContext(ctx, `
			UPDATE calendar_events SET
				dtstart = ?, dtend = ?, summary = ?, description = ?, status = ?,
				event_type = ?, is_block = ?, reservation_url = ?, reservation_code = ?,
				last_seen_at = ?, updated_at = ?
			WHERE id = ?
		`,
			e.Start, e.End, e.Summary, e.Description, e.Status,
			e.EventType, e.IsBlock, e.ReservationURL, e.ReservationCode,
			e.LastSeenAt, e.UpdatedAt, e.ID,
		)
		if err != nil {
			return fmt.Errorf("updating event: %w", err)
		}
		return nil
	}

	e.ID = GenerateID()
	e.CreatedAt = now

	_, err = q.ExecContext(ctx, `
		INSERT INTO calendar_events (
			id, unit_id, uid, dtstart, dtend, summary, description, status,
			event_type, is_block, reservation_url, reservation_code,
			last_seen_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.UnitID, e.UID, e.Start, e.End, e.Summary, e.Description, e.Status,
		e.EventType, e.IsBlock, e.ReservationURL, e.ReservationCode,
		e.LastSeenAt, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	return nil
}

func (r *EventRepository) getByUnitAndUIDIn(ctx context.Context, q Queryable, unitID, uid string) (*models.CalendarEvent, error) {
	e := &models.CalendarEvent{}

	row := q.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM calendar_events WHERE unit_id = ? AND uid = ?
	`, unitID, uid)
	err := scanEvent(row, e)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying event by uid: %w", err)
	}

	return e, nil
}

// DeleteWithinWindow removes all events for a unit whose range sits inside
// the [min, max] span observed in the current fetch. The fresh batch is
// inserted afterwards, so reordering or truncation inside the observed
// window is absorbed.
func (r *EventRepository) DeleteWithinWindow(ctx context.Context, q Queryable, unitID string, min, max time.Time) (int64, error) {
	result, err := q.ExecContext(ctx, `
		DELETE FROM calendar_events
		WHERE unit_id = ? AND dtstart >= ? AND dtend <= ?
	`, unitID, min, max)
	if err != nil {
		return 0, fmt.Errorf("deleting events in window: %w", err)
	}

	n, _ := result.RowsAffected()
	return n, nil
}

// SweepUnseenBlocks deletes block-type events for a unit that end today or
// later and were not touched by the current run. The source feed drops
// removed manual blocks instead of marking them, so absence is the only
// removal signal. Past events are kept for audit.
func (r *EventRepository) SweepUnseenBlocks(ctx context.Context, q Queryable, unitID string, today, runStartedAt time.Time) (int64, error) {
	result, err := q.ExecContext(ctx, `
		DELETE FROM calendar_events
		WHERE unit_id = ?
		  AND (LOWER(COALESCE(event_type, '')) = 'block' OR is_block <> 0)
		  AND dtend >= ?
		  AND (last_seen_at IS NULL OR last_seen_at < ?)
	`, unitID, today, runStartedAt)
	if err != nil {
		return 0, fmt.Errorf("sweeping unseen blocks: %w", err)
	}

	n, _ := result.RowsAffected()
	return n, nil
}

// SweepUnseenReservations deletes future coded reservation events for a unit
// that were not touched by the current run, so reconciliation can surface
// cancelled reservations instead of treating them as still matched. Events
// carrying the private code prefix are left alone; the private feed owns
// their lifecycle.
func (r *EventRepository) SweepUnseenReservations(ctx context.Context, q Queryable, unitID string, today, runStartedAt time.Time, privateCodePrefix string) (int64, error) {
	result, err := q.ExecContext(ctx, `
		DELETE FROM calendar_events
		WHERE unit_id = ?
		  AND LOWER(COALESCE(event_type, '')) = 'reservation'
		  AND is_block = 0
		  AND dtend >= ?
		  AND (last_seen_at IS NULL OR last_seen_at < ?)
		  AND reservation_code IS NOT NULL
		  AND reservation_code NOT LIKE ?
	`, unitID, today, runStartedAt, privateCodePrefix+"%")
	if err != nil {
		return 0, fmt.Errorf("sweeping unseen reservations: %w", err)
	}

	n, _ := result.RowsAffected()
	return n, nil
}

// ListByUnits prefetches all events for a set of units in a single query,
// keyed by unit ID. The reconciler narrows these in memory, keeping the
// pass at O(1) query round trips.
func (r *EventRepository) ListByUnits(ctx context.Context, unitIDs []string) (map[string][]models.CalendarEvent, error) {
	byUnit := make(map[string][]models.CalendarEvent, len(unitIDs))
	if len(unitIDs) == 0 {
		return byUnit, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(unitIDs)), ",")
	args := make([]any, len(unitIDs))
	for i, id := range unitIDs {
		args[i] = id
	}

	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM calendar_events
		WHERE unit_id IN (`+placeholders+`)
		ORDER BY dtstart
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events for units: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.CalendarEvent
		if err := scanEvent(rows, &e); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		byUnit[e.UnitID] = append(byUnit[e.UnitID], e)
	}

	return byUnit, rows.Err()
}

// EarliestStart returns the earliest dtstart on record, optionally limited
// to one unit. Returns nil when no events exist.
//
// MIN(dtstart) loses the column's declared type, so the sqlite driver hands
// the aggregate back as a string; selecting the column keeps time conversion.
func (r *EventRepository) EarliestStart(ctx context.Context, unitID string) (*time.Time, error) {
	query := `SELECT dtstart FROM calendar_events`
	var args []any
	if unitID != "" {
		query += ` WHERE unit_id = ?`
		args = append(args, unitID)
	}
	query += ` ORDER BY dtstart LIMIT 1`

	var start time.Time
	err := r.DB().QueryRowContext(ctx, query, args...).Scan(&start)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying earliest event start: %w", err)
	}

	t := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	return &t, nil
}
