package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/staysync/backend/internal/storage/models"
)

// BookingRepository provides data access for booking records. Dates are only
// ever written through the transactional helpers used by the applier; the
// reconciler limits itself to sync metadata.
type BookingRepository struct {
	BaseRepository
}

// NewBookingRepository creates a new booking repository.
func NewBookingRepository(db *DB) *BookingRepository {
	return &BookingRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const bookingColumns = `
	id, unit_id, guest_name, guest_type, source, status, confirmation_code,
	reservation_code, check_in, check_out, payout, tax_rate, commission_rate,
	notes, linked_event_id, sync_status, overlap_warning, last_sync_at,
	last_updated_at, last_updated_via, created_at, updated_at
`

func scanBooking(row interface{ Scan(...any) error }, b *models.Booking) error {
	return row.Scan(
		&b.ID, &b.UnitID, &b.GuestName, &b.GuestType, &b.Source, &b.Status,
		&b.ConfirmationCode, &b.ReservationCode, &b.CheckIn, &b.CheckOut,
		&b.Payout, &b.TaxRate, &b.CommissionRate, &b.Notes, &b.LinkedEventID,
		&b.SyncStatus, &b.OverlapWarning, &b.LastSyncAt,
		&b.LastUpdatedAt, &b.LastUpdatedVia, &b.CreatedAt, &b.UpdatedAt,
	)
}

// Create inserts a new booking record.
func (r *BookingRepository) Create(ctx context.Context, b *models.Booking) error {
	return r.CreateIn(ctx, r.DB(), b)
}

// CreateIn inserts a booking using the given queryable (e.g. a transaction).
func (r *BookingRepository) CreateIn(ctx context.Context, q Queryable, b *models.Booking) error {
	if b.ID == "" {
		b.ID = GenerateID()
	}
	b.CreatedAt = r.Now()
	b.UpdatedAt = b.CreatedAt
	if b.SyncStatus == "" {
		b.SyncStatus = models.SyncNone
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO bookings (
			id, unit_id, guest_name, guest_type, source, status, confirmation_code,
			reservation_code, check_in, check_out, payout, tax_rate, commission_rate,
			notes, linked_event_id, sync_status, overlap_warning, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.ID, b.UnitID, b.GuestName, b.GuestType, b.Source, b.Status,
		b.ConfirmationCode, b.ReservationCode, b.CheckIn, b.CheckOut,
		b.Payout, b.TaxRate, b.CommissionRate, b.Notes, b.LinkedEventID,
		b.SyncStatus, b.OverlapWarning, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting booking: %w", err)
	}

	return nil
}

// GetByID retrieves a booking by its ID.
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	b := &models.Booking{}

	row := r.DB().QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	err := scanBooking(row, b)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying booking: %w", err)
	}

	return b, nil
}

// ListCandidates selects bookings whose stay intersects the [from, to]
// window, excluding cancelled and expired records. A nil bound leaves that
// side open; unitID narrows to one unit when non-empty.
func (r *BookingRepository) ListCandidates(ctx context.Context, unitID string, from, to *time.Time) ([]models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE LOWER(status) NOT IN ('cancelled', 'canceled', 'expired')
	`
	var args []any

	if unitID != "" {
		query += ` AND unit_id = ?`
		args = append(args, unitID)
	}
	if from != nil {
		query += ` AND check_out >= ?`
		args = append(args, *from)
	}
	if to != nil {
		query += ` AND check_in <= ?`
		args = append(args, *to)
	}
	query += ` ORDER BY check_in`

	rows, err := r.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying candidate bookings: %w", err)
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		var b models.Booking
		if err := scanBooking(rows, &b); err != nil {
			return nil, fmt.Errorf("scanning booking: %w", err)
		}
		bookings = append(bookings, b)
	}

	return bookings, rows.Err()
}

// ExistsByCode reports whether any non-cancelled booking for the unit
// carries the given code as either its reservation or confirmation code.
// Used to keep orphan placeholder synthesis idempotent.
func (r *BookingRepository) ExistsByCode(ctx context.Context, unitID, code string) (bool, error) {
	var n int
	err := r.DB().QueryRowContext(ctx, `
		SELECT COUNT(1) FROM bookings
		WHERE unit_id = ?
		  AND (reservation_code = ? OR confirmation_code = ?)
		  AND LOWER(status) NOT IN ('cancelled', 'canceled')
	`, unitID, code, code).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking booking by code: %w", err)
	}
	return n > 0, nil
}

// ListCodesByUnits returns every non-cancelled booking's reservation and
// confirmation codes, grouped by unit, in one query. The reconciler uses the
// result to decide which calendar reservations lack a backing booking.
func (r *BookingRepository) ListCodesByUnits(ctx context.Context, unitIDs []string) (map[string]map[string]bool, error) {
	byUnit := make(map[string]map[string]bool, len(unitIDs))
	if len(unitIDs) == 0 {
		return byUnit, nil
	}

	placeholders := strings.Repeat("?,", len(unitIDs)-1) + "?"
	args := make([]any, len(unitIDs))
	for i, id := range unitIDs {
		args[i] = id
	}

	rows, err := r.DB().QueryContext(ctx, `
		SELECT unit_id, reservation_code, confirmation_code FROM bookings
		WHERE unit_id IN (`+placeholders+`)
		  AND LOWER(status) NOT IN ('cancelled', 'canceled')
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing booking codes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var unitID string
		var resCode, confCode sql.NullString
		if err := rows.Scan(&unitID, &resCode, &confCode); err != nil {
			return nil, fmt.Errorf("scanning booking codes: %w", err)
		}
		codes := byUnit[unitID]
		if codes == nil {
			codes = make(map[string]bool)
			byUnit[unitID] = codes
		}
		if resCode.Valid && resCode.String != "" {
			codes[resCode.String] = true
		}
		if confCode.Valid && confCode.String != "" {
			codes[confCode.String] = true
		}
	}
	return byUnit, rows.Err()
}

// SyncStateUpdate carries the reconciler's per-booking metadata writes.
type SyncStateUpdate struct {
	BookingID      string
	SyncStatus     string
	LinkedEventID  *string
	OverlapWarning bool
	LastSyncAt     time.Time
	StampUpdatedAt bool // set when an overlap link is persisted for audit
}

// ApplySyncState writes the reconciler's metadata for one booking inside the
// given transaction. Dates are deliberately not touched here.
func (r *BookingRepository) ApplySyncState(ctx context.Context, q Queryable, u SyncStateUpdate) error {
	query := `
		UPDATE bookings SET
			sync_status = ?, linked_event_id = ?, overlap_warning = ?,
			last_sync_at = ?, updated_at = ?
	`
	args := []any{u.SyncStatus, u.LinkedEventID, u.OverlapWarning, u.LastSyncAt, u.LastSyncAt}

	if u.StampUpdatedAt {
		query += `, last_updated_at = ?, last_updated_via = 'calendar-sync'`
		args = append(args, u.LastSyncAt)
	}
	query += ` WHERE id = ?`
	args = append(args, u.BookingID)

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating booking sync state: %w", err)
	}

	return nil
}

// UpdateDatesTx writes corrected dates and provenance in one statement,
// inside the applier's transaction.
func (r *BookingRepository) UpdateDatesTx(ctx context.Context, tx *sql.Tx, id string, checkIn, checkOut time.Time, via string) error {
	now := r.Now()
	result, err := tx.ExecContext(ctx, `
		UPDATE bookings SET
			check_in = ?, check_out = ?, last_updated_at = ?, last_updated_via = ?, updated_at = ?
		WHERE id = ?
	`, checkIn, checkOut, now, via, now, id)
	if err != nil {
		return fmt.Errorf("updating booking dates: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("booking not found: %s", id)
	}

	return nil
}

// CancelTx marks a booking cancelled with provenance, inside the applier's
// transaction. Dates are left untouched.
func (r *BookingRepository) CancelTx(ctx context.Context, tx *sql.Tx, id string, via string) error {
	now := r.Now()
	result, err := tx.ExecContext(ctx, `
		UPDATE bookings SET
			status = ?, last_updated_at = ?, last_updated_via = ?, updated_at = ?
		WHERE id = ?
	`, models.BookingStatusCancelled, now, via, now, id)
	if err != nil {
		return fmt.Errorf("cancelling booking: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("booking not found: %s", id)
	}

	return nil
}

// ListConflicts returns bookings flagged by the reconciler (date conflict,
// suspected cancellation, or calendar double-booking) whose stay ends on or
// after the given date. Feeds the dashboard alert center.
func (r *BookingRepository) ListConflicts(ctx context.Context, from time.Time, limit int) ([]models.Booking, error) {
	if limit <= 0 {
		limit = 200
	}

	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE LOWER(status) NOT IN ('cancelled', 'canceled', 'expired')
		  AND check_out >= ?
		  AND (sync_status IN ('conflict', 'suspected_cancelled') OR overlap_warning = 1)
		ORDER BY check_in
		LIMIT ?
	`, from, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conflicted bookings: %w", err)
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		var b models.Booking
		if err := scanBooking(rows, &b); err != nil {
			return nil, fmt.Errorf("scanning booking: %w", err)
		}
		bookings = append(bookings, b)
	}

	return bookings, rows.Err()
}

// ListPrivateForExport returns private-source bookings overlapping the
// export window for a unit. Soft rows (holds/blocks) and firm stays are
// separated because the outbound feed renders them differently.
func (r *BookingRepository) ListPrivateForExport(ctx context.Context, unitID string, windowStart time.Time, windowEnd *time.Time, soft bool) ([]models.Booking, error) {
	softCond := `(LOWER(COALESCE(guest_type, '')) IN (` + softTypePlaceholders + `) OR LOWER(status) IN (` + softTypePlaceholders + `))`
	cond := `NOT ` + softCond
	if soft {
		cond = softCond
	}

	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE unit_id = ?
		  AND source IN ('Private')
		  AND LOWER(status) NOT IN ('cancelled', 'canceled', 'expired')
		  AND ` + cond + `
		  AND check_out >= ?
	`
	args := []any{unitID}
	for i := 0; i < 2; i++ {
		for _, t := range models.SoftGuestTypes {
			args = append(args, t)
		}
	}
	args = append(args, windowStart)

	if windowEnd != nil {
		query += ` AND check_in < ?`
		args = append(args, *windowEnd)
	}
	query += ` ORDER BY check_in`

	rows, err := r.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying private bookings for export: %w", err)
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		var b models.Booking
		if err := scanBooking(rows, &b); err != nil {
			return nil, fmt.Errorf("scanning booking: %w", err)
		}
		bookings = append(bookings, b)
	}

	return bookings, rows.Err()
}

// softTypePlaceholders is a "?, ?, ..." list sized to models.SoftGuestTypes.
var softTypePlaceholders = func() string {
	s := ""
	for i := range models.SoftGuestTypes {
		if i > 0 {
			s += ", "
		}
		s += "?"
	}
	return s
}()
