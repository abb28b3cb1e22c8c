package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AckRepository stores reviewer acknowledgements of reconcile outcomes.
// An ack is keyed by booking and pinned to the fingerprint of the outcome
// that was reviewed; a later reconcile that changes the fingerprint makes
// the stored ack stale.
type AckRepository struct {
	BaseRepository
}

// NewAckRepository creates a new acknowledgement repository.
func NewAckRepository(db *DB) *AckRepository {
	return &AckRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Set records (or replaces) the acknowledgement for a booking.
func (r *AckRepository) Set(ctx context.Context, bookingID, fingerprint string) error {
	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO sync_acks (booking_id, fingerprint, acked_at)
		VALUES (?, ?, ?)
		ON CONFLICT(booking_id) DO UPDATE SET fingerprint = excluded.fingerprint, acked_at = excluded.acked_at
	`, bookingID, fingerprint, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storing acknowledgement: %w", err)
	}
	return nil
}

// Get returns the stored fingerprint for a booking, or "" when none exists.
func (r *AckRepository) Get(ctx context.Context, bookingID string) (string, error) {
	var fp string
	err := r.DB().QueryRowContext(ctx, `
		SELECT fingerprint FROM sync_acks WHERE booking_id = ?
	`, bookingID).Scan(&fp)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying acknowledgement: %w", err)
	}

	return fp, nil
}
