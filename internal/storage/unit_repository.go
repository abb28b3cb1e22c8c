package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/staysync/backend/internal/storage/models"
)

// UnitRepository provides data access for rental units and their feed URLs.
type UnitRepository struct {
	BaseRepository
}

// NewUnitRepository creates a new unit repository.
func NewUnitRepository(db *DB) *UnitRepository {
	return &UnitRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const unitColumns = `
	id, name, city, airbnb_feed_url, private_feed_url, billing_arrangement,
	private_export, last_sync_at, sync_status, sync_error, created_at, updated_at
`

func scanUnit(row interface{ Scan(...any) error }, u *models.Unit) error {
	return row.Scan(
		&u.ID, &u.Name, &u.City, &u.AirbnbFeedURL, &u.PrivateFeedURL,
		&u.BillingArrangement, &u.PrivateExport, &u.LastSyncAt,
		&u.SyncStatus, &u.SyncError, &u.CreatedAt, &u.UpdatedAt,
	)
}

// Create inserts a new unit.
func (r *UnitRepository) Create(ctx context.Context, u *models.Unit) error {
	u.ID = GenerateID()
	u.CreatedAt = r.Now()
	u.UpdatedAt = r.Now()
	u.SyncStatus = models.SyncStatusPending
	if u.BillingArrangement == "" {
		u.BillingArrangement = models.DefaultBillingArrangement
	}

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO units (
			id, name, city, airbnb_feed_url, private_feed_url, billing_arrangement,
			private_export, sync_status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		u.ID, u.Name, u.City, u.AirbnbFeedURL, u.PrivateFeedURL,
		u.BillingArrangement, u.PrivateExport, u.SyncStatus, u.CreatedAt, u.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("inserting unit: %w", err)
	}

	return nil
}

// GetByID retrieves a unit by its ID.
func (r *UnitRepository) GetByID(ctx context.Context, id string) (*models.Unit, error) {
	u := &models.Unit{}

	row := r.DB().QueryRowContext(ctx, `SELECT `+unitColumns+` FROM units WHERE id = ?`, id)
	err := scanUnit(row, u)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying unit: %w", err)
	}

	return u, nil
}

// List retrieves all units.
func (r *UnitRepository) List(ctx context.Context) ([]models.Unit, error) {
	rows, err := r.DB().QueryContext(ctx, `SELECT `+unitColumns+` FROM units ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying units: %w", err)
	}
	defer rows.Close()

	var units []models.Unit
	for rows.Next() {
		var u models.Unit
		if err := scanUnit(rows, &u); err != nil {
			return nil, fmt.Errorf("scanning unit: %w", err)
		}
		units = append(units, u)
	}

	return units, rows.Err()
}

// ListWithFeed retrieves units that have an external feed URL configured.
func (r *UnitRepository) ListWithFeed(ctx context.Context) ([]models.Unit, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+unitColumns+`
		FROM units
		WHERE airbnb_feed_url IS NOT NULL AND airbnb_feed_url <> ''
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("querying units with feeds: %w", err)
	}
	defer rows.Close()

	var units []models.Unit
	for rows.Next() {
		var u models.Unit
		if err := scanUnit(rows, &u); err != nil {
			return nil, fmt.Errorf("scanning unit: %w", err)
		}
		units = append(units, u)
	}

	return units, rows.Err()
}

// Update updates a unit's editable fields.
func (r *UnitRepository) Update(ctx context.Context, u *models.Unit) error {
	u.UpdatedAt = r.Now()

	result, err := r.DB().ExecContext(ctx, `
		UPDATE units SET
			name = ?, city = ?, airbnb_feed_url = ?, private_feed_url = ?,
			billing_arrangement = ?, private_export = ?, updated_at = ?
		WHERE id = ?
	`,
		u.Name, u.City, u.AirbnbFeedURL, u.PrivateFeedURL,
		u.BillingArrangement, u.PrivateExport, u.UpdatedAt, u.ID,
	)

	if err != nil {
		return fmt.Errorf("updating unit: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("unit not found: %s", u.ID)
	}

	return nil
}

// UpdateSyncStatus updates the sync status of a unit after a feed run.
func (r *UnitRepository) UpdateSyncStatus(ctx context.Context, id string, status string, syncError *string) error {
	now := time.Now().UTC()
	var lastSyncAt *time.Time
	if status == models.SyncStatusSuccess {
		lastSyncAt = &now
	}

	_, err := r.DB().ExecContext(ctx, `
		UPDATE units SET
			sync_status = ?, sync_error = ?, last_sync_at = COALESCE(?, last_sync_at), updated_at = ?
		WHERE id = ?
	`, status, syncError, lastSyncAt, now, id)

	if err != nil {
		return fmt.Errorf("updating sync status: %w", err)
	}

	return nil
}

// Delete removes a unit by ID.
func (r *UnitRepository) Delete(ctx context.Context, id string) error {
	result, err := r.DB().ExecContext(ctx, "DELETE FROM units WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting unit: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("unit not found: %s", id)
	}

	return nil
}
