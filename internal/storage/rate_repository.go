package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/staysync/backend/internal/storage/models"
)

// RateRepository manages the tax/commission rate-configuration table. The
// sync engine only reads from it (placeholder synthesis); writes come from
// the settings API.
type RateRepository struct {
	BaseRepository
}

// NewRateRepository creates a new rate repository.
func NewRateRepository(db *DB) *RateRepository {
	return &RateRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Resolve returns the most recent rate row for a billing arrangement,
// falling back to the global default arrangement when none is configured.
func (r *RateRepository) Resolve(ctx context.Context, billingArrangement string) (*models.UnitRate, error) {
	rate, err := r.latestFor(ctx, billingArrangement)
	if err != nil {
		return nil, err
	}
	if rate == nil && billingArrangement != models.DefaultBillingArrangement {
		rate, err = r.latestFor(ctx, models.DefaultBillingArrangement)
		if err != nil {
			return nil, err
		}
	}
	return rate, nil
}

func (r *RateRepository) latestFor(ctx context.Context, arrangement string) (*models.UnitRate, error) {
	rate := &models.UnitRate{}

	err := r.DB().QueryRowContext(ctx, `
		SELECT id, billing_arrangement, tax_rate, commission_rate, effective_from, created_at
		FROM unit_rates
		WHERE billing_arrangement = ?
		ORDER BY effective_from DESC
		LIMIT 1
	`, arrangement).Scan(
		&rate.ID, &rate.BillingArrangement, &rate.TaxRate,
		&rate.CommissionRate, &rate.EffectiveFrom, &rate.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying rate for %q: %w", arrangement, err)
	}

	return rate, nil
}

// List returns every rate row, newest effective date first.
func (r *RateRepository) List(ctx context.Context) ([]models.UnitRate, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT id, billing_arrangement, tax_rate, commission_rate, effective_from, created_at
		FROM unit_rates
		ORDER BY billing_arrangement, effective_from DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing rates: %w", err)
	}
	defer rows.Close()

	var rates []models.UnitRate
	for rows.Next() {
		var rate models.UnitRate
		if err := rows.Scan(
			&rate.ID, &rate.BillingArrangement, &rate.TaxRate,
			&rate.CommissionRate, &rate.EffectiveFrom, &rate.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning rate: %w", err)
		}
		rates = append(rates, rate)
	}
	return rates, rows.Err()
}

// Create inserts a new rate row. Existing rows are never updated in place;
// a new effective_from supersedes the old rate going forward.
func (r *RateRepository) Create(ctx context.Context, rate *models.UnitRate) error {
	if rate.ID == "" {
		rate.ID = GenerateID()
	}
	if rate.EffectiveFrom.IsZero() {
		rate.EffectiveFrom = r.Now()
	}
	rate.CreatedAt = r.Now()

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO unit_rates (id, billing_arrangement, tax_rate, commission_rate, effective_from, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		rate.ID, rate.BillingArrangement, rate.TaxRate,
		rate.CommissionRate, rate.EffectiveFrom, rate.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting rate: %w", err)
	}
	return nil
}
