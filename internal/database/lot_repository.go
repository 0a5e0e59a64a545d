package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/parkflow/parking-booking-backend/internal/models"
)

// LotRepository handles database operations for the lots table
type LotRepository struct {
	db *sqlx.DB
}

// NewLotRepository creates a new LotRepository
func NewLotRepository(db *sqlx.DB) *LotRepository {
	return &LotRepository{db: db}
}

const lotColumns = `id, code, name, total_spaces, created_at, updated_at`

// GetLot retrieves a lot by ID. Returns nil, nil when absent.
func (r *LotRepository) GetLot(ctx context.Context, id uuid.UUID) (*models.Lot, error) {
	return r.get(ctx, `SELECT `+lotColumns+` FROM lots WHERE id = $1`, id)
}

// GetLotForUpdate reads the lot and row-locks it until the surrounding
// transaction ends. Every capacity decision for the lot goes through this lock.
func (r *LotRepository) GetLotForUpdate(ctx context.Context, id uuid.UUID) (*models.Lot, error) {
	return r.get(ctx, `SELECT `+lotColumns+` FROM lots WHERE id = $1 FOR UPDATE`, id)
}

func (r *LotRepository) get(ctx context.Context, query string, id uuid.UUID) (*models.Lot, error) {
	var lot models.Lot
	err := Conn(ctx, r.db).GetContext(ctx, &lot, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lot %s: %w", id, err)
	}
	return &lot, nil
}

// ListLots returns every lot ordered by code
func (r *LotRepository) ListLots(ctx context.Context) ([]*models.Lot, error) {
	lots := []*models.Lot{}
	err := Conn(ctx, r.db).SelectContext(ctx, &lots, `SELECT `+lotColumns+` FROM lots ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list lots: %w", err)
	}
	return lots, nil
}

// UpsertLot inserts a lot or updates name and capacity of the lot with the same code
func (r *LotRepository) UpsertLot(ctx context.Context, lot *models.Lot) error {
	if err := lot.Validate(); err != nil {
		return err
	}
	if lot.ID == uuid.Nil {
		lot.ID = uuid.New()
	}

	query := `
		INSERT INTO lots (id, code, name, total_spaces)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE
		SET name = EXCLUDED.name,
		    total_spaces = EXCLUDED.total_spaces,
		    updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	err := Conn(ctx, r.db).QueryRowxContext(ctx, query, lot.ID, lot.Code, lot.Name, lot.TotalSpaces).
		Scan(&lot.ID, &lot.CreatedAt, &lot.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert lot %s: %w", lot.Code, err)
	}
	return nil
}
