// Package directory is the read-only view of the identity and business
// directory services this core depends on.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stampcard/loyalty-api/internal/pkg/apperr"
)

const queryTimeout = 3 * time.Second

// Identity answers questions about users.
type Identity interface {
	IsActive(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Businesses answers questions about businesses and their locations.
type Businesses interface {
	BusinessExists(ctx context.Context, businessID uuid.UUID) (bool, error)
	LocationBelongsToBusiness(ctx context.Context, locationID, businessID uuid.UUID) (bool, error)
}

// Repository implements Identity and Businesses on the shared database.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) IsActive(ctx context.Context, userID uuid.UUID) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND is_active)`, userID)
}

func (r *Repository) BusinessExists(ctx context.Context, businessID uuid.UUID) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM businesses WHERE id = $1 AND is_active)`, businessID)
}

func (r *Repository) LocationBelongsToBusiness(ctx context.Context, locationID, businessID uuid.UUID) (bool, error) {
	return r.exists(ctx, `
		SELECT EXISTS (SELECT 1 FROM business_locations WHERE id = $1 AND business_id = $2)
	`, locationID, businessID)
}

func (r *Repository) exists(ctx context.Context, query string, args ...interface{}) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var ok bool
	if err := r.db.GetContext(ctx2, &ok, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("%w: directory lookup", apperr.ErrInternal)
	}
	return ok, nil
}
