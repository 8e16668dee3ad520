package directory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates a missing directory record.
var ErrNotFound = errors.New("directory: not found")

// Repository provides PostgreSQL backed directory lookups.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetCompany returns company settings.
func (r *Repository) GetCompany(ctx context.Context, companyID int64) (Company, error) {
	var c Company
	err := r.pool.QueryRow(ctx, `SELECT id, name, currency FROM companies WHERE id=$1`, companyID).
		Scan(&c.ID, &c.Name, &c.Currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Company{}, ErrNotFound
		}
		return Company{}, err
	}
	return c, nil
}

// FirstUserWithRole returns the lowest-id company user holding the role, or
// a zero User when nobody does. Role membership is read at call time; the
// result may change as memberships change.
func (r *Repository) FirstUserWithRole(ctx context.Context, companyID int64, role string) (User, error) {
	var u User
	err := r.pool.QueryRow(ctx, `SELECT u.id, u.company_id, u.email, u.full_name, u.created_at FROM users u
JOIN user_roles ur ON ur.user_id = u.id
WHERE u.company_id=$1 AND ur.role=$2
ORDER BY u.id ASC LIMIT 1`, companyID, role).Scan(&u.ID, &u.CompanyID, &u.Email, &u.Name, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, nil
		}
		return User{}, err
	}
	return u, nil
}

// UserHasRole reports whether the user holds the role within the company.
func (r *Repository) UserHasRole(ctx context.Context, companyID, userID int64, role string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT true FROM users u
JOIN user_roles ur ON ur.user_id = u.id
WHERE u.company_id=$1 AND u.id=$2 AND ur.role=$3 LIMIT 1`, companyID, userID, role).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return exists, nil
}
