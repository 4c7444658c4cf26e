package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
	"vidgen/internal/sqlinline"
)

// UserRepositoryPG reads and updates user accounts.
type UserRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewUserRepository creates a new UserRepositoryPG.
func NewUserRepository(sql infra.SQLExecutor) *UserRepositoryPG {
	return &UserRepositoryPG{sql: sql}
}

// GetByID fetches a user by UUID.
func (r *UserRepositoryPG) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(r.sql.QueryRow(ctx, sqlinline.QSelectUserByID, id))
}

// GetByEmail fetches a user by case-insensitive email.
func (r *UserRepositoryPG) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return scanUser(r.sql.QueryRow(ctx, sqlinline.QSelectUserByEmail, email))
}

// Plan returns the billing plan of the user. Satisfies the tier lookup used during delivery.
func (r *UserRepositoryPG) Plan(ctx context.Context, id string) (domain.UserPlan, error) {
	u, err := r.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return u.Plan, nil
}

// SetPlan switches the user's plan and returns the updated record.
func (r *UserRepositoryPG) SetPlan(ctx context.Context, id string, plan domain.UserPlan) (*domain.User, error) {
	if !plan.Valid() {
		return nil, fmt.Errorf("unsupported plan %q", plan)
	}
	return scanUser(r.sql.QueryRow(ctx, sqlinline.QUpdateUserPlan, id, string(plan)))
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u    domain.User
		plan string
	)
	if err := row.Scan(&u.ID, &u.Email, &plan, &u.CreditBalance, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	u.Plan = domain.UserPlan(plan)
	return &u, nil
}
