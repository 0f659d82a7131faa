// Package principals provides read access to users, teams and team
// memberships.
package principals

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/feedgate/internal/common"
	"github.com/dmitrijs2005/feedgate/internal/dbx"
	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/google/uuid"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT id, email, is_staff FROM users WHERE id = $1`

	u := &models.User{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Email, &u.IsStaff)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

func (r *PostgresRepository) GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	query := `SELECT id, name, is_private, active_billing, feed_limit, allowed_api_access
		FROM teams WHERE id = $1`

	t := &models.Team{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.Name, &t.IsPrivate, &t.ActiveBilling, &t.FeedLimit, &t.AllowedAPIAccess)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) IsMember(ctx context.Context, teamID, userID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM team_memberships WHERE team_id = $1 AND user_id = $2)`

	var ok bool
	if err := r.db.QueryRowContext(ctx, query, teamID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

func (r *PostgresRepository) LockTeam(ctx context.Context, id uuid.UUID) error {
	query := `SELECT id FROM teams WHERE id = $1 FOR UPDATE`

	var locked uuid.UUID
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
