// Package apikeys stores hashed user and team API keys. Keys are looked up
// by their public prefix and are revoked, never deleted.
package apikeys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/feedgate/internal/common"
	"github.com/dmitrijs2005/feedgate/internal/dbx"
	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/google/uuid"
)

// PostgresRepository implements key storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateUserKey(ctx context.Context, key *models.UserAPIKey) error {
	query := `INSERT INTO user_api_keys (id, prefix, hashed_key, name, expiry_date, user_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query,
		key.ID, key.Prefix, key.HashedKey, key.Name, nullTime(key.ExpiryDate), key.UserID).Scan(&key.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CreateTeamKey(ctx context.Context, key *models.TeamAPIKey) error {
	query := `INSERT INTO team_api_keys (id, prefix, hashed_key, name, expiry_date, team_id, user_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	var userID uuid.NullUUID
	if key.UserID != nil {
		userID = uuid.NullUUID{UUID: *key.UserID, Valid: true}
	}
	if key.Status == "" {
		key.Status = models.KeyStatusActive
	}

	err := r.db.QueryRowContext(ctx, query,
		key.ID, key.Prefix, key.HashedKey, key.Name, nullTime(key.ExpiryDate), key.TeamID, userID, string(key.Status)).
		Scan(&key.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetUserKeyByPrefix(ctx context.Context, prefix string) (*models.UserAPIKey, error) {
	query := `SELECT id, prefix, hashed_key, name, revoked, created_at, expiry_date, user_id
		FROM user_api_keys WHERE prefix = $1`

	var (
		k      models.UserAPIKey
		expiry sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, prefix).Scan(
		&k.ID, &k.Prefix, &k.HashedKey, &k.Name, &k.Revoked, &k.CreatedAt, &expiry, &k.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if expiry.Valid {
		k.ExpiryDate = &expiry.Time
	}
	return &k, nil
}

func (r *PostgresRepository) GetTeamKeyByPrefix(ctx context.Context, prefix string) (*models.TeamAPIKey, error) {
	query := `SELECT id, prefix, hashed_key, name, revoked, created_at, expiry_date, team_id, user_id, status, last_used
		FROM team_api_keys WHERE prefix = $1`

	var (
		k        models.TeamAPIKey
		expiry   sql.NullTime
		lastUsed sql.NullTime
		userID   uuid.NullUUID
		status   string
	)
	err := r.db.QueryRowContext(ctx, query, prefix).Scan(
		&k.ID, &k.Prefix, &k.HashedKey, &k.Name, &k.Revoked, &k.CreatedAt, &expiry,
		&k.TeamID, &userID, &status, &lastUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	k.Status = models.KeyStatus(status)
	if expiry.Valid {
		k.ExpiryDate = &expiry.Time
	}
	if lastUsed.Valid {
		k.LastUsed = &lastUsed.Time
	}
	if userID.Valid {
		k.UserID = &userID.UUID
	}
	return &k, nil
}

// TouchTeamKey records a use of the key. Concurrent touches may overwrite
// each other; only the latest timestamp matters.
func (r *PostgresRepository) TouchTeamKey(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE team_api_keys SET last_used = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RevokeUserKey(ctx context.Context, prefix string) error {
	return r.exec(ctx, `UPDATE user_api_keys SET revoked = TRUE WHERE prefix = $1`, prefix)
}

func (r *PostgresRepository) RevokeTeamKey(ctx context.Context, prefix string) error {
	return r.exec(ctx, `UPDATE team_api_keys SET revoked = TRUE WHERE prefix = $1`, prefix)
}

func (r *PostgresRepository) SetTeamKeyStatus(ctx context.Context, prefix string, status models.KeyStatus) error {
	return r.exec(ctx, `UPDATE team_api_keys SET status = $2 WHERE prefix = $1`, prefix, string(status))
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
