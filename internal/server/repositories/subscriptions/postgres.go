// Package subscriptions stores team-to-feed subscriptions. Each pair is
// unique; deleting a feed cascades to its subscriptions.
package subscriptions

import (
	"context"
	"database/sql"
	"fmt"

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

func (r *PostgresRepository) Create(ctx context.Context, sub *models.Subscription) (bool, error) {
	query := `INSERT INTO feed_subscriptions (id, feed_id, team_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (feed_id, team_id) DO NOTHING`

	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	res, err := r.db.ExecContext(ctx, query, sub.ID, sub.FeedID, sub.TeamID)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, teamID, feedID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM feed_subscriptions WHERE team_id = $1 AND feed_id = $2`, teamID, feedID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) CountByTeam(ctx context.Context, teamID uuid.UUID) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feed_subscriptions WHERE team_id = $1`, teamID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Exists(ctx context.Context, teamID, feedID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM feed_subscriptions WHERE team_id = $1 AND feed_id = $2)`

	var ok bool
	if err := r.db.QueryRowContext(ctx, query, teamID, feedID).Scan(&ok); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

func (r *PostgresRepository) FeedIDsByTeam(ctx context.Context, teamID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT feed_id FROM feed_subscriptions WHERE team_id = $1`, teamID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return ids, nil
}

// SubscribedFeeds returns the feeds teamID subscribes to, in the projection
// exposed to team API keys.
func (r *PostgresRepository) SubscribedFeeds(ctx context.Context, teamID uuid.UUID) ([]*models.SubscribedFeed, error) {
	query := `SELECT f.id, f.profile_id, f.metadata, f.next_polling_time
		FROM feed_subscriptions s JOIN feeds f ON f.id = s.feed_id
		WHERE s.team_id = $1
		ORDER BY f.id`

	rows, err := r.db.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.SubscribedFeed
	for rows.Next() {
		var (
			f         models.SubscribedFeed
			profileID uuid.NullUUID
			next      sql.NullTime
		)
		if err := rows.Scan(&f.ID, &profileID, &f.Metadata, &next); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if profileID.Valid {
			f.ProfileID = &profileID.UUID
		}
		if next.Valid {
			f.NextPollingTime = &next.Time
		}
		result = append(result, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}
