// Package feeds provides the PostgreSQL-backed feed catalog, including the
// atomic claim used by the sync scheduler.
package feeds

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/feedgate/internal/common"
	"github.com/dmitrijs2005/feedgate/internal/dbx"
	"github.com/dmitrijs2005/feedgate/internal/server/models"
	"github.com/google/uuid"
)

const feedColumns = `id, title, metadata, profile_id, is_public, polling_schedule_minute, job_metadata, next_polling_time, polling, active_job_id`

// orderExpressions maps sortable metadata keys to typed SQL expressions.
var orderExpressions = map[string]string{
	"url":                   `f.metadata->>'url'`,
	"title":                 `f.metadata->>'title'`,
	"feed_type":             `f.metadata->>'feed_type'`,
	"pretty_url":            `f.metadata->>'pretty_url'`,
	"description":           `f.metadata->>'description'`,
	"count_of_posts":        `(f.metadata->>'count_of_posts')::integer`,
	"datetime_added":        `(f.metadata->>'datetime_added')::timestamptz`,
	"latest_item_pubdate":   `(f.metadata->>'latest_item_pubdate')::timestamptz`,
	"earliest_item_pubdate": `(f.metadata->>'earliest_item_pubdate')::timestamptz`,
}

// SortKey splits an order_by value such as "-count_of_posts" into the
// metadata key and direction. ok is false for keys that cannot be sorted on.
func SortKey(orderBy string) (key string, desc bool, ok bool) {
	key, desc = strings.CutPrefix(orderBy, "-")
	_, ok = orderExpressions[key]
	return key, desc, ok
}

// OrderClause renders an ORDER BY clause for an order_by value. Unknown keys
// yield the default ordering.
func OrderClause(orderBy string) string {
	key, desc, ok := SortKey(orderBy)
	if !ok {
		return "ORDER BY f.id"
	}
	expr := orderExpressions[key]
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	return fmt.Sprintf("ORDER BY %s %s NULLS LAST, f.id", expr, dir)
}

// PostgresRepository implements feed storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(s rowScanner, extra ...any) (*models.Feed, error) {
	var (
		f         models.Feed
		profileID uuid.NullUUID
		activeJob uuid.NullUUID
		next      sql.NullTime
	)
	dest := []any{
		&f.ID, &f.Title, &f.Metadata, &profileID, &f.IsPublic, &f.PollingScheduleMinute,
		&f.JobMetadata, &next, &f.Polling, &activeJob,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if profileID.Valid {
		f.ProfileID = &profileID.UUID
	}
	if activeJob.Valid {
		f.ActiveJobID = &activeJob.UUID
	}
	if next.Valid {
		t := next.Time
		f.NextPollingTime = &t
	}
	return &f, nil
}

func scanFeeds(rows *sql.Rows) ([]*models.Feed, error) {
	defer rows.Close()

	var result []*models.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (r *PostgresRepository) Create(ctx context.Context, feed *models.Feed) error {
	query := `INSERT INTO feeds (` + feedColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		feed.ID, feed.Title, feed.Metadata, nullUUID(feed.ProfileID), feed.IsPublic, feed.PollingScheduleMinute,
		feed.JobMetadata, nullTime(feed.NextPollingTime), feed.Polling, nullUUID(feed.ActiveJobID))
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) get(ctx context.Context, id uuid.UUID, suffix string) (*models.Feed, error) {
	query := `SELECT ` + feedColumns + ` FROM feeds WHERE id = $1` + suffix

	f, err := scanFeed(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return f, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*models.Feed, error) {
	return r.get(ctx, id, "")
}

// GetForUpdate locks the feed row until the surrounding transaction ends.
func (r *PostgresRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Feed, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *PostgresRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM feeds WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

type whereBuilder struct {
	conds []string
	args  []any
}

// arg binds v and returns its placeholder.
func (w *whereBuilder) arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *whereBuilder) add(cond string, v any) {
	w.conds = append(w.conds, strings.Replace(cond, "?", w.arg(v), 1))
}

func (w *whereBuilder) addRaw(cond string) {
	w.conds = append(w.conds, cond)
}

func (w *whereBuilder) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (w *whereBuilder) page(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	return " LIMIT " + w.arg(limit) + " OFFSET " + w.arg(offset)
}

func (w *whereBuilder) filter(f ListFilter) {
	if f.PublicOnly {
		w.addRaw("f.is_public")
	}
	if f.ProfileID != nil {
		w.add("f.profile_id = ?", *f.ProfileID)
	}
	if f.Title != "" {
		w.add("f.metadata->>'title' ILIKE ?", "%"+escapeLike(f.Title)+"%")
	}
}

func subscribedExpr(teamArg string) string {
	return `EXISTS (SELECT 1 FROM feed_subscriptions s WHERE s.feed_id = f.id AND s.team_id = ` + teamArg + `)`
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *PostgresRepository) count(ctx context.Context, where *whereBuilder) (int, error) {
	var total int
	query := `SELECT COUNT(*) FROM feeds f` + where.String()
	if err := r.db.QueryRowContext(ctx, query, where.args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return total, nil
}

// List returns one page of feeds and the total number of matching rows.
func (r *PostgresRepository) List(ctx context.Context, f ListFilter) ([]*models.Feed, int, error) {
	where := &whereBuilder{}
	where.filter(f)

	total, err := r.count(ctx, where)
	if err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + prefixed("f.", feedColumns) + ` FROM feeds f` + where.String() + " " + OrderClause(f.OrderBy)
	query += where.page(f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, where.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}
	feeds, err := scanFeeds(rows)
	if err != nil {
		return nil, 0, err
	}
	return feeds, total, nil
}

// ListForTeam pages through public feeds, flagging those teamID subscribes to.
func (r *PostgresRepository) ListForTeam(ctx context.Context, teamID uuid.UUID, f TeamFilter) ([]*models.TeamFeed, int, error) {
	where := &whereBuilder{}
	f.PublicOnly = true
	where.filter(f.ListFilter)

	var teamArg string
	if f.OnlySubscribed {
		teamArg = where.arg(teamID)
		where.addRaw(subscribedExpr(teamArg))
	}

	total, err := r.count(ctx, where)
	if err != nil {
		return nil, 0, err
	}
	if teamArg == "" {
		teamArg = where.arg(teamID)
	}

	query := `SELECT ` + prefixed("f.", feedColumns) + `, ` + subscribedExpr(teamArg) + ` FROM feeds f` + where.String() + " " + OrderClause(f.OrderBy)
	query += where.page(f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, where.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.TeamFeed
	for rows.Next() {
		var isSubscribed bool
		feed, err := scanFeed(rows, &isSubscribed)
		if err != nil {
			return nil, 0, fmt.Errorf("db error: %w", err)
		}
		result = append(result, &models.TeamFeed{Feed: *feed, IsSubscribed: isSubscribed})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}
	return result, total, nil
}

// GetForTeam returns a public feed annotated with the team's subscription.
func (r *PostgresRepository) GetForTeam(ctx context.Context, teamID, id uuid.UUID) (*models.TeamFeed, error) {
	query := `SELECT ` + prefixed("f.", feedColumns) + `, ` + subscribedExpr("$1") + `
		FROM feeds f WHERE f.id = $2 AND f.is_public`

	var isSubscribed bool
	feed, err := scanFeed(r.db.QueryRowContext(ctx, query, teamID, id), &isSubscribed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &models.TeamFeed{Feed: *feed, IsSubscribed: isSubscribed}, nil
}

func (r *PostgresRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Feed, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := `SELECT ` + feedColumns + ` FROM feeds WHERE id IN (` + strings.Join(placeholders, ", ") + `)`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return scanFeeds(rows)
}

// Update writes every mutable column of feed.
func (r *PostgresRepository) Update(ctx context.Context, feed *models.Feed) error {
	query := `UPDATE feeds SET title = $2, metadata = $3, profile_id = $4, is_public = $5,
		polling_schedule_minute = $6, job_metadata = $7, next_polling_time = $8, polling = $9, active_job_id = $10
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query,
		feed.ID, feed.Title, feed.Metadata, nullUUID(feed.ProfileID), feed.IsPublic, feed.PollingScheduleMinute,
		feed.JobMetadata, nullTime(feed.NextPollingTime), feed.Polling, nullUUID(feed.ActiveJobID))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM feeds WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

func (r *PostgresRepository) ClaimDue(ctx context.Context, now, staleBefore time.Time) ([]*models.Feed, error) {
	query := `UPDATE feeds SET polling = TRUE, polling_claimed_at = $1
		WHERE polling_schedule_minute > 0
		  AND (polling = FALSE OR polling_claimed_at IS NULL OR polling_claimed_at <= $2)
		  AND (next_polling_time IS NULL OR next_polling_time <= $1)
		RETURNING ` + feedColumns

	rows, err := r.db.QueryContext(ctx, query, now, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return scanFeeds(rows)
}

func (r *PostgresRepository) ReleasePolling(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE feeds SET polling = FALSE, polling_claimed_at = NULL WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListWithActiveJob(ctx context.Context) ([]*models.Feed, error) {
	query := `SELECT ` + feedColumns + ` FROM feeds WHERE active_job_id IS NOT NULL`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return scanFeeds(rows)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = prefix + p
	}
	return strings.Join(parts, ", ")
}
