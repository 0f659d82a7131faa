// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/feedgate/internal/dbx"
	"github.com/dmitrijs2005/feedgate/internal/server/migrations"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/apikeys"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/feeds"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/principals"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/subscriptions"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

func (m *PostgresRepositoryManager) APIKeys(db dbx.DBTX) apikeys.Repository {
	return apikeys.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Principals(db dbx.DBTX) principals.Repository {
	return principals.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Feeds(db dbx.DBTX) feeds.Repository {
	return feeds.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Subscriptions(db dbx.DBTX) subscriptions.Repository {
	return subscriptions.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded migrations with goose.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager() RepositoryManager {
	return &PostgresRepositoryManager{}
}
