package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/feedgate/internal/dbx"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/apikeys"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/feeds"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/principals"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/subscriptions"
)

// RepositoryManager vends repositories bound to a *sql.DB or an open
// transaction, so services can run several of them inside one dbx.WithTx.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	APIKeys(db dbx.DBTX) apikeys.Repository
	Principals(db dbx.DBTX) principals.Repository
	Feeds(db dbx.DBTX) feeds.Repository
	Subscriptions(db dbx.DBTX) subscriptions.Repository
}
