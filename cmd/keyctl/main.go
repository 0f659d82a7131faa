package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/feedgate/internal/keyctl"
	"github.com/dmitrijs2005/feedgate/internal/logging"
	"github.com/dmitrijs2005/feedgate/internal/server/config"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/feedgate/internal/server/services"
)

func main() {
	cfg := config.LoadFromEnv()
	logger := logging.New(os.Stderr, cfg.LogLevel)

	open := func(ctx context.Context, dsn string) (keyctl.KeyAdmin, io.Closer, error) {
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return services.NewKeyService(db, repomanager.NewPostgresRepositoryManager(), logger), db, nil
	}

	if err := keyctl.NewRootCmd(open, cfg.DatabaseDSN, os.Stdin).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
