package postgres

import (
	"context"

	"metesad/internal/errors"
	"metesad/internal/migration"

	"github.com/jmoiron/sqlx"
)

// Open connects to url and applies the result-table migrations
func Open(ctx context.Context, url string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", url)
	if err != nil {
		return nil, errors.StorageError("failed to connect to database", err)
	}
	if err := migration.NewRunner().Run(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
