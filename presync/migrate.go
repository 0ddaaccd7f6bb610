// Copyright 2025 Fabian Lopez
// SPDX-License-Identifier: Apache-2.0

package presync

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"

	"github.com/fabianlopezdev/usa-presence-calculator-sub003/presync/migrations"
)

// RunMigrations applies the embedded sync schema migrations through goose.
// The *sql.DB is typically opened from the pgx pool via stdlib.OpenDBFromPool.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}
