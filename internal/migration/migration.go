package migration

import (
	"context"

	"metesad/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner creates the result tables mirrored from the CSV store
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Statements returns the DDL in execution order
func (r *MigrationRunner) Statements() []string {
	return []string{
		createFitsTable,
		createObsPredTable,
		createBatchesTable,
		createReplicatesTable,
		createNullSummariesTable,
		createFailuresTable,
		"CREATE INDEX IF NOT EXISTS idx_fits_dataset ON sad_fits(dataset)",
		"CREATE INDEX IF NOT EXISTS idx_obs_pred_dataset ON sad_obs_pred(dataset, site)",
		"CREATE INDEX IF NOT EXISTS idx_batches_dataset ON sad_batches(dataset)",
		"CREATE INDEX IF NOT EXISTS idx_failures_dataset ON sad_failures(dataset)",
	}
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.StorageError("begin migration", err)
	}
	defer tx.Rollback()

	for _, stmt := range r.Statements() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.StorageError("migration failed", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.StorageError("commit migration", err)
	}
	return nil
}

const createFitsTable = `
	CREATE TABLE IF NOT EXISTS sad_fits (
		dataset TEXT NOT NULL,
		site TEXT NOT NULL,
		model TEXT NOT NULL,
		s0 INTEGER NOT NULL,
		n0 INTEGER NOT NULL,
		k INTEGER NOT NULL,
		params DOUBLE PRECISION[] NOT NULL DEFAULT '{}',
		log_likelihood DOUBLE PRECISION,
		aicc DOUBLE PRECISION,
		r_squared DOUBLE PRECISION,
		akaike_weight DOUBLE PRECISION,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		PRIMARY KEY (dataset, site, model)
	)`

const createObsPredTable = `
	CREATE TABLE IF NOT EXISTS sad_obs_pred (
		dataset TEXT NOT NULL,
		site TEXT NOT NULL,
		rank INTEGER NOT NULL,
		obs INTEGER NOT NULL,
		pred INTEGER NOT NULL,
		PRIMARY KEY (dataset, site, rank)
	)`

const createBatchesTable = `
	CREATE TABLE IF NOT EXISTS sad_batches (
		run_id TEXT PRIMARY KEY,
		dataset TEXT NOT NULL,
		site TEXT NOT NULL,
		model TEXT NOT NULL,
		seed BIGINT NOT NULL,
		s0 INTEGER NOT NULL,
		n0 INTEGER NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		UNIQUE (dataset, site, model)
	)`

const createReplicatesTable = `
	CREATE TABLE IF NOT EXISTS sad_replicates (
		run_id TEXT NOT NULL REFERENCES sad_batches(run_id) ON DELETE CASCADE,
		idx INTEGER NOT NULL,
		sampler TEXT NOT NULL,
		log_likelihood DOUBLE PRECISION,
		aicc DOUBLE PRECISION,
		r_squared DOUBLE PRECISION,
		PRIMARY KEY (run_id, idx)
	)`

const createNullSummariesTable = `
	CREATE TABLE IF NOT EXISTS sad_null_summaries (
		dataset TEXT NOT NULL,
		site TEXT NOT NULL,
		model TEXT NOT NULL,
		replicates INTEGER NOT NULL,
		observed_r2 DOUBLE PRECISION,
		mean_r2 DOUBLE PRECISION,
		sd_r2 DOUBLE PRECISION,
		lower_r2 DOUBLE PRECISION,
		median_r2 DOUBLE PRECISION,
		upper_r2 DOUBLE PRECISION,
		p_r2 DOUBLE PRECISION,
		observed_ll DOUBLE PRECISION,
		mean_ll DOUBLE PRECISION,
		p_ll DOUBLE PRECISION,
		PRIMARY KEY (dataset, site, model)
	)`

const createFailuresTable = `
	CREATE TABLE IF NOT EXISTS sad_failures (
		id BIGSERIAL PRIMARY KEY,
		dataset TEXT NOT NULL,
		site TEXT NOT NULL,
		stage TEXT NOT NULL,
		code TEXT NOT NULL,
		reason TEXT NOT NULL,
		recorded_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`
