package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrationLockKey is the session advisory lock that keeps concurrent
// starters from racing each other through the DDL.
const migrationLockKey int64 = 0x70617962

var schema = []string{
	`CREATE TABLE IF NOT EXISTS payment_records (
		id             BIGSERIAL PRIMARY KEY,
		txn_id         VARCHAR(64)   NOT NULL,
		email          VARCHAR(255)  NOT NULL,
		account_id     BIGINT        NOT NULL,
		price          NUMERIC(14,4) NOT NULL,
		currency       CHAR(3)       NOT NULL,
		points         BIGINT        NOT NULL,
		payer_status   VARCHAR(32)   NOT NULL DEFAULT '',
		payment_status VARCHAR(32)   NOT NULL,
		created        TIMESTAMPTZ   NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS payment_records_txn_id_key ON payment_records (txn_id)`,
	`CREATE INDEX IF NOT EXISTS payment_records_account_created_idx ON payment_records (account_id, created DESC)`,
	`CREATE TABLE IF NOT EXISTS agreement_records (
		id          BIGSERIAL PRIMARY KEY,
		account_id  BIGINT      NOT NULL,
		accepted_at TIMESTAMPTZ NOT NULL,
		ip_address  VARCHAR(64) NOT NULL DEFAULT '',
		user_agent  TEXT        NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS agreement_records_account_idx ON agreement_records (account_id)`,
}

// accountsSchema matches the shape of the game server's accounts table. It is
// only created by development tooling and tests; production owns it.
var accountsSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id                 BIGSERIAL PRIMARY KEY,
		name               VARCHAR(32) NOT NULL UNIQUE,
		coins_transferable INTEGER     NOT NULL DEFAULT 0
	)`,
}

// Migrate creates the payment and agreement tables.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	return runLocked(ctx, pool, schema)
}

// MigrateAccounts creates a stand-in accounts table for local use.
func MigrateAccounts(ctx context.Context, pool *pgxpool.Pool) error {
	return runLocked(ctx, pool, accountsSchema)
}

func runLocked(ctx context.Context, pool *pgxpool.Pool, stmts []string) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("migration lock failed: %w", err)
	}
	defer func() {
		if _, err := conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockKey); err != nil {
			slog.Warn("migration unlock failed", "error", err)
		}
	}()

	for _, stmt := range stmts {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			if alreadyExists(err) {
				slog.Debug("schema object already exists", "error", err)
				continue
			}
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func alreadyExists(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "42P07", "42710", "23505":
		return true
	}
	return false
}
