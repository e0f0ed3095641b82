package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/paybridge/internal/domain"
)

// LedgerStore is the only writer of account balances in this service.
type LedgerStore struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

func NewLedgerStore(db *pgxpool.Pool, timeout time.Duration) *LedgerStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LedgerStore{db: db, timeout: timeout}
}

// Credit records the payment and adds its points to the account in one
// transaction. A transaction id that is already recorded, or that another
// transaction records first, yields AlreadyProcessed and leaves the balance
// untouched.
func (l *LedgerStore) Credit(ctx context.Context, p domain.VerifiedPayment) (domain.CreditResult, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return domain.CreditResult{}, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	// 1. Resolve Account
	var accountID int64
	err = tx.QueryRow(ctx, "SELECT id FROM accounts WHERE name = $1", p.AccountUsername).Scan(&accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CreditResult{}, ErrAccountNotFound
		}
		return domain.CreditResult{}, fmt.Errorf("account lookup failed: %w", err)
	}

	// 2. Serialize on the transaction id, then check for a prior record.
	// The lock is held until commit or rollback.
	if _, err = tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", p.TransactionID); err != nil {
		return domain.CreditResult{}, fmt.Errorf("txn lock failed: %w", err)
	}
	var exists bool
	err = tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM payment_records WHERE txn_id = $1)", p.TransactionID,
	).Scan(&exists)
	if err != nil {
		return domain.CreditResult{}, fmt.Errorf("idempotency query failed: %w", err)
	}
	if exists {
		return domain.CreditResult{Outcome: domain.AlreadyProcessed}, nil
	}

	// 3. Record first, so a unique violation aborts before any balance change.
	_, err = tx.Exec(ctx,
		`INSERT INTO payment_records
		 (txn_id, email, account_id, price, currency, points, payer_status, payment_status, created)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.TransactionID, p.PayerEmail, accountID, p.PaidAmount.String(), p.Currency, p.Points,
		p.PayerStatus, p.PaymentStatus, time.Now().UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.CreditResult{Outcome: domain.AlreadyProcessed}, nil
		}
		return domain.CreditResult{}, fmt.Errorf("payment insert failed: %w", err)
	}

	tag, err := tx.Exec(ctx,
		"UPDATE accounts SET coins_transferable = coins_transferable + $1 WHERE id = $2",
		p.Points, accountID,
	)
	if err != nil {
		return domain.CreditResult{}, fmt.Errorf("balance update failed: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return domain.CreditResult{}, fmt.Errorf("balance update touched %d rows", tag.RowsAffected())
	}

	// 4. Commit
	if err = tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.CreditResult{Outcome: domain.AlreadyProcessed}, nil
		}
		return domain.CreditResult{}, fmt.Errorf("tx commit failed: %w", err)
	}

	return domain.CreditResult{Outcome: domain.Credited, Points: p.Points}, nil
}
