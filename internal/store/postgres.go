package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/paybridge/internal/domain"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrAgreementNotFound = errors.New("agreement not found")
)

type Store struct {
	Db *pgxpool.Pool
}

func NewStore(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// FindAccount resolves a username to its account.
func (s *Store) FindAccount(ctx context.Context, username string) (*domain.Account, error) {
	var acc domain.Account
	err := s.Db.QueryRow(ctx,
		"SELECT id, name, coins_transferable FROM accounts WHERE name = $1", username,
	).Scan(&acc.ID, &acc.Name, &acc.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("account lookup failed: %w", err)
	}
	return &acc, nil
}

// InsertAgreement appends an acceptance record. acceptedAt is stored to the
// second.
func (s *Store) InsertAgreement(ctx context.Context, accountID int64, ip, userAgent string, acceptedAt time.Time) (*domain.Agreement, error) {
	a := domain.Agreement{
		AccountID:  accountID,
		AcceptedAt: acceptedAt.UTC().Truncate(time.Second),
		IPAddress:  ip,
		UserAgent:  userAgent,
	}
	err := s.Db.QueryRow(ctx,
		"INSERT INTO agreement_records (account_id, accepted_at, ip_address, user_agent) VALUES ($1, $2, $3, $4) RETURNING id",
		a.AccountID, a.AcceptedAt, a.IPAddress, a.UserAgent,
	).Scan(&a.ID)
	if err != nil {
		return nil, fmt.Errorf("agreement insert failed: %w", err)
	}
	return &a, nil
}

// GetAgreement returns an agreement only if it was issued to accountID.
func (s *Store) GetAgreement(ctx context.Context, id, accountID int64) (*domain.Agreement, error) {
	a := domain.Agreement{ID: id, AccountID: accountID}
	err := s.Db.QueryRow(ctx,
		"SELECT accepted_at, ip_address, user_agent FROM agreement_records WHERE id = $1 AND account_id = $2",
		id, accountID,
	).Scan(&a.AcceptedAt, &a.IPAddress, &a.UserAgent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAgreementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("agreement lookup failed: %w", err)
	}
	return &a, nil
}

// ListPayments returns one page of an account's payments, newest first, and
// the total number of payments for the account.
func (s *Store) ListPayments(ctx context.Context, accountID int64, limit, offset int) ([]domain.PaymentRecord, int64, error) {
	var total int64
	if err := s.Db.QueryRow(ctx,
		"SELECT COUNT(*) FROM payment_records WHERE account_id = $1", accountID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("payment count failed: %w", err)
	}

	rows, err := s.Db.Query(ctx,
		`SELECT id, txn_id, email, price::text, currency, points, payer_status, payment_status, created
		 FROM payment_records WHERE account_id = $1
		 ORDER BY created DESC, id DESC LIMIT $2 OFFSET $3`,
		accountID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("payment query failed: %w", err)
	}
	defer rows.Close()

	records := make([]domain.PaymentRecord, 0, limit)
	for rows.Next() {
		r := domain.PaymentRecord{AccountID: accountID}
		var price string
		if err := rows.Scan(&r.ID, &r.TransactionID, &r.PayerEmail, &price, &r.Currency, &r.Points,
			&r.PayerStatus, &r.PaymentStatus, &r.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("payment scan failed: %w", err)
		}
		if r.PaidAmount, err = decimal.NewFromString(price); err != nil {
			return nil, 0, fmt.Errorf("payment %s has bad price %q: %w", r.TransactionID, price, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("payment rows failed: %w", err)
	}
	return records, total, nil
}

// CountPayments returns how many records exist for a transaction id.
func (s *Store) CountPayments(ctx context.Context, txnID string) (int, error) {
	var n int
	err := s.Db.QueryRow(ctx, "SELECT COUNT(*) FROM payment_records WHERE txn_id = $1", txnID).Scan(&n)
	return n, err
}
