//go:build integration

package store

import (
	"context"
	"errors"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/paybridge/internal/domain"
)

// Run with: PAYBRIDGE_TEST_DATABASE_URL=postgres://... go test -tags integration ./internal/store/
func setupStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("PAYBRIDGE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PAYBRIDGE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := NewStore(ctx, url)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(s.Close)
	if err := MigrateAccounts(ctx, s.Db); err != nil {
		t.Fatalf("MigrateAccounts() error = %v", err)
	}
	if err := Migrate(ctx, s.Db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return s
}

func createAccount(t *testing.T, s *Store) string {
	t.Helper()
	name := "t_" + uuid.NewString()[:20]
	var id int64
	if err := s.Db.QueryRow(context.Background(),
		"INSERT INTO accounts (name, coins_transferable) VALUES ($1, 0) RETURNING id", name,
	).Scan(&id); err != nil {
		t.Fatalf("create account: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		s.Db.Exec(ctx, "DELETE FROM payment_records WHERE account_id = $1", id)
		s.Db.Exec(ctx, "DELETE FROM agreement_records WHERE account_id = $1", id)
		s.Db.Exec(ctx, "DELETE FROM accounts WHERE id = $1", id)
	})
	return name
}

func balance(t *testing.T, s *Store, name string) int64 {
	t.Helper()
	acc, err := s.FindAccount(context.Background(), name)
	if err != nil {
		t.Fatal(err)
	}
	return acc.Balance
}

func payment(user string, txn string, points int64) domain.VerifiedPayment {
	return domain.VerifiedPayment{
		TransactionID:   txn,
		PaidAmount:      decimal.RequireFromString("10.00"),
		Currency:        "EUR",
		PayerEmail:      "payer@example.com",
		AccountUsername: user,
		Points:          points,
		PayerStatus:     "verified",
		PaymentStatus:   "Completed",
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := setupStore(t)
	if err := Migrate(context.Background(), s.Db); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestCreditTwiceSequential(t *testing.T) {
	s := setupStore(t)
	l := NewLedgerStore(s.Db, 5*time.Second)
	user := createAccount(t, s)
	txn := "T-" + uuid.NewString()

	res, err := l.Credit(context.Background(), payment(user, txn, 2200))
	if err != nil || res.Outcome != domain.Credited || res.Points != 2200 {
		t.Fatalf("first Credit() = %+v, %v", res, err)
	}
	res, err = l.Credit(context.Background(), payment(user, txn, 2200))
	if err != nil || res.Outcome != domain.AlreadyProcessed {
		t.Fatalf("second Credit() = %+v, %v", res, err)
	}

	if got := balance(t, s, user); got != 2200 {
		t.Errorf("balance = %d, want 2200", got)
	}
	if n, _ := s.CountPayments(context.Background(), txn); n != 1 {
		t.Errorf("payment records = %d, want 1", n)
	}
}

func TestCreditConcurrentDuplicates(t *testing.T) {
	s := setupStore(t)
	l := NewLedgerStore(s.Db, 5*time.Second)
	user := createAccount(t, s)
	txn := "T-" + uuid.NewString()

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan domain.CreditResult, workers)
	errs := make(chan error, workers)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := l.Credit(context.Background(), payment(user, txn, 100))
			if err != nil {
				errs <- err
				return
			}
			results <- res
		}()
	}
	close(start)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Errorf("Credit() error = %v", err)
	}
	credited := 0
	for res := range results {
		if res.Outcome == domain.Credited {
			credited++
		}
	}
	if credited != 1 {
		t.Errorf("credited %d times, want 1", credited)
	}
	if got := balance(t, s, user); got != 100 {
		t.Errorf("balance = %d, want 100", got)
	}
	if n, _ := s.CountPayments(context.Background(), txn); n != 1 {
		t.Errorf("payment records = %d, want 1", n)
	}
}

func TestCreditUnknownUser(t *testing.T) {
	s := setupStore(t)
	l := NewLedgerStore(s.Db, 5*time.Second)
	txn := "T-" + uuid.NewString()

	_, err := l.Credit(context.Background(), payment("nobody-"+uuid.NewString()[:8], txn, 100))
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("Credit() error = %v, want ErrAccountNotFound", err)
	}
	if n, _ := s.CountPayments(context.Background(), txn); n != 0 {
		t.Errorf("payment records = %d, want 0", n)
	}
}

func TestCreditRollsBackWhenBalanceUpdateFails(t *testing.T) {
	s := setupStore(t)
	l := NewLedgerStore(s.Db, 5*time.Second)
	user := createAccount(t, s)
	txn := "T-" + uuid.NewString()

	// coins_transferable is an INTEGER; this overflows after the insert ran.
	_, err := l.Credit(context.Background(), payment(user, txn, math.MaxInt32+1))
	if err == nil {
		t.Fatal("Credit() succeeded, want overflow error")
	}
	if n, _ := s.CountPayments(context.Background(), txn); n != 0 {
		t.Errorf("payment records = %d after failed credit, want 0", n)
	}
	if got := balance(t, s, user); got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}

	// The transaction id stays usable for a later, valid delivery.
	res, err := l.Credit(context.Background(), payment(user, txn, 100))
	if err != nil || res.Outcome != domain.Credited {
		t.Fatalf("retry Credit() = %+v, %v", res, err)
	}
}

func TestAgreementsAndHistory(t *testing.T) {
	s := setupStore(t)
	l := NewLedgerStore(s.Db, 5*time.Second)
	ctx := context.Background()
	user := createAccount(t, s)
	other := createAccount(t, s)

	acc, err := s.FindAccount(ctx, user)
	if err != nil {
		t.Fatal(err)
	}
	otherAcc, err := s.FindAccount(ctx, other)
	if err != nil {
		t.Fatal(err)
	}

	a, err := s.InsertAgreement(ctx, acc.ID, "203.0.113.7", "test-agent", time.Now())
	if err != nil {
		t.Fatalf("InsertAgreement() error = %v", err)
	}
	if a.ID == 0 || a.AcceptedAt.Nanosecond() != 0 {
		t.Errorf("agreement = %+v", a)
	}
	if _, err := s.GetAgreement(ctx, a.ID, acc.ID); err != nil {
		t.Errorf("GetAgreement(own) error = %v", err)
	}
	if _, err := s.GetAgreement(ctx, a.ID, otherAcc.ID); !errors.Is(err, ErrAgreementNotFound) {
		t.Errorf("GetAgreement(other) error = %v, want ErrAgreementNotFound", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := l.Credit(ctx, payment(user, "T-"+uuid.NewString(), 10)); err != nil {
			t.Fatal(err)
		}
	}
	page, total, err := s.ListPayments(ctx, acc.ID, 2, 0)
	if err != nil {
		t.Fatalf("ListPayments() error = %v", err)
	}
	if total != 3 || len(page) != 2 {
		t.Errorf("ListPayments() = %d records, total %d", len(page), total)
	}
	if !page[0].PaidAmount.Equal(decimal.RequireFromString("10")) {
		t.Errorf("price = %s", page[0].PaidAmount)
	}
}
