package service

import (
	"context"
	"sync"
	"time"

	"github.com/punchamoorthee/paybridge/internal/domain"
	"github.com/punchamoorthee/paybridge/internal/paypal"
	"github.com/punchamoorthee/paybridge/internal/store"
)

type mockOrders struct {
	GetOrderFunc func(ctx context.Context, id string) (*paypal.Order, error)
	calls        int
}

func (m *mockOrders) GetOrder(ctx context.Context, id string) (*paypal.Order, error) {
	m.calls++
	return m.GetOrderFunc(ctx, id)
}

type mockIPN struct {
	mu     sync.Mutex
	answer string
	err    error
	got    []byte
}

func (m *mockIPN) ValidateNotification(_ context.Context, raw []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = raw
	return m.answer, m.err
}

// memLedger credits at most once per transaction id.
type memLedger struct {
	mu       sync.Mutex
	seen     map[string]bool
	balances map[string]int64
	err      error
	calls    int
}

func newMemLedger(users ...string) *memLedger {
	l := &memLedger{seen: map[string]bool{}, balances: map[string]int64{}}
	for _, u := range users {
		l.balances[u] = 0
	}
	return l
}

func (l *memLedger) Credit(_ context.Context, p domain.VerifiedPayment) (domain.CreditResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return domain.CreditResult{}, l.err
	}
	if _, ok := l.balances[p.AccountUsername]; !ok {
		return domain.CreditResult{}, store.ErrAccountNotFound
	}
	if l.seen[p.TransactionID] {
		return domain.CreditResult{Outcome: domain.AlreadyProcessed}, nil
	}
	l.seen[p.TransactionID] = true
	l.balances[p.AccountUsername] += p.Points
	return domain.CreditResult{Outcome: domain.Credited, Points: p.Points}, nil
}

type mockAccounts struct {
	accounts   map[string]int64
	agreements map[int64]int64 // agreement id -> account id
	payments   []domain.PaymentRecord
	inserted   []domain.Agreement
}

func (m *mockAccounts) FindAccount(_ context.Context, username string) (*domain.Account, error) {
	id, ok := m.accounts[username]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	return &domain.Account{ID: id, Name: username}, nil
}

func (m *mockAccounts) InsertAgreement(_ context.Context, accountID int64, ip, ua string, at time.Time) (*domain.Agreement, error) {
	a := domain.Agreement{ID: int64(len(m.inserted) + 1), AccountID: accountID, AcceptedAt: at, IPAddress: ip, UserAgent: ua}
	m.inserted = append(m.inserted, a)
	return &a, nil
}

func (m *mockAccounts) GetAgreement(_ context.Context, id, accountID int64) (*domain.Agreement, error) {
	if owner, ok := m.agreements[id]; ok && owner == accountID {
		return &domain.Agreement{ID: id, AccountID: accountID}, nil
	}
	return nil, store.ErrAgreementNotFound
}

func (m *mockAccounts) ListPayments(_ context.Context, accountID int64, limit, offset int) ([]domain.PaymentRecord, int64, error) {
	var mine []domain.PaymentRecord
	for _, p := range m.payments {
		if p.AccountID == accountID {
			mine = append(mine, p)
		}
	}
	total := int64(len(mine))
	if offset >= len(mine) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(mine) {
		end = len(mine)
	}
	return mine[offset:end], total, nil
}

type recordingSink struct {
	mu      sync.Mutex
	entries []string
}

func (r *recordingSink) Record(label, content string) {
	r.mu.Lock()
	r.entries = append(r.entries, label+":"+content)
	r.mu.Unlock()
}
