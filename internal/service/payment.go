package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/punchamoorthee/paybridge/internal/audit"
	"github.com/punchamoorthee/paybridge/internal/domain"
	"github.com/punchamoorthee/paybridge/internal/store"
)

const (
	historyPageSize = 25
	maxHistoryPage  = math.MaxInt / historyPageSize
)

type Ledger interface {
	Credit(ctx context.Context, p domain.VerifiedPayment) (domain.CreditResult, error)
}

type AccountStore interface {
	FindAccount(ctx context.Context, username string) (*domain.Account, error)
	InsertAgreement(ctx context.Context, accountID int64, ip, userAgent string, acceptedAt time.Time) (*domain.Agreement, error)
	GetAgreement(ctx context.Context, id, accountID int64) (*domain.Agreement, error)
	ListPayments(ctx context.Context, accountID int64, limit, offset int) ([]domain.PaymentRecord, int64, error)
}

type PaymentService struct {
	verifier         *Verifier
	ledger           Ledger
	accounts         AccountStore
	audit            audit.Sink
	enforceAgreement bool
}

func NewPaymentService(v *Verifier, l Ledger, accounts AccountStore, sink audit.Sink, enforceAgreement bool) *PaymentService {
	if sink == nil {
		sink = audit.Nop
	}
	return &PaymentService{
		verifier:         v,
		ledger:           l,
		accounts:         accounts,
		audit:            sink,
		enforceAgreement: enforceAgreement,
	}
}

// Complete handles the client callback. All provider round-trips happen
// before the ledger transaction opens.
func (s *PaymentService) Complete(ctx context.Context, req domain.CompleteRequest) (domain.CreditResult, error) {
	if err := checkCompleteRequest(req); err != nil {
		return domain.CreditResult{}, err
	}
	if s.enforceAgreement {
		if err := s.checkAgreement(ctx, req); err != nil {
			return domain.CreditResult{}, err
		}
	}

	vp, err := s.verifier.VerifyOrder(ctx, req)
	if err != nil {
		slog.Info("order rejected", "order_id", req.OrderID, "username", req.Username, "error", err)
		return domain.CreditResult{}, err
	}

	res, err := s.ledger.Credit(ctx, vp)
	if err != nil {
		return domain.CreditResult{}, err
	}
	slog.Info("order processed", "txn_id", vp.TransactionID, "username", vp.AccountUsername,
		"points", vp.Points, "outcome", res.Outcome.String())
	return res, nil
}

func (s *PaymentService) checkAgreement(ctx context.Context, req domain.CompleteRequest) error {
	id, err := req.AgreementID.Int64()
	if err != nil || id <= 0 {
		return fmt.Errorf("%w: agreement_id %q", ErrBadRequest, req.AgreementID)
	}
	acc, err := s.accounts.FindAccount(ctx, req.Username)
	if err != nil {
		return err
	}
	if _, err := s.accounts.GetAgreement(ctx, id, acc.ID); err != nil {
		if errors.Is(err, store.ErrAgreementNotFound) {
			return fmt.Errorf("%w: agreement %d", ErrAgreementMismatch, id)
		}
		return err
	}
	return nil
}

// HandleNotification processes a provider-initiated IPN. The full exchange
// goes to the audit sink whatever the outcome.
func (s *PaymentService) HandleNotification(ctx context.Context, raw []byte) (res domain.CreditResult, err error) {
	var b strings.Builder
	fmt.Fprintf(&b, "IPN RECEIVED:\n%s\n", raw)
	defer func() {
		if err != nil {
			fmt.Fprintf(&b, "ERROR: %v\n", err)
		} else if res.Outcome == domain.AlreadyProcessed {
			b.WriteString("DUPLICATE: already processed.\n")
		}
		s.audit.Record("ipn", b.String())
	}()

	vp, answer, err := s.verifier.VerifyNotification(ctx, raw)
	fmt.Fprintf(&b, "Verification: %s\n", answer)
	if err != nil {
		slog.Warn("notification rejected", "error", err)
		return domain.CreditResult{}, err
	}

	res, err = s.ledger.Credit(ctx, vp)
	if err != nil {
		return domain.CreditResult{}, err
	}
	if res.Outcome == domain.Credited {
		fmt.Fprintf(&b, "SUCCESS: %d points added to '%s'.\n", res.Points, vp.AccountUsername)
	}
	slog.Info("notification processed", "txn_id", vp.TransactionID, "username", vp.AccountUsername,
		"points", vp.Points, "outcome", res.Outcome.String())
	return res, nil
}

// History returns a page of the user's purchases. Pages start at 1.
func (s *PaymentService) History(ctx context.Context, username string, page int) (domain.PaymentPage, error) {
	if page < 1 {
		page = 1
	}
	acc, err := s.accounts.FindAccount(ctx, username)
	if err != nil {
		return domain.PaymentPage{}, err
	}
	limit, offset := historyPageSize, 0
	if page > maxHistoryPage {
		// Beyond any page that can exist; only the total is needed.
		limit = 0
	} else {
		offset = (page - 1) * historyPageSize
	}
	records, total, err := s.accounts.ListPayments(ctx, acc.ID, limit, offset)
	if err != nil {
		return domain.PaymentPage{}, err
	}

	out := domain.PaymentPage{
		Page:       page,
		PerPage:    historyPageSize,
		Total:      total,
		TotalPages: int((total + historyPageSize - 1) / historyPageSize),
		Payments:   make([]domain.PaymentSummary, 0, len(records)),
	}
	for _, r := range records {
		out.Payments = append(out.Payments, r.Summary())
	}
	return out, nil
}
