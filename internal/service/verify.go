package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/paybridge/internal/catalog"
	"github.com/punchamoorthee/paybridge/internal/domain"
	"github.com/punchamoorthee/paybridge/internal/paypal"
)

const (
	verifiedAnswer    = "VERIFIED"
	defaultPayerEmail = "unknown@paypal.com"
)

var emailPattern = regexp.MustCompile(`^[\w.-]+@[\w.-]+\.\w+$`)

type OrderFetcher interface {
	GetOrder(ctx context.Context, orderID string) (*paypal.Order, error)
}

type NotificationValidator interface {
	ValidateNotification(ctx context.Context, raw []byte) (string, error)
}

// TokenAuth checks the X-Auth-Token presented by the storefront.
type TokenAuth struct {
	expected []byte
}

func NewTokenAuth(expected string) TokenAuth {
	return TokenAuth{expected: []byte(expected)}
}

func (a TokenAuth) Check(token string) error {
	if len(a.expected) == 0 || subtle.ConstantTimeCompare([]byte(token), a.expected) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Verifier turns provider claims into VerifiedPayments. It never touches
// storage.
type Verifier struct {
	orders    OrderFetcher
	ipn       NotificationValidator
	catalog   *catalog.Catalog
	currency  string
	receivers []string
}

func NewVerifier(orders OrderFetcher, ipn NotificationValidator, c *catalog.Catalog, currency string, receivers []string) *Verifier {
	return &Verifier{
		orders:    orders,
		ipn:       ipn,
		catalog:   c,
		currency:  strings.ToUpper(currency),
		receivers: receivers,
	}
}

func checkCompleteRequest(req domain.CompleteRequest) error {
	var missing []string
	if strings.TrimSpace(req.OrderID) == "" {
		missing = append(missing, "orderID")
	}
	if strings.TrimSpace(req.Username) == "" {
		missing = append(missing, "username")
	}
	if req.AgreementID.String() == "" {
		missing = append(missing, "agreement_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrBadRequest, strings.Join(missing, ", "))
	}
	return nil
}

// VerifyOrder re-reads the order from the provider and checks it against
// what the client claims.
func (v *Verifier) VerifyOrder(ctx context.Context, req domain.CompleteRequest) (domain.VerifiedPayment, error) {
	if err := checkCompleteRequest(req); err != nil {
		return domain.VerifiedPayment{}, err
	}

	order, err := v.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, paypal.ErrAuth) {
			return domain.VerifiedPayment{}, fmt.Errorf("%w: %v", ErrUpstreamAuthFailed, err)
		}
		return domain.VerifiedPayment{}, fmt.Errorf("%w: %v", ErrUpstreamFetchFailed, err)
	}

	switch strings.ToUpper(order.Status) {
	case "COMPLETED", "CAPTURED":
	default:
		return domain.VerifiedPayment{}, fmt.Errorf("%w: order status %q", ErrCaptureIncomplete, order.Status)
	}
	if len(order.PurchaseUnits) == 0 {
		return domain.VerifiedPayment{}, fmt.Errorf("%w: order has no purchase units", ErrCaptureIncomplete)
	}
	unit := order.PurchaseUnits[0]

	if unit.CustomID != req.Username {
		return domain.VerifiedPayment{}, fmt.Errorf("%w: order bound to %q", ErrUserMismatch, unit.CustomID)
	}
	if !strings.EqualFold(unit.Amount.CurrencyCode, v.currency) {
		return domain.VerifiedPayment{}, fmt.Errorf("%w: got %q, want %q", ErrCurrencyMismatch, unit.Amount.CurrencyCode, v.currency)
	}

	var capture *paypal.Capture
	captures := unit.Captures()
	for i := range captures {
		if strings.EqualFold(captures[i].Status, "COMPLETED") {
			capture = &captures[i]
			break
		}
	}
	if capture == nil {
		return domain.VerifiedPayment{}, fmt.Errorf("%w: no completed capture", ErrCaptureIncomplete)
	}
	if capture.Amount.CurrencyCode != "" && !strings.EqualFold(capture.Amount.CurrencyCode, v.currency) {
		return domain.VerifiedPayment{}, fmt.Errorf("%w: capture in %q", ErrCurrencyMismatch, capture.Amount.CurrencyCode)
	}

	amount, err := decimal.NewFromString(capture.Amount.Value)
	if err != nil {
		return domain.VerifiedPayment{}, fmt.Errorf("%w: capture amount %q", ErrUnrecognizedAmount, capture.Amount.Value)
	}
	points, ok := v.catalog.LookupExact(amount)
	if !ok {
		return domain.VerifiedPayment{}, fmt.Errorf("%w: %s", ErrUnrecognizedAmount, amount)
	}

	payerEmail := strings.TrimSpace(req.PayerEmail)
	if payerEmail == "" {
		payerEmail = defaultPayerEmail
	}

	return domain.VerifiedPayment{
		TransactionID:   capture.ID,
		PaidAmount:      amount,
		Currency:        v.currency,
		PayerEmail:      payerEmail,
		AccountUsername: req.Username,
		Points:          points,
		PayerStatus:     "verified",
		PaymentStatus:   "Completed",
	}, nil
}

// VerifyNotification round-trips the raw IPN body to the provider before
// reading any field from it. The provider's answer is returned even on
// failure so callers can log the whole exchange.
func (v *Verifier) VerifyNotification(ctx context.Context, raw []byte) (domain.VerifiedPayment, string, error) {
	answer, err := v.ipn.ValidateNotification(ctx, raw)
	if err != nil {
		return domain.VerifiedPayment{}, "", fmt.Errorf("%w: %v", ErrUpstreamFetchFailed, err)
	}
	if answer != verifiedAnswer {
		return domain.VerifiedPayment{}, answer, ErrInvalidNotification
	}

	n, err := paypal.ParseNotification(raw)
	if err != nil {
		return domain.VerifiedPayment{}, answer, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if n.TxnID == "" || n.Custom == "" || !emailPattern.MatchString(n.ReceiverEmail) {
		return domain.VerifiedPayment{}, answer, fmt.Errorf("%w: txn_id, receiver_email and custom are required", ErrInvalidData)
	}
	if n.PaymentStatus != "Completed" {
		return domain.VerifiedPayment{}, answer, fmt.Errorf("%w: payment_status %q", ErrUnauthorized, n.PaymentStatus)
	}
	if !v.isReceiver(n.ReceiverEmail) {
		return domain.VerifiedPayment{}, answer, fmt.Errorf("%w: receiver %q", ErrUnauthorized, n.ReceiverEmail)
	}

	amount, err := decimal.NewFromString(n.Gross)
	if err != nil {
		return domain.VerifiedPayment{}, answer, fmt.Errorf("%w: mc_gross %q", ErrInvalidAmount, n.Gross)
	}
	points, ok := v.catalog.LookupTolerant(amount)
	if !ok {
		return domain.VerifiedPayment{}, answer, fmt.Errorf("%w: %s", ErrUnrecognizedAmount, amount)
	}

	currency := strings.ToUpper(n.Currency)
	if currency == "" {
		currency = v.currency
	}

	return domain.VerifiedPayment{
		TransactionID:   n.TxnID,
		PaidAmount:      amount,
		Currency:        currency,
		PayerEmail:      n.ReceiverEmail,
		AccountUsername: n.Custom,
		Points:          points,
		PayerStatus:     n.PayerStatus,
		PaymentStatus:   n.PaymentStatus,
	}, answer, nil
}

func (v *Verifier) isReceiver(email string) bool {
	for _, r := range v.receivers {
		if strings.EqualFold(r, email) {
			return true
		}
	}
	return false
}
