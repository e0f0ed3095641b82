package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Account is the externally owned game account that receives points.
type Account struct {
	ID      int64
	Name    string
	Balance int64
}

// VerifiedPayment is a payment the provider has confirmed. Nothing reaches
// the ledger without first being turned into one of these.
type VerifiedPayment struct {
	TransactionID   string
	PaidAmount      decimal.Decimal
	Currency        string
	PayerEmail      string
	AccountUsername string
	Points          int64
	PayerStatus     string
	PaymentStatus   string
}

// PaymentRecord is the durable proof that a transaction was credited.
// TransactionID is unique across all time.
type PaymentRecord struct {
	ID            int64
	TransactionID string
	PayerEmail    string
	AccountID     int64
	PaidAmount    decimal.Decimal
	Currency      string
	Points        int64
	PayerStatus   string
	PaymentStatus string
	CreatedAt     time.Time
}

// Agreement is an evidentiary acceptance of the purchase terms.
type Agreement struct {
	ID         int64     `json:"agreement_id"`
	AccountID  int64     `json:"-"`
	AcceptedAt time.Time `json:"accepted_at"`
	IPAddress  string    `json:"-"`
	UserAgent  string    `json:"-"`
}

// CreditOutcome reports what the ledger did with a verified payment.
type CreditOutcome int

const (
	Credited CreditOutcome = iota + 1
	AlreadyProcessed
)

func (o CreditOutcome) String() string {
	switch o {
	case Credited:
		return "credited"
	case AlreadyProcessed:
		return "duplicate"
	default:
		return "unknown"
	}
}

// CreditResult is returned by the ledger for every successful unit of work.
type CreditResult struct {
	Outcome CreditOutcome
	Points  int64
}

// CompleteRequest is the client-callback body sent after checkout approval.
type CompleteRequest struct {
	OrderID     string      `json:"orderID"`
	Username    string      `json:"username"`
	PayerEmail  string      `json:"payer_email"`
	AgreementID json.Number `json:"agreement_id"`
}

// AgreementRequest is the body of an agreement acceptance call.
type AgreementRequest struct {
	Username string `json:"username"`
}

// PaymentPage is one page of an account's purchase history.
type PaymentPage struct {
	Page       int              `json:"page"`
	PerPage    int              `json:"per_page"`
	Total      int64            `json:"total"`
	TotalPages int              `json:"total_pages"`
	Payments   []PaymentSummary `json:"payments"`
}

// PaymentSummary is the public view of a PaymentRecord.
type PaymentSummary struct {
	OrderID     string `json:"order_id"`
	PurchasedAt string `json:"purchased_at"`
	Price       string `json:"price"`
	Currency    string `json:"currency"`
	Points      int64  `json:"points"`
}

// Summary renders the record the way the purchase history shows it.
func (p PaymentRecord) Summary() PaymentSummary {
	return PaymentSummary{
		OrderID:     p.TransactionID,
		PurchasedAt: p.CreatedAt.UTC().Format("2006-01-02 15:04"),
		Price:       p.PaidAmount.StringFixed(2),
		Currency:    p.Currency,
		Points:      p.Points,
	}
}
