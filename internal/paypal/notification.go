package paypal

import (
	"net/url"
	"strings"
)

// Notification holds the IPN fields the listener acts on. Values are taken
// as sent; validation happens after the round-trip check succeeds.
type Notification struct {
	TxnID         string
	PaymentStatus string
	PayerStatus   string
	PayerEmail    string
	ReceiverEmail string
	Custom        string
	Gross         string
	Currency      string
	Raw           url.Values
}

// ParseNotification decodes a form-encoded IPN body.
func ParseNotification(raw []byte) (*Notification, error) {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, err
	}
	get := func(k string) string { return strings.TrimSpace(values.Get(k)) }
	return &Notification{
		TxnID:         get("txn_id"),
		PaymentStatus: get("payment_status"),
		PayerStatus:   get("payer_status"),
		PayerEmail:    get("payer_email"),
		ReceiverEmail: get("receiver_email"),
		Custom:        get("custom"),
		Gross:         get("mc_gross"),
		Currency:      get("mc_currency"),
		Raw:           values,
	}, nil
}
