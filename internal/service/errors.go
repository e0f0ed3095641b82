package service

import (
	"errors"

	"github.com/punchamoorthee/paybridge/internal/store"
)

// Failure kinds surfaced to the HTTP layer. Each maps to exactly one status.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrBadRequest          = errors.New("missing or malformed request fields")
	ErrInvalidData         = errors.New("invalid notification data")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidNotification = errors.New("notification not verified by provider")
	ErrUpstreamAuthFailed  = errors.New("provider authentication failed")
	ErrUpstreamFetchFailed = errors.New("provider request failed")
	ErrUserMismatch        = errors.New("order is bound to a different user")
	ErrCurrencyMismatch    = errors.New("currency mismatch")
	ErrCaptureIncomplete   = errors.New("capture not completed")
	ErrUnrecognizedAmount  = errors.New("unrecognized amount")
	ErrAgreementMismatch   = errors.New("agreement not issued to this user")

	ErrUserNotFound = store.ErrAccountNotFound
)
