package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the payment service matches exactly one
// of these through errors.Is.
var (
	ErrValidation   = errors.New("validation_error")
	ErrNotFound     = errors.New("not_found")
	ErrInvalidState = errors.New("invalid_state")
	ErrGateway      = errors.New("gateway_error")
	ErrPersistence  = errors.New("persistence_error")
	ErrForbidden    = errors.New("forbidden")
)

// Error is a coded domain error belonging to one kind.
type Error struct {
	kind error
	code string
}

func newError(kind error, code string) *Error {
	return &Error{kind: kind, code: code}
}

func (e *Error) Error() string { return e.code }

func (e *Error) Unwrap() error { return e.kind }

// Code returns the snake_case error code.
func (e *Error) Code() string { return e.code }

var (
	ErrInvalidOrganization  = newError(ErrValidation, "invalid_organization")
	ErrInvalidAmount        = newError(ErrValidation, "invalid_amount")
	ErrInvalidMethod        = newError(ErrValidation, "invalid_method")
	ErrInvalidCurrency      = newError(ErrValidation, "invalid_currency")
	ErrCurrencyMismatch     = newError(ErrValidation, "currency_mismatch")
	ErrInvalidStatus        = newError(ErrValidation, "invalid_status")
	ErrInvalidPaymentDate   = newError(ErrValidation, "invalid_payment_date")
	ErrInvalidRefundAmount  = newError(ErrValidation, "invalid_refund_amount")
	ErrRefundExceedsAmount  = newError(ErrValidation, "refund_exceeds_payment_amount")
	ErrInvalidProvider      = newError(ErrValidation, "invalid_provider")
	ErrInvalidEvent         = newError(ErrValidation, "invalid_event")
	ErrInvalidPayload       = newError(ErrValidation, "invalid_payload")
	ErrInvalidSignature     = newError(ErrValidation, "invalid_signature")
	ErrEmptyPatch           = newError(ErrValidation, "empty_patch")
	ErrAmountExceedsBalance = newError(ErrValidation, "amount_exceeds_outstanding_balance")
	ErrPartialNotAllowed    = newError(ErrValidation, "partial_payment_not_allowed")

	ErrPaymentNotFound = newError(ErrNotFound, "payment_not_found")
	ErrInvoiceNotFound = newError(ErrNotFound, "invoice_not_found")

	ErrPaymentNotRefundable  = newError(ErrInvalidState, "payment_not_refundable")
	ErrInvalidTransition     = newError(ErrInvalidState, "invalid_status_transition")
	ErrAmountImmutable       = newError(ErrInvalidState, "amount_immutable_after_completion")
	ErrOnlinePaymentDisabled = newError(ErrInvalidState, "online_payment_disabled")
	ErrInvoiceAlreadyPaid    = newError(ErrInvalidState, "invoice_already_paid")
	ErrEventAlreadyProcessed = newError(ErrInvalidState, "event_already_processed")
	ErrConcurrentUpdate      = newError(ErrInvalidState, "concurrent_update")
	ErrDuplicateTransaction  = newError(ErrInvalidState, "duplicate_transaction")

	ErrNotPaymentOwner = newError(ErrForbidden, "not_payment_owner")
)

// ErrEventIgnored is returned by webhook adapters for event types that carry
// no payment state. It has no kind; the webhook is acknowledged and dropped.
var ErrEventIgnored = errors.New("event_ignored")

// GatewayError wraps a failed call to a payment gateway.
type GatewayError struct {
	Provider  string
	Operation string
	Err       error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s %s failed: %v", e.Provider, e.Operation, e.Err)
}

func (e *GatewayError) Unwrap() []error { return []error{ErrGateway, e.Err} }

func NewGatewayError(provider, operation string, err error) error {
	return &GatewayError{Provider: provider, Operation: operation, Err: err}
}

// PersistenceError wraps a storage failure.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return "persistence failure: " + e.Err.Error() }

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// WrapPersistence classifies err as a storage failure unless it already carries
// a domain kind.
func WrapPersistence(err error) error {
	if err == nil || Kind(err) != nil {
		return err
	}
	return &PersistenceError{Err: err}
}

// Kind returns the kind sentinel err belongs to, or nil.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	// gateway first: a GatewayError keeps its cause, which may carry another kind
	for _, kind := range []error{ErrGateway, ErrValidation, ErrNotFound, ErrInvalidState, ErrForbidden, ErrPersistence} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
