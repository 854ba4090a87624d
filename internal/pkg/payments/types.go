package payments

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind classifies a gateway callback into the fixed set of event kinds
// the order state machine understands. Unknown kinds are logged and dropped,
// never treated as an error.
type EventKind string

const (
	EventPaymentReceived  EventKind = "payment_received"
	EventPaymentOverdue   EventKind = "payment_overdue"
	EventPaymentDeleted   EventKind = "payment_deleted"
	EventPaymentRefunded  EventKind = "payment_refunded"
	EventCheckoutPaid     EventKind = "checkout_paid"
	EventCheckoutCanceled EventKind = "checkout_canceled"
	EventCheckoutExpired  EventKind = "checkout_expired"
	EventUnknown          EventKind = "unknown"
)

// NormalizedEvent is the provider-agnostic shape of one webhook delivery.
// Gateway payloads are dynamic; everything outside these fields is kept only
// in RawPayload for audit and debugging.
type NormalizedEvent struct {
	Provider          string
	ProviderEventID   string
	EventType         string // provider vocabulary, e.g. "PAYMENT_CONFIRMED"
	Kind              EventKind
	PaymentID         string
	Status            string
	BillingType       string
	Amount            decimal.Decimal
	NetAmount         decimal.Decimal
	PaymentDate       *time.Time
	ConfirmedDate     *time.Time
	ExternalReference string
	GatewayCheckoutID string
	RawPayload        []byte
}

// IsFailure reports whether the event signals that the checkout attempt is
// over without a successful payment.
func (e *NormalizedEvent) IsFailure() bool {
	switch e.Kind {
	case EventPaymentOverdue, EventPaymentDeleted, EventCheckoutCanceled, EventCheckoutExpired:
		return true
	default:
		return false
	}
}

// IsSuccess reports whether the event confirms a payment.
func (e *NormalizedEvent) IsSuccess() bool {
	return e.Kind == EventPaymentReceived || e.Kind == EventCheckoutPaid
}
