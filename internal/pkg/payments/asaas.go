package payments

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/provado-app/provado/app/models"
	"github.com/provado-app/provado/internal/pkg/env"
	"github.com/shopspring/decimal"
)

// Asaas delivers full-bodied webhook events shaped
// {event, payment|checkout}. The event name carries the classification; the
// nested object carries the payment or checkout snapshot.

type asaasPayment struct {
	ID                string  `json:"id"`
	Status            string  `json:"status"`
	BillingType       string  `json:"billingType"`
	Value             float64 `json:"value"`
	NetValue          float64 `json:"netValue"`
	PaymentDate       string  `json:"paymentDate"`
	ConfirmedDate     string  `json:"confirmedDate"`
	ExternalReference string  `json:"externalReference"`
}

type asaasCheckout struct {
	ID                string  `json:"id"`
	Status            string  `json:"status"`
	Value             float64 `json:"value"`
	ExternalReference string  `json:"externalReference"`
}

type asaasWebhookPayload struct {
	ID       string         `json:"id"`
	Event    string         `json:"event"`
	Payment  *asaasPayment  `json:"payment"`
	Checkout *asaasCheckout `json:"checkout"`
}

// asaasEventKind maps Asaas event names onto the normalized kinds. Events
// outside this table are classified unknown, logged and dropped.
func asaasEventKind(event string) EventKind {
	switch strings.ToUpper(strings.TrimSpace(event)) {
	case "PAYMENT_RECEIVED", "PAYMENT_CONFIRMED":
		return EventPaymentReceived
	case "PAYMENT_OVERDUE":
		return EventPaymentOverdue
	case "PAYMENT_DELETED":
		return EventPaymentDeleted
	case "PAYMENT_REFUNDED":
		return EventPaymentRefunded
	case "CHECKOUT_PAID":
		return EventCheckoutPaid
	case "CHECKOUT_CANCELED":
		return EventCheckoutCanceled
	case "CHECKOUT_EXPIRED":
		return EventCheckoutExpired
	default:
		return EventUnknown
	}
}

// ParseAsaasWebhook normalizes a raw Asaas webhook body. Unknown event names
// produce a valid event of kind EventUnknown; a body that is not JSON is an
// error.
func ParseAsaasWebhook(payload []byte) (*NormalizedEvent, error) {
	var raw asaasWebhookPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode asaas webhook payload: %w", err)
	}
	if strings.TrimSpace(raw.Event) == "" {
		return nil, errors.New("asaas webhook payload missing event name")
	}

	ev := &NormalizedEvent{
		Provider:        models.PaymentProviderAsaas,
		ProviderEventID: strings.TrimSpace(raw.ID),
		EventType:       strings.TrimSpace(raw.Event),
		Kind:            asaasEventKind(raw.Event),
		RawPayload:      append([]byte(nil), payload...),
	}

	// Older Asaas accounts deliver payment events without a top-level event
	// id; RecordEvent falls back to a payload hash in that case.
	if p := raw.Payment; p != nil {
		ev.PaymentID = strings.TrimSpace(p.ID)
		ev.Status = strings.TrimSpace(p.Status)
		ev.BillingType = strings.TrimSpace(p.BillingType)
		ev.Amount = decimal.NewFromFloat(p.Value)
		ev.NetAmount = decimal.NewFromFloat(p.NetValue)
		ev.ExternalReference = strings.TrimSpace(p.ExternalReference)
		ev.PaymentDate = parseAsaasDate(p.PaymentDate)
		ev.ConfirmedDate = parseAsaasDate(p.ConfirmedDate)
	}
	if c := raw.Checkout; c != nil {
		ev.GatewayCheckoutID = strings.TrimSpace(c.ID)
		if ev.Status == "" {
			ev.Status = strings.TrimSpace(c.Status)
		}
		if ev.Amount.IsZero() {
			ev.Amount = decimal.NewFromFloat(c.Value)
		}
		if ev.ExternalReference == "" {
			ev.ExternalReference = strings.TrimSpace(c.ExternalReference)
		}
	}

	return ev, nil
}

// parseAsaasDate accepts the date formats Asaas has been observed to send.
func parseAsaasDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// AsaasClient fetches payment snapshots from the Asaas REST API. Webhook
// bodies normally carry the full payment object; the client covers account
// configurations that deliver partial bodies.
type AsaasClient struct {
	APIKey     string
	APIBaseURL string
	HTTPClient *http.Client
}

// NewAsaasClientFromEnv builds a client from ASAAS_API_KEY / ASAAS_API_URL.
func NewAsaasClientFromEnv() *AsaasClient {
	return &AsaasClient{
		APIKey:     strings.TrimSpace(env.GetEnv("ASAAS_API_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("ASAAS_API_URL", "https://api.asaas.com/v3"), "/"),
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// IsConfigured reports whether API credentials are present.
func (c *AsaasClient) IsConfigured() bool {
	return c.APIKey != ""
}

func (c *AsaasClient) getPayment(ctx context.Context, paymentID string) (*asaasPayment, error) {
	if !c.IsConfigured() {
		return nil, errors.New("ASAAS_API_KEY is not configured")
	}
	if strings.TrimSpace(paymentID) == "" {
		return nil, errors.New("payment id is required")
	}

	u := c.APIBaseURL + "/payments/" + url.PathEscape(paymentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("access_token", c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("asaas payment fetch: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("asaas payment fetch failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var payment asaasPayment
	if err := json.Unmarshal(body, &payment); err != nil {
		return nil, fmt.Errorf("decode asaas payment: %w", err)
	}
	return &payment, nil
}

// EnrichEvent fills payment fields a partial webhook body left empty by
// fetching the payment snapshot. Fields already present are kept.
func (c *AsaasClient) EnrichEvent(ctx context.Context, ev *NormalizedEvent) error {
	if ev.PaymentID == "" {
		return nil
	}
	payment, err := c.getPayment(ctx, ev.PaymentID)
	if err != nil {
		return err
	}

	if ev.Status == "" {
		ev.Status = strings.TrimSpace(payment.Status)
	}
	if ev.BillingType == "" {
		ev.BillingType = strings.TrimSpace(payment.BillingType)
	}
	if ev.Amount.IsZero() {
		ev.Amount = decimal.NewFromFloat(payment.Value)
	}
	if ev.NetAmount.IsZero() {
		ev.NetAmount = decimal.NewFromFloat(payment.NetValue)
	}
	if ev.ExternalReference == "" {
		ev.ExternalReference = strings.TrimSpace(payment.ExternalReference)
	}
	if ev.PaymentDate == nil {
		ev.PaymentDate = parseAsaasDate(payment.PaymentDate)
	}
	if ev.ConfirmedDate == nil {
		ev.ConfirmedDate = parseAsaasDate(payment.ConfirmedDate)
	}
	return nil
}

// VerifyAsaasWebhookToken checks the shared-secret token Asaas sends in the
// asaas-access-token header.
func VerifyAsaasWebhookToken(headerToken, secret string) bool {
	token := strings.TrimSpace(headerToken)
	want := strings.TrimSpace(secret)
	if token == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(want)) == 1
}
