package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/provado-app/provado/app/models"
	"github.com/provado-app/provado/internal/pkg/env"
	"github.com/shopspring/decimal"
)

const defaultMercadoPagoAPIBaseURL = "https://api.mercadopago.com"

// Mercado Pago delivers thin notifications shaped {type, data:{id}}; the
// payment snapshot has to be fetched from the API before the event can be
// classified.

type MercadoPagoClient struct {
	AccessToken string
	APIBaseURL  string

	HTTPClient *http.Client
}

type MercadoPagoNotification struct {
	ID     json.Number `json:"id"`
	Type   string      `json:"type"`
	Action string      `json:"action"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
}

type MercadoPagoPayment struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	StatusDetail      string      `json:"status_detail"`
	PaymentMethodID   string      `json:"payment_method_id"`
	TransactionAmount float64     `json:"transaction_amount"`
	DateApproved      string      `json:"date_approved"`
	ExternalReference string      `json:"external_reference"`
	TransactionDetails struct {
		NetReceivedAmount float64 `json:"net_received_amount"`
	} `json:"transaction_details"`
}

func NewMercadoPagoClientFromEnv() *MercadoPagoClient {
	return &MercadoPagoClient{
		AccessToken: strings.TrimSpace(env.GetEnv("MERCADOPAGO_ACCESS_TOKEN", "")),
		APIBaseURL:  strings.TrimSpace(env.GetEnv("MERCADOPAGO_API_BASE_URL", defaultMercadoPagoAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ParseMercadoPagoNotification decodes the thin webhook body.
func ParseMercadoPagoNotification(payload []byte) (*MercadoPagoNotification, error) {
	var raw MercadoPagoNotification
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode mercadopago notification: %w", err)
	}
	if strings.TrimSpace(raw.Data.ID) == "" {
		return nil, errors.New("mercadopago notification missing data.id")
	}
	return &raw, nil
}

// GetPayment fetches the payment resource referenced by a notification.
func (c *MercadoPagoClient) GetPayment(ctx context.Context, paymentID string) (*MercadoPagoPayment, error) {
	if strings.TrimSpace(c.AccessToken) == "" {
		return nil, errors.New("MERCADOPAGO_ACCESS_TOKEN is not configured")
	}
	id := strings.TrimSpace(paymentID)
	if id == "" {
		return nil, errors.New("payment id is required")
	}

	url := strings.TrimRight(c.APIBaseURL, "/") + "/v1/payments/" + id
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("mercadopago payment request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out MercadoPagoPayment
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// mercadoPagoEventKind maps the fetched payment status onto normalized kinds.
func mercadoPagoEventKind(status string) EventKind {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "approved":
		return EventPaymentReceived
	case "rejected":
		return EventPaymentOverdue
	case "cancelled":
		return EventPaymentDeleted
	case "refunded", "charged_back":
		return EventPaymentRefunded
	default:
		return EventUnknown
	}
}

// NormalizeMercadoPagoEvent builds the provider-agnostic event from the thin
// notification plus the fetched payment snapshot.
func NormalizeMercadoPagoEvent(n *MercadoPagoNotification, p *MercadoPagoPayment, rawPayload []byte) *NormalizedEvent {
	eventID := strings.TrimSpace(n.ID.String())
	ev := &NormalizedEvent{
		Provider:          models.PaymentProviderMercadoPago,
		ProviderEventID:   eventID,
		EventType:         strings.TrimSpace(n.Action),
		Kind:              mercadoPagoEventKind(p.Status),
		PaymentID:         strings.TrimSpace(p.ID.String()),
		Status:            strings.TrimSpace(p.Status),
		BillingType:       strings.TrimSpace(p.PaymentMethodID),
		Amount:            decimal.NewFromFloat(p.TransactionAmount),
		NetAmount:         decimal.NewFromFloat(p.TransactionDetails.NetReceivedAmount),
		ExternalReference: strings.TrimSpace(p.ExternalReference),
		RawPayload:        append([]byte(nil), rawPayload...),
	}
	if ev.EventType == "" {
		ev.EventType = strings.TrimSpace(n.Type)
	}
	if t := parseAsaasDate(p.DateApproved); t != nil {
		ev.ConfirmedDate = t
	}
	return ev
}

// VerifyMercadoPagoSignature validates the x-signature header
// ("ts=...,v1=..."). The signed manifest is built from the notification data
// id, the x-request-id header and the timestamp. A plain HMAC of the raw body
// is accepted as fallback for environments configured before the manifest
// scheme was rolled out.
func VerifyMercadoPagoSignature(rawBody []byte, signatureHeader, requestID, dataID, secret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	key := strings.TrimSpace(secret)
	if sig == "" || key == "" {
		return false
	}

	ts, v1 := "", ""
	for _, part := range strings.Split(sig, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "ts":
			ts = kv[1]
		case "v1":
			v1 = kv[1]
		}
	}
	if v1 == "" {
		return false
	}
	expected, err := hex.DecodeString(strings.ToLower(v1))
	if err != nil {
		return false
	}

	if ts != "" {
		manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", strings.ToLower(dataID), requestID, ts)
		mac := hmac.New(sha256.New, []byte(key))
		mac.Write([]byte(manifest))
		if hmac.Equal(mac.Sum(nil), expected) {
			return true
		}
	}

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(rawBody)
	return hmac.Equal(mac.Sum(nil), expected)
}
