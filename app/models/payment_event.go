package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment gateway constants used across payment-related models.
const (
	PaymentProviderAsaas       = "asaas"
	PaymentProviderMercadoPago = "mercadopago"
)

// PaymentEvent stores one accepted gateway webhook delivery with
// deduplication metadata for idempotent processing. Rows are created once on
// first receipt and never mutated afterwards apart from the processing audit
// fields; they are retained indefinitely.
type PaymentEvent struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	Provider          string          `gorm:"type:varchar(20);not null;index:ux_payment_events_provider_event,unique,priority:1;index" json:"provider"`
	ProviderEventID   string          `gorm:"type:varchar(191);not null;default:'';index:ux_payment_events_provider_event,unique,priority:2" json:"provider_event_id"`
	ProviderPaymentID string          `gorm:"type:varchar(100);default:'';index" json:"provider_payment_id"`
	EventType         string          `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Status            string          `gorm:"type:varchar(50);default:''" json:"status"`
	BillingType       string          `gorm:"type:varchar(30);default:''" json:"billing_type"`
	Amount            decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"amount"`
	NetAmount         decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"net_amount"`
	PaymentDate       *time.Time      `gorm:"type:timestamp;default:null" json:"payment_date,omitempty"`
	ConfirmedDate     *time.Time      `gorm:"type:timestamp;default:null" json:"confirmed_date,omitempty"`
	ExternalReference string          `gorm:"type:varchar(191);default:''" json:"external_reference"`
	CheckoutID        string          `gorm:"type:varchar(64);default:'';index" json:"checkout_id"`
	PayloadJSON       string          `gorm:"type:longtext;not null" json:"payload_json"`
	SignatureValid    bool            `gorm:"default:false;index" json:"signature_valid"`
	ProcessedAt       *time.Time      `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError   string          `gorm:"type:text" json:"processing_error"`
	CreatedAt         time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
