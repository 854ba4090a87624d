package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusPending       = "pending"
	OrderStatusPaid          = "paid"
	OrderStatusProvisionable = "provisionable" // payment confirmed, invitation issued, awaiting signup
	OrderStatusCompleted     = "completed"
	OrderStatusFailed        = "failed"
)

// PendingOrder is one checkout attempt, created before payment confirmation.
// Status moves monotonically along pending -> paid -> provisionable ->
// completed, with failed as the alternate terminal state. A completed order is
// never re-opened by a later event of lower precedence.
type PendingOrder struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	CheckoutID        string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"checkout_id"`
	GatewayCheckoutID string          `gorm:"type:varchar(100);default:'';index" json:"gateway_checkout_id"`
	Status            string          `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	CustomerEmail     string          `gorm:"type:varchar(200);not null;index" json:"customer_email" validate:"required,email"`
	ProductID         string          `gorm:"type:varchar(100);not null;index" json:"product_id" validate:"required"`
	BasePrice         decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"base_price"`
	Discount          decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"discount"`
	FinalPrice        decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"final_price"`
	Coupon            string          `gorm:"type:varchar(50);default:''" json:"coupon"`
	InvitationID      string          `gorm:"type:varchar(100);default:''" json:"invitation_id"`
	InvitationSentAt  *time.Time      `gorm:"type:timestamp;default:null" json:"invitation_sent_at,omitempty"`
	UserID            *uint           `gorm:"default:null;index" json:"user_id,omitempty"`
	CompletedAt       *time.Time      `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	CreatedAt         time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the order reached a state that failure-class
// events must never overwrite.
func (o *PendingOrder) IsTerminal() bool {
	return o.Status == OrderStatusCompleted || o.Status == OrderStatusFailed
}

// AwaitingSignup reports whether the order is waiting for the paying customer
// to complete account creation.
func (o *PendingOrder) AwaitingSignup() bool {
	return o.Status == OrderStatusProvisionable || o.Status == OrderStatusPaid
}
