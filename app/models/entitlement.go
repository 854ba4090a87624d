package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entitlement links an account to a purchased product. A given
// (user, product) grant is traceable to exactly one payment id; revocation is
// reversible only by a new valid payment event, never by replay of a stale one.
type Entitlement struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	UserID         uint            `gorm:"not null;index:ux_entitlements_user_product,unique,priority:1" json:"user_id"`
	ProductID      string          `gorm:"type:varchar(100);not null;index:ux_entitlements_user_product,unique,priority:2;index" json:"product_id"`
	PricingPlanID  uint            `gorm:"not null;index" json:"pricing_plan_id"`
	InternalPlan   string          `gorm:"type:varchar(50);not null;default:'free'" json:"internal_plan"`
	PaidPrice      decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"paid_price"`
	PaymentID      string          `gorm:"type:varchar(100);not null;index" json:"payment_id"`
	Coupon         string          `gorm:"type:varchar(50);default:''" json:"coupon"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"discount_amount"`
	GrantedAt      time.Time       `gorm:"autoCreateTime" json:"granted_at"`
	RevokedAt      *time.Time      `gorm:"type:timestamp;default:null;index" json:"revoked_at,omitempty"`
	RevokeReason   string          `gorm:"type:varchar(255);default:''" json:"revoke_reason"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsRevoked reports whether the grant is currently revoked.
func (e *Entitlement) IsRevoked() bool {
	return e.RevokedAt != nil
}
