package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricingPlan maps a purchasable product to an internal entitlement plan and
// its list price.
type PricingPlan struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	ProductID    string          `gorm:"type:varchar(100);not null;uniqueIndex" json:"product_id"`
	Name         string          `gorm:"type:varchar(150);not null" json:"name"`
	InternalPlan string          `gorm:"type:varchar(50);not null;default:'free'" json:"internal_plan"`
	Price        decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"price"`
	IsActive     bool            `gorm:"default:true;index" json:"is_active"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
