package repository

import (
	"github.com/provado-app/provado/app/models"
	"gorm.io/gorm"
)

// pricingPlanRepository implements the PricingPlanRepository interface
type pricingPlanRepository struct {
	db *gorm.DB
}

// NewPricingPlanRepository creates a new pricing plan repository instance
func NewPricingPlanRepository(db *gorm.DB) PricingPlanRepository {
	return &pricingPlanRepository{db: db}
}

// GetActiveByProductID resolves the purchasable product to its plan
func (r *pricingPlanRepository) GetActiveByProductID(productID string) (*models.PricingPlan, error) {
	var plan models.PricingPlan
	err := r.db.Where("product_id = ? AND is_active = ?", productID, true).First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// Create creates a new pricing plan
func (r *pricingPlanRepository) Create(plan *models.PricingPlan) error {
	return r.db.Create(plan).Error
}
