package repository

import (
	"time"

	"github.com/provado-app/provado/app/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// entitlementRepository implements the EntitlementRepository interface
type entitlementRepository struct {
	db *gorm.DB
}

// NewEntitlementRepository creates a new entitlement repository instance
func NewEntitlementRepository(db *gorm.DB) EntitlementRepository {
	return &entitlementRepository{db: db}
}

// Grant inserts the entitlement unless one exists for (user, product).
// Re-running the success path for the same order therefore yields exactly
// one grant.
func (r *entitlementRepository) Grant(ent *models.Entitlement) (bool, *models.Entitlement, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "product_id"},
		},
		DoNothing: true,
	}).Create(ent)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.Entitlement
	if err := r.db.Where("user_id = ? AND product_id = ?", ent.UserID, ent.ProductID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// Regrant re-activates a revoked entitlement against a new payment id.
// Replaying the stale payment that caused the revoke cannot re-grant because
// the predicate requires a different payment id.
func (r *entitlementRepository) Regrant(id uint, paymentID string, paidPrice, discount decimal.Decimal) error {
	return r.db.Model(&models.Entitlement{}).
		Where("id = ? AND revoked_at IS NOT NULL AND payment_id <> ?", id, paymentID).
		Updates(map[string]interface{}{
			"payment_id":      paymentID,
			"paid_price":      paidPrice,
			"discount_amount": discount,
			"revoked_at":      nil,
			"revoke_reason":   "",
			"granted_at":      time.Now(),
		}).Error
}

// RevokeByPaymentID revokes every grant traceable to the payment id and
// returns the affected entitlements so the caller can suspend their owners.
func (r *entitlementRepository) RevokeByPaymentID(paymentID, reason string, at time.Time) ([]models.Entitlement, error) {
	var ents []models.Entitlement
	if err := r.db.Where("payment_id = ? AND revoked_at IS NULL", paymentID).Find(&ents).Error; err != nil {
		return nil, err
	}
	if len(ents) == 0 {
		return nil, nil
	}

	ids := make([]uint, len(ents))
	for i, e := range ents {
		ids[i] = e.ID
	}
	if err := r.db.Model(&models.Entitlement{}).
		Where("id IN ? AND revoked_at IS NULL", ids).
		Updates(map[string]interface{}{
			"revoked_at":    &at,
			"revoke_reason": reason,
		}).Error; err != nil {
		return nil, err
	}
	return ents, nil
}

// ListByUser returns all grants of one account
func (r *entitlementRepository) ListByUser(userID uint) ([]models.Entitlement, error) {
	var ents []models.Entitlement
	err := r.db.Where("user_id = ?", userID).Find(&ents).Error
	return ents, err
}

// ListByPaymentID returns the grants traceable to one payment
func (r *entitlementRepository) ListByPaymentID(paymentID string) ([]models.Entitlement, error) {
	var ents []models.Entitlement
	err := r.db.Where("payment_id = ?", paymentID).Find(&ents).Error
	return ents, err
}
