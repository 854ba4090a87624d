package repository

import (
	"time"

	"github.com/provado-app/provado/app/models"
	"gorm.io/gorm"
)

// claimRepository implements the ClaimRepository interface
type claimRepository struct {
	db *gorm.DB
}

// NewClaimRepository creates a new signup claim repository instance
func NewClaimRepository(db *gorm.DB) ClaimRepository {
	return &claimRepository{db: db}
}

// Create stores a freshly minted claim
func (r *claimRepository) Create(claim *models.SignupClaim) error {
	return r.db.Create(claim).Error
}

// GetByTokenHash retrieves a claim by the hash of its plaintext token
func (r *claimRepository) GetByTokenHash(tokenHash string) (*models.SignupClaim, error) {
	var claim models.SignupClaim
	err := r.db.Where("token_hash = ?", tokenHash).First(&claim).Error
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

// Consume marks the claim consumed. The consumed_at IS NULL predicate is the
// single-use guard: of two concurrent redemptions only one succeeds.
func (r *claimRepository) Consume(tokenHash string, at time.Time) (bool, error) {
	tx := r.db.Model(&models.SignupClaim{}).
		Where("token_hash = ? AND consumed_at IS NULL", tokenHash).
		Update("consumed_at", &at)
	return tx.RowsAffected > 0, tx.Error
}

// GetLatestByCheckoutID returns the most recent claim minted for an order
func (r *claimRepository) GetLatestByCheckoutID(checkoutID string) (*models.SignupClaim, error) {
	var claim models.SignupClaim
	err := r.db.Where("checkout_id = ?", checkoutID).
		Order("created_at DESC").
		First(&claim).Error
	if err != nil {
		return nil, err
	}
	return &claim, nil
}
