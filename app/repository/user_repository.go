package repository

import (
	"strings"
	"time"

	"github.com/provado-app/provado/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create creates a new user in the database
func (r *userRepository) Create(user *models.User) error {
	return r.db.Create(user).Error
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(id uint) (*models.User, error) {
	var user models.User
	err := r.db.First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByEmail retrieves a user by their email address
func (r *userRepository) GetByEmail(email string) (*models.User, error) {
	var user models.User
	err := r.db.Where("email = ?", strings.TrimSpace(email)).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByExternalID retrieves a user by their identity-provider UID
func (r *userRepository) GetByExternalID(externalID string) (*models.User, error) {
	var user models.User
	err := r.db.Where("external_id = ?", externalID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Upsert creates the user keyed by email or refreshes the payment linkage of
// an existing row. Safe to re-run: a retried provisioning pass converges on
// the same row.
func (r *userRepository) Upsert(user *models.User) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"external_id",
			"payment_provider",
			"payment_id",
			"paid",
			"paid_at",
			"updated_at",
		}),
	}).Create(user)
	if tx.Error != nil {
		return false, tx.Error
	}
	created := tx.RowsAffected == 1

	// Ensure ID is populated after upsert.
	if err := r.db.Where("email = ?", user.Email).First(user).Error; err != nil {
		return false, err
	}
	return created, nil
}

// Update persists all changed fields of the user
func (r *userRepository) Update(user *models.User) error {
	return r.db.Save(user).Error
}

// Suspend marks the account suspended with a reason and timestamp
func (r *userRepository) Suspend(id uint, reason string, at time.Time) error {
	return r.db.Model(&models.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":         models.STATUS_SUSPENDED,
		"paid":           false,
		"suspended_at":   &at,
		"suspend_reason": reason,
	}).Error
}

// Activate promotes an invited account to active at signup completion
func (r *userRepository) Activate(id uint, externalID, name, passwordHash string) error {
	updates := map[string]interface{}{
		"status": models.STATUS_ACTIVE,
	}
	if externalID != "" {
		updates["external_id"] = externalID
	}
	if name != "" {
		updates["name"] = name
	}
	if passwordHash != "" {
		updates["password"] = passwordHash
	}
	return r.db.Model(&models.User{}).Where("id = ?", id).Updates(updates).Error
}

// Count returns the total number of users
func (r *userRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.User{}).Count(&count).Error
	return count, err
}
