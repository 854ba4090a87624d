package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	ROLE_USER  = "user"
	ROLE_ADMIN = "admin"

	// Account lifecycle. An account is created as "invited" when payment
	// provisioning runs ahead of signup, promoted to "active" once signup
	// completes, and moved to "suspended" on refund/chargeback.
	STATUS_INVITED   = "invited"
	STATUS_ACTIVE    = "active"
	STATUS_SUSPENDED = "suspended"
	STATUS_EXPIRED   = "expired"
)

type User struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Name            string         `gorm:"type:varchar(150)" json:"name" validate:"max=150"`
	Email           string         `gorm:"uniqueIndex;type:varchar(200) CHARACTER SET utf8 COLLATE utf8_bin" json:"email" validate:"required,email,min=5,max=200"`
	Password        string         `gorm:"type:text" json:"-"`
	Role            string         `gorm:"type:varchar(50);default:'user'" json:"role" validate:"oneof=user admin"`
	Status          string         `gorm:"type:varchar(50);default:'invited';index" json:"status" validate:"oneof=invited active suspended expired"`
	ExternalID      string         `gorm:"type:varchar(100);default:null;index" json:"-"` // identity-provider UID, empty until the directory knows the user
	PaymentProvider string         `gorm:"type:varchar(20);default:null" json:"-"`
	PaymentID       string         `gorm:"type:varchar(100);default:null;index" json:"-"`
	Paid            bool           `gorm:"default:false;index" json:"paid"`
	PaidAt          *time.Time     `gorm:"type:timestamp;default:null" json:"-"`
	SuspendedAt     *time.Time     `gorm:"type:timestamp;default:null" json:"-"`
	SuspendReason   string         `gorm:"type:varchar(255);default:null" json:"-"`
	LastLoginAt     *time.Time     `gorm:"type:timestamp;default:null" json:"last_login_at"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// CreateInvitedUser builds an account record for a paying customer who has
// not signed up yet. The password stays empty until signup completion.
func CreateInvitedUser(email, provider, paymentID string, paidAt time.Time) (*User, error) {
	u := &User{
		Email:           email,
		Role:            ROLE_USER,
		Status:          STATUS_INVITED,
		PaymentProvider: provider,
		PaymentID:       paymentID,
		Paid:            true,
		PaidAt:          &paidAt,
	}

	if err := u.Validate(); err != nil {
		return nil, err
	}

	return u, nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)

	return string(bytes), err
}

// CheckPasswordHash compares the given password with the stored hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))

	return err == nil
}

// IsActive reports whether the user status is active
func (u *User) IsActive() bool {
	return u.Status == STATUS_ACTIVE
}
