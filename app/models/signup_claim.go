package models

import "time"

// SignupClaim is the single-use, time-bounded artifact that lets a paying
// customer complete signup without re-proving payment. Only the SHA-256 hash
// of the token is stored; the plaintext token travels in the invitation link.
type SignupClaim struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	TokenHash  string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"-"`
	CheckoutID string     `gorm:"type:varchar(64);not null;index" json:"checkout_id"`
	Email      string     `gorm:"type:varchar(200);not null" json:"email"`
	ExpiresAt  time.Time  `gorm:"type:timestamp;not null" json:"expires_at"`
	ConsumedAt *time.Time `gorm:"type:timestamp;default:null" json:"consumed_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// IsExpired reports whether the claim can no longer be redeemed due to age.
func (s *SignupClaim) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// IsConsumed reports whether the claim was already redeemed.
func (s *SignupClaim) IsConsumed() bool {
	return s.ConsumedAt != nil
}
