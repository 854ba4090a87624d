package claims

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"github.com/provado-app/provado/app/models"
	"github.com/provado-app/provado/app/repository"
	"gorm.io/gorm"
)

const (
	// DefaultTTL bounds how long a paying customer has to complete signup
	// through the claim link.
	DefaultTTL = 7 * 24 * time.Hour

	tokenBytes = 32
)

// Issuer mints and validates the single-use signup claims gating account
// creation for paid orders.
type Issuer struct {
	claims repository.ClaimRepository
	orders repository.OrderRepository

	legacySecret string
	ttl          time.Duration
	now          func() time.Time
}

// NewIssuer creates a claim issuer from injected repositories. legacySecret
// is the HS256 key of the retired signup-token links; pass "" to disable that
// fallback.
func NewIssuer(claims repository.ClaimRepository, orders repository.OrderRepository, legacySecret string) *Issuer {
	return &Issuer{
		claims:       claims,
		orders:       orders,
		legacySecret: legacySecret,
		ttl:          DefaultTTL,
		now:          time.Now,
	}
}

// HashToken returns the storage form of a plaintext claim token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Mint creates a fresh claim for the order and returns the plaintext token.
// Only the token hash is persisted. Minting again for the same order is safe;
// earlier claims stay redeemable until they expire or get consumed.
func (i *Issuer) Mint(ctx context.Context, checkoutID, email string) (string, error) {
	_ = ctx
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(b)

	claim := &models.SignupClaim{
		TokenHash:  HashToken(token),
		CheckoutID: checkoutID,
		Email:      email,
		ExpiresAt:  i.now().Add(i.ttl),
	}
	if err := i.claims.Create(claim); err != nil {
		return "", err
	}
	return token, nil
}

// Result is the outcome of validating a claim or one of its legacy fallbacks.
// Invalid is a normal user-facing negative, not an error.
type Result struct {
	Valid  bool
	Reason string
	Source string
	Order  *models.PendingOrder
	Email  string
}

func invalid(reason, source string) *Result {
	return &Result{Valid: false, Reason: reason, Source: source}
}

// ValidateClaimToken checks a claim token: it must exist, be unexpired and
// unconsumed, and reference an order still awaiting signup.
func (i *Issuer) ValidateClaimToken(ctx context.Context, token string) (*Result, error) {
	claim, err := i.claims.GetByTokenHash(HashToken(token))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return invalid("unknown_token", SourceClaim), nil
		}
		return nil, err
	}
	if claim.IsConsumed() {
		return invalid("token_consumed", SourceClaim), nil
	}
	if claim.IsExpired(i.now()) {
		return invalid("token_expired", SourceClaim), nil
	}

	order, err := i.orderForSignup(ctx, claim.CheckoutID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return invalid("order_not_claimable", SourceClaim), nil
	}
	return &Result{Valid: true, Source: SourceClaim, Order: order, Email: claim.Email}, nil
}

// Consume marks the claim used. It reports false when a concurrent redemption
// got there first.
func (i *Issuer) Consume(ctx context.Context, token string) (bool, error) {
	_ = ctx
	return i.claims.Consume(HashToken(token), i.now())
}

// orderForSignup loads the order and applies the shared state predicate: the
// downstream signup action is only allowed while the order awaits signup.
func (i *Issuer) orderForSignup(ctx context.Context, checkoutID string) (*models.PendingOrder, error) {
	_ = ctx
	order, err := i.orders.GetByCheckoutID(checkoutID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !order.AwaitingSignup() {
		return nil, nil
	}
	return order, nil
}
