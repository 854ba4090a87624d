package claims

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/provado-app/provado/app/models"
	"github.com/provado-app/provado/app/repository"
)

type stubClaimRepo struct {
	claims map[string]*models.SignupClaim
}

func newStubClaimRepo() *stubClaimRepo {
	return &stubClaimRepo{claims: map[string]*models.SignupClaim{}}
}

func (r *stubClaimRepo) Create(claim *models.SignupClaim) error {
	claim.ID = uint(len(r.claims) + 1)
	claim.CreatedAt = time.Now()
	cp := *claim
	r.claims[claim.TokenHash] = &cp
	return nil
}

func (r *stubClaimRepo) GetByTokenHash(tokenHash string) (*models.SignupClaim, error) {
	if c, ok := r.claims[tokenHash]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubClaimRepo) Consume(tokenHash string, at time.Time) (bool, error) {
	c, ok := r.claims[tokenHash]
	if !ok || c.ConsumedAt != nil {
		return false, nil
	}
	c.ConsumedAt = &at
	return true, nil
}

func (r *stubClaimRepo) GetLatestByCheckoutID(checkoutID string) (*models.SignupClaim, error) {
	var latest *models.SignupClaim
	for _, c := range r.claims {
		if c.CheckoutID == checkoutID && (latest == nil || c.CreatedAt.After(latest.CreatedAt)) {
			latest = c
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *latest
	return &cp, nil
}

type stubOrderRepo struct {
	orders map[string]*models.PendingOrder
}

func newStubOrderRepo() *stubOrderRepo {
	return &stubOrderRepo{orders: map[string]*models.PendingOrder{}}
}

func (r *stubOrderRepo) Create(order *models.PendingOrder) error {
	order.ID = uint(len(r.orders) + 1)
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	cp := *order
	r.orders[order.CheckoutID] = &cp
	return nil
}

func (r *stubOrderRepo) GetByCheckoutID(checkoutID string) (*models.PendingOrder, error) {
	if o, ok := r.orders[checkoutID]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubOrderRepo) GetByGatewayCheckoutID(gatewayCheckoutID string) (*models.PendingOrder, error) {
	for _, o := range r.orders {
		if gatewayCheckoutID != "" && o.GatewayCheckoutID == gatewayCheckoutID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubOrderRepo) MarkPaid(checkoutID string) (bool, error)   { return false, nil }
func (r *stubOrderRepo) MarkFailed(checkoutID string) (bool, error) { return false, nil }
func (r *stubOrderRepo) MarkProvisionable(checkoutID, invitationID string, sentAt time.Time, userID uint) error {
	return nil
}
func (r *stubOrderRepo) MarkCompleted(checkoutID string, userID *uint) (bool, error) {
	return false, nil
}
func (r *stubOrderRepo) SetGatewayCheckoutID(checkoutID, gatewayCheckoutID string) error { return nil }
func (r *stubOrderRepo) ListByStatus(status string, offset, limit int) ([]models.PendingOrder, error) {
	return nil, nil
}
func (r *stubOrderRepo) ListStuck(statuses []string, olderThan time.Time, limit int) ([]models.PendingOrder, error) {
	return nil, nil
}
func (r *stubOrderRepo) Count() (int64, error) { return int64(len(r.orders)), nil }

var _ repository.ClaimRepository = (*stubClaimRepo)(nil)
var _ repository.OrderRepository = (*stubOrderRepo)(nil)

func newTestIssuer(legacySecret string) (*Issuer, *stubClaimRepo, *stubOrderRepo) {
	claims := newStubClaimRepo()
	orders := newStubOrderRepo()
	return NewIssuer(claims, orders, legacySecret), claims, orders
}

func addOrder(t *testing.T, orders *stubOrderRepo, checkoutID, status string) *models.PendingOrder {
	t.Helper()
	order := &models.PendingOrder{
		CheckoutID:    checkoutID,
		Status:        status,
		CustomerEmail: "cliente@x.com",
		ProductID:     "prod_completo",
	}
	require.NoError(t, orders.Create(order))
	return order
}

func TestMintAndValidate(t *testing.T) {
	issuer, claims, orders := newTestIssuer("")
	addOrder(t, orders, "co_1", models.OrderStatusProvisionable)

	token, err := issuer.Mint(context.Background(), "co_1", "cliente@x.com")
	require.NoError(t, err)
	assert.Len(t, token, 43) // 32 random bytes, unpadded base64url

	// Only the hash is stored
	_, ok := claims.claims[token]
	assert.False(t, ok)
	stored, err := claims.GetByTokenHash(HashToken(token))
	require.NoError(t, err)
	assert.Equal(t, "co_1", stored.CheckoutID)

	res, err := issuer.ValidateClaimToken(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, SourceClaim, res.Source)
	assert.Equal(t, "cliente@x.com", res.Email)
	assert.Equal(t, "co_1", res.Order.CheckoutID)
}

func TestValidateClaimToken_Unknown(t *testing.T) {
	issuer, _, _ := newTestIssuer("")
	res, err := issuer.ValidateClaimToken(context.Background(), "no-such-token")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "unknown_token", res.Reason)
}

func TestConsume_SingleUse(t *testing.T) {
	issuer, _, orders := newTestIssuer("")
	addOrder(t, orders, "co_1", models.OrderStatusPaid)
	token, err := issuer.Mint(context.Background(), "co_1", "cliente@x.com")
	require.NoError(t, err)

	consumed, err := issuer.Consume(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, consumed)

	consumed, err = issuer.Consume(context.Background(), token)
	require.NoError(t, err)
	assert.False(t, consumed)

	res, err := issuer.ValidateClaimToken(context.Background(), token)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "token_consumed", res.Reason)
}

func TestValidateClaimToken_Expired(t *testing.T) {
	issuer, _, orders := newTestIssuer("")
	addOrder(t, orders, "co_1", models.OrderStatusProvisionable)
	token, err := issuer.Mint(context.Background(), "co_1", "cliente@x.com")
	require.NoError(t, err)

	issuer.now = func() time.Time { return time.Now().Add(DefaultTTL + time.Hour) }
	res, err := issuer.ValidateClaimToken(context.Background(), token)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "token_expired", res.Reason)
}

func TestValidateClaimToken_OrderNotClaimable(t *testing.T) {
	issuer, _, orders := newTestIssuer("")
	addOrder(t, orders, "co_1", models.OrderStatusCompleted)
	token, err := issuer.Mint(context.Background(), "co_1", "cliente@x.com")
	require.NoError(t, err)

	res, err := issuer.ValidateClaimToken(context.Background(), token)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "order_not_claimable", res.Reason)
}

func signLegacyToken(t *testing.T, secret, checkoutID string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"checkout_id": checkoutID,
		"exp":         time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestValidateLegacySignupToken(t *testing.T) {
	issuer, _, orders := newTestIssuer("legacy-secret")
	addOrder(t, orders, "co_1", models.OrderStatusPaid)

	res, err := issuer.ValidateLegacySignupToken(context.Background(), signLegacyToken(t, "legacy-secret", "co_1"))
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, SourceSignupToken, res.Source)
	assert.Equal(t, "cliente@x.com", res.Email)

	// Wrong key
	res, err = issuer.ValidateLegacySignupToken(context.Background(), signLegacyToken(t, "other-secret", "co_1"))
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "invalid_signup_token", res.Reason)

	// Signed but without a checkout id
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}).
		SignedString([]byte("legacy-secret"))
	require.NoError(t, err)
	res, err = issuer.ValidateLegacySignupToken(context.Background(), tok)
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestValidateLegacySignupToken_Disabled(t *testing.T) {
	issuer, _, orders := newTestIssuer("")
	addOrder(t, orders, "co_1", models.OrderStatusPaid)

	res, err := issuer.ValidateLegacySignupToken(context.Background(), signLegacyToken(t, "any", "co_1"))
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "signup_tokens_disabled", res.Reason)
}

func TestValidateLegacyOrder(t *testing.T) {
	issuer, _, orders := newTestIssuer("")
	addOrder(t, orders, "co_1", models.OrderStatusProvisionable)

	res, err := issuer.ValidateLegacyOrder(context.Background(), "co_1")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, SourceOrder, res.Source)

	res, err = issuer.ValidateLegacyOrder(context.Background(), "co_unknown")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "unknown_order", res.Reason)
}

func TestValidateLegacyOrder_GatewayIDFallback(t *testing.T) {
	issuer, _, orders := newTestIssuer("")
	order := addOrder(t, orders, "co_1", models.OrderStatusPaid)
	order.GatewayCheckoutID = "6bf12a77-0000-4f00-9000-000000000000"
	orders.orders["co_1"] = order

	res, err := issuer.ValidateLegacyOrder(context.Background(), "6bf12a77-0000-4f00-9000-000000000000")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "co_1", res.Order.CheckoutID)
}

func TestValidateLegacyOrder_WindowExpired(t *testing.T) {
	issuer, _, orders := newTestIssuer("")
	order := addOrder(t, orders, "co_1", models.OrderStatusPaid)
	order.CreatedAt = time.Now().Add(-31 * 24 * time.Hour)
	orders.orders["co_1"] = order

	res, err := issuer.ValidateLegacyOrder(context.Background(), "co_1")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "order_link_expired", res.Reason)
}

func TestValidateLegacyOrder_NotClaimableStates(t *testing.T) {
	issuer, _, orders := newTestIssuer("")
	for _, status := range []string{models.OrderStatusPending, models.OrderStatusFailed, models.OrderStatusCompleted} {
		addOrder(t, orders, "co_"+status, status)
		res, err := issuer.ValidateLegacyOrder(context.Background(), "co_"+status)
		require.NoError(t, err)
		assert.False(t, res.Valid, status)
		assert.Equal(t, "order_not_claimable", res.Reason, status)
	}
}

func TestValidateAny_ChainPriority(t *testing.T) {
	issuer, _, orders := newTestIssuer("legacy-secret")
	addOrder(t, orders, "co_1", models.OrderStatusPaid)
	token, err := issuer.Mint(context.Background(), "co_1", "cliente@x.com")
	require.NoError(t, err)

	// Claim token wins over the other credentials
	res, err := issuer.ValidateAny(context.Background(), Request{
		ClaimToken: token,
		OrderID:    "co_unknown",
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, SourceClaim, res.Source)

	// An invalid claim token does not fall through to the order id
	res, err = issuer.ValidateAny(context.Background(), Request{
		ClaimToken: "bogus",
		OrderID:    "co_1",
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, SourceClaim, res.Source)

	// Without a claim token the legacy signup token applies
	res, err = issuer.ValidateAny(context.Background(), Request{
		SignupToken: signLegacyToken(t, "legacy-secret", "co_1"),
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, SourceSignupToken, res.Source)

	// And finally the plain order id
	res, err = issuer.ValidateAny(context.Background(), Request{OrderID: "co_1"})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, SourceOrder, res.Source)

	res, err = issuer.ValidateAny(context.Background(), Request{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "no_credentials", res.Reason)
}
