package claims

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

// Validation sources, in fallback priority order.
const (
	SourceClaim       = "claim"
	SourceSignupToken = "signup_token"
	SourceOrder       = "order"
)

// legacyOrderWindow bounds how old an order may be for the plain order-id
// links the very first checkout flow sent out.
const legacyOrderWindow = 30 * 24 * time.Hour

// Request carries whichever credentials the signup page received. The three
// flows gate the same downstream action but are never conflated: a valid
// legacy order id does not imply a valid claim token and vice versa.
type Request struct {
	ClaimToken  string
	SignupToken string
	OrderID     string
}

type resolver struct {
	source   string
	applies  func(req Request) bool
	validate func(ctx context.Context, req Request) (*Result, error)
}

// ValidateAny evaluates the fallback chain in priority order
// (claim token, then legacy signup token, then legacy order id) and returns
// the first applicable result.
func (i *Issuer) ValidateAny(ctx context.Context, req Request) (*Result, error) {
	chain := []resolver{
		{
			source:  SourceClaim,
			applies: func(r Request) bool { return strings.TrimSpace(r.ClaimToken) != "" },
			validate: func(ctx context.Context, r Request) (*Result, error) {
				return i.ValidateClaimToken(ctx, strings.TrimSpace(r.ClaimToken))
			},
		},
		{
			source:  SourceSignupToken,
			applies: func(r Request) bool { return strings.TrimSpace(r.SignupToken) != "" },
			validate: func(ctx context.Context, r Request) (*Result, error) {
				return i.ValidateLegacySignupToken(ctx, strings.TrimSpace(r.SignupToken))
			},
		},
		{
			source:  SourceOrder,
			applies: func(r Request) bool { return strings.TrimSpace(r.OrderID) != "" },
			validate: func(ctx context.Context, r Request) (*Result, error) {
				return i.ValidateLegacyOrder(ctx, strings.TrimSpace(r.OrderID))
			},
		},
	}

	for _, r := range chain {
		if r.applies(req) {
			return r.validate(ctx, req)
		}
	}
	return invalid("no_credentials", ""), nil
}

// ValidateLegacySignupToken validates the retired HS256 signup-token links.
// The token embeds the checkout id; expiry is enforced by the JWT itself.
func (i *Issuer) ValidateLegacySignupToken(ctx context.Context, token string) (*Result, error) {
	if i.legacySecret == "" {
		return invalid("signup_tokens_disabled", SourceSignupToken), nil
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(i.legacySecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return invalid("invalid_signup_token", SourceSignupToken), nil
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return invalid("invalid_signup_token", SourceSignupToken), nil
	}
	checkoutID, _ := mapClaims["checkout_id"].(string)
	if strings.TrimSpace(checkoutID) == "" {
		return invalid("invalid_signup_token", SourceSignupToken), nil
	}

	order, err := i.orderForSignup(ctx, checkoutID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return invalid("order_not_claimable", SourceSignupToken), nil
	}
	email, _ := mapClaims["email"].(string)
	if email == "" {
		email = order.CustomerEmail
	}
	return &Result{Valid: true, Source: SourceSignupToken, Order: order, Email: email}, nil
}

// ValidateLegacyOrder validates the oldest link format, a plain order id.
// Besides the shared order-state predicate it applies a validity window so
// stale links cannot be replayed indefinitely.
func (i *Issuer) ValidateLegacyOrder(ctx context.Context, orderID string) (*Result, error) {
	order, err := i.orders.GetByCheckoutID(orderID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		// Legacy links occasionally carried the gateway-issued id. Internal
		// checkout ids never contain dashes, gateway-issued ones always do.
		if !strings.Contains(orderID, "-") {
			return invalid("unknown_order", SourceOrder), nil
		}
		order, err = i.orders.GetByGatewayCheckoutID(orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return invalid("unknown_order", SourceOrder), nil
			}
			return nil, err
		}
	}

	if !order.AwaitingSignup() {
		return invalid("order_not_claimable", SourceOrder), nil
	}
	if i.now().Sub(order.CreatedAt) > legacyOrderWindow {
		return invalid("order_link_expired", SourceOrder), nil
	}
	return &Result{Valid: true, Source: SourceOrder, Order: order, Email: order.CustomerEmail}, nil
}
