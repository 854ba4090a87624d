package repository

import (
	"time"

	"github.com/provado-app/provado/app/models"
	"github.com/shopspring/decimal"
)

// UserRepository defines the interface for account-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByExternalID(externalID string) (*models.User, error)
	Upsert(user *models.User) (created bool, err error)
	Update(user *models.User) error
	Suspend(id uint, reason string, at time.Time) error
	Activate(id uint, externalID, name, passwordHash string) error
	Count() (int64, error)
}

// OrderRepository defines the interface for pending-order database operations.
// The Mark* methods enforce the order state machine in their SQL predicates:
// a completed order is never overwritten by any of them.
type OrderRepository interface {
	Create(order *models.PendingOrder) error
	GetByCheckoutID(checkoutID string) (*models.PendingOrder, error)
	GetByGatewayCheckoutID(gatewayCheckoutID string) (*models.PendingOrder, error)
	MarkPaid(checkoutID string) (updated bool, err error)
	MarkFailed(checkoutID string) (updated bool, err error)
	MarkProvisionable(checkoutID, invitationID string, sentAt time.Time, userID uint) error
	MarkCompleted(checkoutID string, userID *uint) (updated bool, err error)
	SetGatewayCheckoutID(checkoutID, gatewayCheckoutID string) error
	ListByStatus(status string, offset, limit int) ([]models.PendingOrder, error)
	ListStuck(statuses []string, olderThan time.Time, limit int) ([]models.PendingOrder, error)
	Count() (int64, error)
}

// PaymentEventRepository persists gateway webhook deliveries idempotently.
type PaymentEventRepository interface {
	// CreateIfNotExists inserts the event unless one with the same
	// (provider, provider_event_id) already exists. It reports whether this
	// call created the row and always returns the stored record.
	CreateIfNotExists(event *models.PaymentEvent) (created bool, stored *models.PaymentEvent, err error)
	// MarkProcessed stamps the event processed. Only events whose processing
	// ran to a final outcome get stamped; a redelivery of an unstamped event
	// is processed again instead of being answered as a duplicate.
	MarkProcessed(id uint, processingError string) error
	// RecordProcessingError notes a failed attempt without stamping the event
	// processed, keeping it eligible for redelivery.
	RecordProcessingError(id uint, processingError string) error
	GetByProviderEventID(provider, providerEventID string) (*models.PaymentEvent, error)
	GetLatestByCheckoutID(checkoutID string) (*models.PaymentEvent, error)
	// GetLatestByExternalReference finds the newest payment-carrying event by
	// its raw gateway reference, for orders only reachable through a learned
	// gateway checkout id.
	GetLatestByExternalReference(references []string) (*models.PaymentEvent, error)
	ListRecent(limit int) ([]models.PaymentEvent, error)
}

// EntitlementRepository manages product access grants.
type EntitlementRepository interface {
	// Grant inserts the entitlement unless one already exists for the same
	// (user, product). It reports whether this call created the row and
	// always returns the stored record.
	Grant(ent *models.Entitlement) (created bool, stored *models.Entitlement, err error)
	// Regrant re-activates a revoked entitlement against a new payment.
	Regrant(id uint, paymentID string, paidPrice, discount decimal.Decimal) error
	RevokeByPaymentID(paymentID, reason string, at time.Time) ([]models.Entitlement, error)
	ListByUser(userID uint) ([]models.Entitlement, error)
	ListByPaymentID(paymentID string) ([]models.Entitlement, error)
}

// PricingPlanRepository resolves purchasable products to internal plans.
type PricingPlanRepository interface {
	GetActiveByProductID(productID string) (*models.PricingPlan, error)
	Create(plan *models.PricingPlan) error
}

// ClaimRepository manages single-use signup claims.
type ClaimRepository interface {
	Create(claim *models.SignupClaim) error
	GetByTokenHash(tokenHash string) (*models.SignupClaim, error)
	// Consume marks the claim consumed; it reports false when the claim was
	// already consumed by a concurrent redemption.
	Consume(tokenHash string, at time.Time) (consumed bool, err error)
	GetLatestByCheckoutID(checkoutID string) (*models.SignupClaim, error)
}
