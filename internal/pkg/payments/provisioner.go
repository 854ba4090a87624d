package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/provado-app/provado/app/models"
	"github.com/provado-app/provado/app/repository"
	"github.com/provado-app/provado/internal/pkg/claims"
	"github.com/provado-app/provado/internal/pkg/entitlements"
	"github.com/provado-app/provado/internal/pkg/env"
	"github.com/provado-app/provado/internal/pkg/identity"
	"github.com/provado-app/provado/internal/pkg/mail"
)

// Directory is the slice of the identity admin API the provisioner needs.
// Satisfied by *identity.Client; tests substitute a fake.
type Directory interface {
	GetUserByEmail(ctx context.Context, email string) (*identity.DirectoryUser, error)
	UpdateUserMetadata(ctx context.Context, userID string, metadata map[string]interface{}) error
	CreateInvitation(ctx context.Context, email, redirectTo string, metadata map[string]interface{}) (*identity.Invitation, error)
}

// Provisioner turns a confirmed payment into product access: it grants the
// entitlement, syncs the identity directory and either completes the order
// (known customer) or parks it as provisionable behind a signup claim
// (new customer). Every step is idempotent so a failed pass can be re-run
// from the top on gateway retry or by the reconciliation sweeper.
type Provisioner struct {
	users        repository.UserRepository
	orders       repository.OrderRepository
	entitlements repository.EntitlementRepository
	plans        repository.PricingPlanRepository

	directory Directory
	issuer    *claims.Issuer

	publicBaseURL string
	sendMail      func(to, productName, signupURL string) error
	now           func() time.Time
}

// NewProvisioner wires a provisioner from injected dependencies.
func NewProvisioner(repos *repository.Repositories, directory Directory, issuer *claims.Issuer, publicBaseURL string) *Provisioner {
	return &Provisioner{
		users:         repos.User,
		orders:        repos.Order,
		entitlements:  repos.Entitlement,
		plans:         repos.PricingPlan,
		directory:     directory,
		issuer:        issuer,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		sendMail:      mail.SendSignupClaimMail,
		now:           time.Now,
	}
}

// NewProvisionerFromEnv builds the production provisioner on the global
// repository factory and env-configured identity client.
func NewProvisionerFromEnv(repos *repository.Repositories) *Provisioner {
	issuer := claims.NewIssuer(repos.Claim, repos.Order, env.GetEnv("LEGACY_SIGNUP_TOKEN_SECRET", ""))
	return NewProvisioner(repos, identity.NewClientFromEnv(), issuer, env.GetEnv("PUBLIC_BASE_URL", "http://localhost:3000"))
}

// ProvisionOrder runs the success path for a paid order. The event supplies
// the payment traceability fields; ev may stem from the original delivery or
// from the stored event record during reconciliation.
func (p *Provisioner) ProvisionOrder(ctx context.Context, order *models.PendingOrder, ev *NormalizedEvent) error {
	plan, err := p.plans.GetActiveByProductID(order.ProductID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("no active pricing plan for product %s", order.ProductID)
		}
		return err
	}
	// Plan strings in the pricing table are free-form; grants and directory
	// metadata only ever carry the normalized internal plan.
	plan.InternalPlan = string(entitlements.NormalizePlan(plan.InternalPlan))

	paymentID := paymentReference(order, ev)
	paidAt := p.now()
	if ev.ConfirmedDate != nil {
		paidAt = *ev.ConfirmedDate
	} else if ev.PaymentDate != nil {
		paidAt = *ev.PaymentDate
	}

	metadata := map[string]interface{}{
		"payment_provider": ev.Provider,
		"payment_id":       paymentID,
		"product_id":       order.ProductID,
		"plan":             plan.InternalPlan,
		"checkout_id":      order.CheckoutID,
		"paid_at":          paidAt.UTC().Format(time.RFC3339),
	}

	existing, err := p.directory.GetUserByEmail(ctx, order.CustomerEmail)
	if err != nil {
		return fmt.Errorf("directory lookup for %s: %w", order.CustomerEmail, err)
	}

	if existing != nil {
		return p.provisionExistingUser(ctx, order, plan, ev, existing, metadata, paymentID, paidAt)
	}
	return p.provisionNewUser(ctx, order, plan, ev, metadata, paymentID, paidAt)
}

// provisionExistingUser grants access to a customer the directory already
// knows. No signup is needed, so the order completes immediately.
func (p *Provisioner) provisionExistingUser(ctx context.Context, order *models.PendingOrder, plan *models.PricingPlan, ev *NormalizedEvent, dirUser *identity.DirectoryUser, metadata map[string]interface{}, paymentID string, paidAt time.Time) error {
	if err := p.directory.UpdateUserMetadata(ctx, dirUser.ID, metadata); err != nil {
		return fmt.Errorf("directory metadata update: %w", err)
	}

	user := &models.User{
		Email:           order.CustomerEmail,
		Role:            models.ROLE_USER,
		Status:          models.STATUS_ACTIVE,
		ExternalID:      dirUser.ID,
		PaymentProvider: ev.Provider,
		PaymentID:       paymentID,
		Paid:            true,
		PaidAt:          &paidAt,
	}
	if _, err := p.users.Upsert(user); err != nil {
		return fmt.Errorf("upsert account %s: %w", order.CustomerEmail, err)
	}

	if err := p.grantEntitlement(user.ID, order, plan, paymentID); err != nil {
		return err
	}

	if _, err := p.orders.MarkCompleted(order.CheckoutID, &user.ID); err != nil {
		return fmt.Errorf("complete order %s: %w", order.CheckoutID, err)
	}
	log.Infof("[Provisioner] order %s completed for existing user %s", order.CheckoutID, order.CustomerEmail)
	return nil
}

// provisionNewUser grants access to a customer without a directory account:
// mint a signup claim, issue the invitation and park the order as
// provisionable until signup completes.
func (p *Provisioner) provisionNewUser(ctx context.Context, order *models.PendingOrder, plan *models.PricingPlan, ev *NormalizedEvent, metadata map[string]interface{}, paymentID string, paidAt time.Time) error {
	token, err := p.issuer.Mint(ctx, order.CheckoutID, order.CustomerEmail)
	if err != nil {
		return fmt.Errorf("mint signup claim for order %s: %w", order.CheckoutID, err)
	}
	signupURL := p.publicBaseURL + "/signup?claim=" + token
	metadata["claim_url"] = signupURL

	invitation, err := p.directory.CreateInvitation(ctx, order.CustomerEmail, signupURL, metadata)
	if err != nil {
		return fmt.Errorf("create invitation for %s: %w", order.CustomerEmail, err)
	}

	user := &models.User{
		Email:           order.CustomerEmail,
		Role:            models.ROLE_USER,
		Status:          models.STATUS_INVITED,
		PaymentProvider: ev.Provider,
		PaymentID:       paymentID,
		Paid:            true,
		PaidAt:          &paidAt,
	}
	if _, err := p.users.Upsert(user); err != nil {
		return fmt.Errorf("upsert invited account %s: %w", order.CustomerEmail, err)
	}

	if err := p.grantEntitlement(user.ID, order, plan, paymentID); err != nil {
		return err
	}

	if err := p.orders.MarkProvisionable(order.CheckoutID, invitation.ID, p.now(), user.ID); err != nil {
		return fmt.Errorf("mark order %s provisionable: %w", order.CheckoutID, err)
	}

	// The invitation mail from the directory is the primary channel; ours is
	// a best-effort duplicate carrying the claim link directly.
	if err := p.sendMail(order.CustomerEmail, plan.Name, signupURL); err != nil {
		log.Warnf("[Provisioner] signup claim mail to %s failed: %v", order.CustomerEmail, err)
	}

	log.Infof("[Provisioner] order %s provisionable, invitation %s sent to %s", order.CheckoutID, invitation.ID, order.CustomerEmail)
	return nil
}

// grantEntitlement creates the (user, product) grant or, when a revoked grant
// exists and a different payment is now confirming, re-activates it. A replay
// of the payment that got revoked can never restore access.
func (p *Provisioner) grantEntitlement(userID uint, order *models.PendingOrder, plan *models.PricingPlan, paymentID string) error {
	ent := &models.Entitlement{
		UserID:         userID,
		ProductID:      order.ProductID,
		PricingPlanID:  plan.ID,
		InternalPlan:   plan.InternalPlan,
		PaidPrice:      order.FinalPrice,
		PaymentID:      paymentID,
		Coupon:         order.Coupon,
		DiscountAmount: order.Discount,
	}

	created, stored, err := p.entitlements.Grant(ent)
	if err != nil {
		return fmt.Errorf("grant entitlement user=%d product=%s: %w", userID, order.ProductID, err)
	}
	if created {
		return nil
	}
	if stored.IsRevoked() && stored.PaymentID != paymentID {
		if err := p.entitlements.Regrant(stored.ID, paymentID, order.FinalPrice, order.Discount); err != nil {
			return fmt.Errorf("regrant entitlement %d: %w", stored.ID, err)
		}
		log.Infof("[Provisioner] entitlement %d re-activated by payment %s", stored.ID, paymentID)
	}
	return nil
}

// RevokeByPaymentID withdraws every entitlement traced to the payment and
// suspends the affected accounts, locally and in the directory. Refund events
// arrive without a checkout reference, so this path bypasses the order state
// machine entirely.
func (p *Provisioner) RevokeByPaymentID(ctx context.Context, paymentID, reason string) error {
	revoked, err := p.entitlements.RevokeByPaymentID(paymentID, reason, p.now())
	if err != nil {
		return fmt.Errorf("revoke entitlements for payment %s: %w", paymentID, err)
	}
	if len(revoked) == 0 {
		log.Infof("[Provisioner] no entitlements traced to payment %s", paymentID)
		return nil
	}

	for _, ent := range revoked {
		user, err := p.users.GetByID(ent.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Warnf("[Provisioner] entitlement %d references missing user %d", ent.ID, ent.UserID)
				continue
			}
			return err
		}

		if user.ExternalID != "" {
			err := p.directory.UpdateUserMetadata(ctx, user.ExternalID, map[string]interface{}{
				"access":           "suspended",
				"suspend_reason":   reason,
				"suspended_at":     p.now().UTC().Format(time.RFC3339),
				"payment_id":       paymentID,
				"payment_provider": user.PaymentProvider,
			})
			if err != nil {
				return fmt.Errorf("directory suspend for user %d: %w", user.ID, err)
			}
		}

		if err := p.users.Suspend(user.ID, reason, p.now()); err != nil {
			return fmt.Errorf("suspend account %d: %w", user.ID, err)
		}
		log.Infof("[Provisioner] user %d suspended, entitlement %d revoked (payment %s)", user.ID, ent.ID, paymentID)
	}
	return nil
}

// paymentReference picks the most specific payment identifier available for
// traceability. Checkout-level events may lack a payment object.
func paymentReference(order *models.PendingOrder, ev *NormalizedEvent) string {
	if ev.PaymentID != "" {
		return ev.PaymentID
	}
	if ev.GatewayCheckoutID != "" {
		return ev.GatewayCheckoutID
	}
	return order.CheckoutID
}
