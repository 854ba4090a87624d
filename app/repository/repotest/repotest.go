// Package repotest provides in-memory implementations of the repository
// interfaces with the same guard semantics as the SQL implementations.
// Handler and service tests run against these instead of a database.
package repotest

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/provado-app/provado/app/models"
	"github.com/provado-app/provado/app/repository"
)

type UserRepo struct {
	mu     sync.Mutex
	nextID uint
	users  map[string]*models.User // keyed by email
}

func NewUserRepo() *UserRepo {
	return &UserRepo{nextID: 1, users: map[string]*models.User{}}
}

func (r *UserRepo) Create(user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.Email]; ok {
		return fmt.Errorf("duplicate email %s", user.Email)
	}
	user.ID = r.nextID
	r.nextID++
	cp := *user
	r.users[user.Email] = &cp
	return nil
}

func (r *UserRepo) GetByID(id uint) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *UserRepo) GetByEmail(email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[email]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *UserRepo) GetByExternalID(externalID string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ExternalID == externalID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *UserRepo) Upsert(user *models.User) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.users[user.Email]; ok {
		existing.Status = user.Status
		existing.ExternalID = user.ExternalID
		existing.PaymentProvider = user.PaymentProvider
		existing.PaymentID = user.PaymentID
		existing.Paid = user.Paid
		existing.PaidAt = user.PaidAt
		*user = *existing
		return false, nil
	}
	user.ID = r.nextID
	r.nextID++
	cp := *user
	r.users[user.Email] = &cp
	return true, nil
}

func (r *UserRepo) Update(user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *user
	r.users[user.Email] = &cp
	return nil
}

func (r *UserRepo) Suspend(id uint, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == id {
			u.Status = models.STATUS_SUSPENDED
			u.Paid = false
			u.SuspendedAt = &at
			u.SuspendReason = reason
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *UserRepo) Activate(id uint, externalID, name, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == id {
			u.Status = models.STATUS_ACTIVE
			if externalID != "" {
				u.ExternalID = externalID
			}
			if name != "" {
				u.Name = name
			}
			if passwordHash != "" {
				u.Password = passwordHash
			}
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *UserRepo) Count() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.users)), nil
}

type OrderRepo struct {
	mu     sync.Mutex
	orders map[string]*models.PendingOrder // keyed by checkout id
}

func NewOrderRepo() *OrderRepo {
	return &OrderRepo{orders: map[string]*models.PendingOrder{}}
}

func (r *OrderRepo) Create(order *models.PendingOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.CheckoutID]; ok {
		return fmt.Errorf("duplicate checkout id %s", order.CheckoutID)
	}
	order.ID = uint(len(r.orders) + 1)
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	cp := *order
	r.orders[order.CheckoutID] = &cp
	return nil
}

func (r *OrderRepo) GetByCheckoutID(checkoutID string) (*models.PendingOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[checkoutID]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *OrderRepo) GetByGatewayCheckoutID(gatewayCheckoutID string) (*models.PendingOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gatewayCheckoutID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	for _, o := range r.orders {
		if o.GatewayCheckoutID == gatewayCheckoutID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *OrderRepo) MarkPaid(checkoutID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[checkoutID]
	if !ok || o.Status == models.OrderStatusCompleted ||
		o.Status == models.OrderStatusPaid || o.Status == models.OrderStatusProvisionable {
		return false, nil
	}
	o.Status = models.OrderStatusPaid
	return true, nil
}

func (r *OrderRepo) MarkFailed(checkoutID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[checkoutID]
	if !ok || o.Status == models.OrderStatusCompleted {
		return false, nil
	}
	o.Status = models.OrderStatusFailed
	return true, nil
}

func (r *OrderRepo) MarkProvisionable(checkoutID, invitationID string, sentAt time.Time, userID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[checkoutID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if o.Status == models.OrderStatusCompleted {
		return nil
	}
	o.Status = models.OrderStatusProvisionable
	o.InvitationID = invitationID
	o.InvitationSentAt = &sentAt
	o.UserID = &userID
	return nil
}

func (r *OrderRepo) MarkCompleted(checkoutID string, userID *uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[checkoutID]
	if !ok || o.Status == models.OrderStatusCompleted {
		return false, nil
	}
	now := time.Now()
	o.Status = models.OrderStatusCompleted
	o.CompletedAt = &now
	if userID != nil {
		o.UserID = userID
	}
	return true, nil
}

func (r *OrderRepo) SetGatewayCheckoutID(checkoutID, gatewayCheckoutID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[checkoutID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	o.GatewayCheckoutID = gatewayCheckoutID
	return nil
}

func (r *OrderRepo) ListByStatus(status string, offset, limit int) ([]models.PendingOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PendingOrder
	for _, o := range r.orders {
		if o.Status == status {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (r *OrderRepo) ListStuck(statuses []string, olderThan time.Time, limit int) ([]models.PendingOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PendingOrder
	for _, o := range r.orders {
		for _, s := range statuses {
			if o.Status == s && o.UpdatedAt.Before(olderThan) {
				out = append(out, *o)
			}
		}
	}
	return out, nil
}

func (r *OrderRepo) Count() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.orders)), nil
}

type EventRepo struct {
	mu     sync.Mutex
	nextID uint
	events map[string]*models.PaymentEvent // keyed by provider + event id
}

func NewEventRepo() *EventRepo {
	return &EventRepo{nextID: 1, events: map[string]*models.PaymentEvent{}}
}

func eventKey(provider, providerEventID string) string {
	return provider + "|" + providerEventID
}

func (r *EventRepo) CreateIfNotExists(event *models.PaymentEvent) (bool, *models.PaymentEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := eventKey(event.Provider, event.ProviderEventID)
	if stored, ok := r.events[key]; ok {
		cp := *stored
		return false, &cp, nil
	}
	event.ID = r.nextID
	r.nextID++
	event.CreatedAt = time.Now()
	cp := *event
	r.events[key] = &cp
	out := cp
	return true, &out, nil
}

func (r *EventRepo) MarkProcessed(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *EventRepo) RecordProcessingError(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			e.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *EventRepo) GetByProviderEventID(provider, providerEventID string) (*models.PaymentEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.events[eventKey(provider, providerEventID)]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *EventRepo) GetLatestByCheckoutID(checkoutID string) (*models.PaymentEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.PaymentEvent
	for _, e := range r.events {
		if e.CheckoutID != checkoutID || e.ProviderPaymentID == "" {
			continue
		}
		if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *EventRepo) GetLatestByExternalReference(references []string) (*models.PaymentEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.PaymentEvent
	for _, e := range r.events {
		if e.ProviderPaymentID == "" {
			continue
		}
		for _, ref := range references {
			if ref != "" && e.ExternalReference == ref {
				if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
					latest = e
				}
			}
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *EventRepo) ListRecent(limit int) ([]models.PaymentEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PaymentEvent
	for _, e := range r.events {
		out = append(out, *e)
	}
	return out, nil
}

type EntitlementRepo struct {
	mu     sync.Mutex
	nextID uint
	ents   map[string]*models.Entitlement // keyed by user id + product id
}

func NewEntitlementRepo() *EntitlementRepo {
	return &EntitlementRepo{nextID: 1, ents: map[string]*models.Entitlement{}}
}

func entKey(userID uint, productID string) string {
	return fmt.Sprintf("%d|%s", userID, productID)
}

func (r *EntitlementRepo) Grant(ent *models.Entitlement) (bool, *models.Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := entKey(ent.UserID, ent.ProductID)
	if stored, ok := r.ents[key]; ok {
		cp := *stored
		return false, &cp, nil
	}
	ent.ID = r.nextID
	r.nextID++
	ent.GrantedAt = time.Now()
	cp := *ent
	r.ents[key] = &cp
	out := cp
	return true, &out, nil
}

func (r *EntitlementRepo) Regrant(id uint, paymentID string, paidPrice, discount decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.ents {
		if e.ID == id && e.RevokedAt != nil && e.PaymentID != paymentID {
			e.RevokedAt = nil
			e.RevokeReason = ""
			e.PaymentID = paymentID
			e.PaidPrice = paidPrice
			e.DiscountAmount = discount
			return nil
		}
	}
	return nil
}

func (r *EntitlementRepo) RevokeByPaymentID(paymentID, reason string, at time.Time) ([]models.Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Entitlement
	for _, e := range r.ents {
		if e.PaymentID == paymentID && e.RevokedAt == nil {
			e.RevokedAt = &at
			e.RevokeReason = reason
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *EntitlementRepo) ListByUser(userID uint) ([]models.Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Entitlement
	for _, e := range r.ents {
		if e.UserID == userID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *EntitlementRepo) ListByPaymentID(paymentID string) ([]models.Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Entitlement
	for _, e := range r.ents {
		if e.PaymentID == paymentID {
			out = append(out, *e)
		}
	}
	return out, nil
}

type PlanRepo struct {
	mu    sync.Mutex
	plans map[string]*models.PricingPlan // keyed by product id
}

func NewPlanRepo() *PlanRepo {
	return &PlanRepo{plans: map[string]*models.PricingPlan{}}
}

func (r *PlanRepo) GetActiveByProductID(productID string) (*models.PricingPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.plans[productID]; ok && p.IsActive {
		cp := *p
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *PlanRepo) Create(plan *models.PricingPlan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	plan.ID = uint(len(r.plans) + 1)
	cp := *plan
	r.plans[plan.ProductID] = &cp
	return nil
}

type ClaimRepo struct {
	mu     sync.Mutex
	nextID uint
	claims map[string]*models.SignupClaim // keyed by token hash
}

func NewClaimRepo() *ClaimRepo {
	return &ClaimRepo{nextID: 1, claims: map[string]*models.SignupClaim{}}
}

func (r *ClaimRepo) Create(claim *models.SignupClaim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	claim.ID = r.nextID
	r.nextID++
	claim.CreatedAt = time.Now()
	cp := *claim
	r.claims[claim.TokenHash] = &cp
	return nil
}

func (r *ClaimRepo) GetByTokenHash(tokenHash string) (*models.SignupClaim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.claims[tokenHash]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *ClaimRepo) Consume(tokenHash string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.claims[tokenHash]
	if !ok || c.ConsumedAt != nil {
		return false, nil
	}
	c.ConsumedAt = &at
	return true, nil
}

func (r *ClaimRepo) GetLatestByCheckoutID(checkoutID string) (*models.SignupClaim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.SignupClaim
	for _, c := range r.claims {
		if c.CheckoutID != checkoutID {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *latest
	return &cp, nil
}

// NewRepositories bundles a fresh fake of every repository.
func NewRepositories() *repository.Repositories {
	return &repository.Repositories{
		User:         NewUserRepo(),
		Order:        NewOrderRepo(),
		PaymentEvent: NewEventRepo(),
		Entitlement:  NewEntitlementRepo(),
		PricingPlan:  NewPlanRepo(),
		Claim:        NewClaimRepo(),
	}
}

var _ repository.UserRepository = (*UserRepo)(nil)
var _ repository.OrderRepository = (*OrderRepo)(nil)
var _ repository.PaymentEventRepository = (*EventRepo)(nil)
var _ repository.EntitlementRepository = (*EntitlementRepo)(nil)
var _ repository.PricingPlanRepository = (*PlanRepo)(nil)
var _ repository.ClaimRepository = (*ClaimRepo)(nil)
