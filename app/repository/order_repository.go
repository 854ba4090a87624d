package repository

import (
	"time"

	"github.com/provado-app/provado/app/models"
	"gorm.io/gorm"
)

// orderRepository implements the OrderRepository interface
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new pending-order repository instance
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// Create creates a new pending order in the database
func (r *orderRepository) Create(order *models.PendingOrder) error {
	return r.db.Create(order).Error
}

// GetByCheckoutID retrieves an order by its internal checkout id
func (r *orderRepository) GetByCheckoutID(checkoutID string) (*models.PendingOrder, error) {
	var order models.PendingOrder
	err := r.db.Where("checkout_id = ?", checkoutID).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetByGatewayCheckoutID retrieves an order by the gateway-issued checkout id
func (r *orderRepository) GetByGatewayCheckoutID(gatewayCheckoutID string) (*models.PendingOrder, error) {
	var order models.PendingOrder
	err := r.db.Where("gateway_checkout_id = ?", gatewayCheckoutID).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// MarkPaid transitions the order to paid. The WHERE predicate is the state
// guard: completed orders are left alone (completed wins) and provisionable
// orders never step back to paid, so a duplicate or late confirmation is a
// no-op and reports updated=false.
func (r *orderRepository) MarkPaid(checkoutID string) (bool, error) {
	tx := r.db.Model(&models.PendingOrder{}).
		Where("checkout_id = ? AND status NOT IN ?", checkoutID,
			[]string{models.OrderStatusCompleted, models.OrderStatusPaid, models.OrderStatusProvisionable}).
		Update("status", models.OrderStatusPaid)
	return tx.RowsAffected > 0, tx.Error
}

// MarkFailed transitions the order to failed unless it already completed.
// A failure signal arriving after successful completion never undoes it.
func (r *orderRepository) MarkFailed(checkoutID string) (bool, error) {
	tx := r.db.Model(&models.PendingOrder{}).
		Where("checkout_id = ? AND status <> ?", checkoutID, models.OrderStatusCompleted).
		Update("status", models.OrderStatusFailed)
	return tx.RowsAffected > 0, tx.Error
}

// MarkProvisionable records the issued invitation and the not-yet-signed-up
// account the order was provisioned against
func (r *orderRepository) MarkProvisionable(checkoutID, invitationID string, sentAt time.Time, userID uint) error {
	return r.db.Model(&models.PendingOrder{}).
		Where("checkout_id = ? AND status <> ?", checkoutID, models.OrderStatusCompleted).
		Updates(map[string]interface{}{
			"status":             models.OrderStatusProvisionable,
			"invitation_id":      invitationID,
			"invitation_sent_at": &sentAt,
			"user_id":            userID,
		}).Error
}

// MarkCompleted transitions the order to its final successful state
func (r *orderRepository) MarkCompleted(checkoutID string, userID *uint) (bool, error) {
	now := time.Now()
	updates := map[string]interface{}{
		"status":       models.OrderStatusCompleted,
		"completed_at": &now,
	}
	if userID != nil {
		updates["user_id"] = *userID
	}
	tx := r.db.Model(&models.PendingOrder{}).
		Where("checkout_id = ? AND status <> ?", checkoutID, models.OrderStatusCompleted).
		Updates(updates)
	return tx.RowsAffected > 0, tx.Error
}

// SetGatewayCheckoutID stores the alternate gateway-issued checkout id once
// the gateway reports it
func (r *orderRepository) SetGatewayCheckoutID(checkoutID, gatewayCheckoutID string) error {
	return r.db.Model(&models.PendingOrder{}).
		Where("checkout_id = ?", checkoutID).
		Update("gateway_checkout_id", gatewayCheckoutID).Error
}

// ListByStatus returns orders in the given status, newest first
func (r *orderRepository) ListByStatus(status string, offset, limit int) ([]models.PendingOrder, error) {
	var orders []models.PendingOrder
	err := r.db.Where("status = ?", status).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&orders).Error
	return orders, err
}

// ListStuck returns orders sitting in intermediate states longer than expected,
// used by the reconciliation sweeper to re-run idempotent provisioning.
func (r *orderRepository) ListStuck(statuses []string, olderThan time.Time, limit int) ([]models.PendingOrder, error) {
	var orders []models.PendingOrder
	err := r.db.Where("status IN ? AND updated_at < ?", statuses, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// Count returns the total number of pending orders
func (r *orderRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.PendingOrder{}).Count(&count).Error
	return count, err
}
