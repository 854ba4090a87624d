package repository

import (
	"time"

	"github.com/provado-app/provado/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// paymentEventRepository implements the PaymentEventRepository interface
type paymentEventRepository struct {
	db *gorm.DB
}

// NewPaymentEventRepository creates a new payment event repository instance
func NewPaymentEventRepository(db *gorm.DB) PaymentEventRepository {
	return &paymentEventRepository{db: db}
}

// CreateIfNotExists inserts the event keyed by (provider, provider_event_id).
// The unique index plus DoNothing makes this the single concurrency-safety
// mechanism against duplicate webhook delivery: of two concurrent deliveries
// of the same physical event exactly one observes created=true.
func (r *paymentEventRepository) CreateIfNotExists(event *models.PaymentEvent) (bool, *models.PaymentEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// MarkProcessed records the processing outcome for audit
func (r *paymentEventRepository) MarkProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.PaymentEvent{}).Where("id = ?", id).Updates(updates).Error
}

// RecordProcessingError notes a failed processing attempt. processed_at stays
// NULL so the gateway's redelivery of the same event is processed again.
func (r *paymentEventRepository) RecordProcessingError(id uint, processingError string) error {
	return r.db.Model(&models.PaymentEvent{}).Where("id = ?", id).
		Update("processing_error", processingError).Error
}

// GetByProviderEventID retrieves an event by its dedup key
func (r *paymentEventRepository) GetByProviderEventID(provider, providerEventID string) (*models.PaymentEvent, error) {
	var event models.PaymentEvent
	err := r.db.Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// GetLatestByCheckoutID returns the newest payment-carrying event recorded
// against one checkout, used by reconciliation to recover the payment id.
func (r *paymentEventRepository) GetLatestByCheckoutID(checkoutID string) (*models.PaymentEvent, error) {
	var event models.PaymentEvent
	err := r.db.Where("checkout_id = ? AND provider_payment_id <> ''", checkoutID).
		Order("created_at DESC").
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// GetLatestByExternalReference returns the newest payment-carrying event whose
// raw external reference matches one of the given values. Events recorded
// against legacy or gateway-issued references carry no internal checkout id,
// so reconciliation falls back to the reference itself.
func (r *paymentEventRepository) GetLatestByExternalReference(references []string) (*models.PaymentEvent, error) {
	var event models.PaymentEvent
	err := r.db.Where("external_reference IN ? AND provider_payment_id <> ''", references).
		Order("created_at DESC").
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// ListRecent returns the newest events, for the admin panel
func (r *paymentEventRepository) ListRecent(limit int) ([]models.PaymentEvent, error) {
	var events []models.PaymentEvent
	err := r.db.Order("created_at DESC").Limit(limit).Find(&events).Error
	return events, err
}
