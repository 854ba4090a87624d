package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/provado-app/provado/app/models"
	"github.com/provado-app/provado/app/repository"
	"github.com/provado-app/provado/internal/pkg/cache"
	"github.com/provado-app/provado/internal/pkg/metrics/counter"
)

// seenEventTTL bounds the Redis fast-path dedup marker. The DB unique index
// remains the authoritative guard; the marker only saves a round trip on the
// gateways' aggressive short-interval retries.
const seenEventTTL = 24 * time.Hour

// Service ingests normalized gateway events: it records each delivery exactly
// once and drives the order state machine plus provisioning off the recorded
// event.
type Service struct {
	events      repository.PaymentEventRepository
	orders      repository.OrderRepository
	provisioner *Provisioner
}

// NewService wires the ingestion service from injected dependencies.
func NewService(repos *repository.Repositories, provisioner *Provisioner) *Service {
	return &Service{
		events:      repos.PaymentEvent,
		orders:      repos.Order,
		provisioner: provisioner,
	}
}

// NewServiceFromEnv builds the production service on the global repository
// factory.
func NewServiceFromEnv() *Service {
	repos := repository.GetGlobalRepositories()
	return NewService(repos, NewProvisionerFromEnv(repos))
}

// RecordEvent persists the delivery keyed by (provider, event id) and reports
// whether this delivery is the first. Deliveries without a provider event id
// are keyed by a hash of the payload so byte-identical retries still
// deduplicate.
func (s *Service) RecordEvent(ctx context.Context, ev *NormalizedEvent, signatureValid bool) (*models.PaymentEvent, bool, error) {
	eventID := ev.ProviderEventID
	if eventID == "" {
		sum := sha256.Sum256(ev.RawPayload)
		eventID = "sha256:" + hex.EncodeToString(sum[:])
	}

	// Fast path: a retry of an already-seen delivery skips the insert.
	seenKey := "payments:webhook:seen:" + ev.Provider + ":" + eventID
	if set, err := cache.SetNX(seenKey, "1", seenEventTTL); err == nil && !set {
		stored, err := s.events.GetByProviderEventID(ev.Provider, eventID)
		if err == nil {
			return stored, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, err
		}
		// Marker without a row means the first insert never landed; fall
		// through and let the unique index decide.
	}

	record := &models.PaymentEvent{
		Provider:          ev.Provider,
		ProviderEventID:   eventID,
		ProviderPaymentID: ev.PaymentID,
		EventType:         ev.EventType,
		Status:            ev.Status,
		BillingType:       ev.BillingType,
		Amount:            ev.Amount,
		NetAmount:         ev.NetAmount,
		PaymentDate:       ev.PaymentDate,
		ConfirmedDate:     ev.ConfirmedDate,
		ExternalReference: ev.ExternalReference,
		CheckoutID:        storableCheckoutID(ev),
		PayloadJSON:       string(ev.RawPayload),
		SignatureValid:    signatureValid,
	}

	created, stored, err := s.events.CreateIfNotExists(record)
	if err != nil {
		return nil, false, err
	}
	if !created {
		_ = counter.AddWebhookOutcome(counter.OutcomeDuplicate)
		log.Infof("[Payments] duplicate delivery provider=%s event=%s", ev.Provider, eventID)
	}
	return stored, created, nil
}

// ProcessEvent drives the order state machine for a freshly recorded event.
// The returned outcome is one of the counter.Outcome* values; a non-nil error
// means processing must be retried and the webhook answered with a server
// error so the gateway redelivers.
func (s *Service) ProcessEvent(ctx context.Context, record *models.PaymentEvent, ev *NormalizedEvent) (string, error) {
	outcome, err := s.processEvent(ctx, record, ev)
	_ = counter.AddWebhookOutcome(outcome)

	if err != nil {
		// The event stays unstamped so the gateway's redelivery gets a second
		// processing attempt instead of a duplicate answer.
		if markErr := s.events.RecordProcessingError(record.ID, err.Error()); markErr != nil {
			log.Errorf("[Payments] record event %d processing error: %v", record.ID, markErr)
		}
		return outcome, err
	}

	note := ""
	if outcome != counter.OutcomeProcessed {
		note = outcome
	}
	if markErr := s.events.MarkProcessed(record.ID, note); markErr != nil {
		log.Errorf("[Payments] mark event %d processed: %v", record.ID, markErr)
	}
	return outcome, nil
}

func (s *Service) processEvent(ctx context.Context, record *models.PaymentEvent, ev *NormalizedEvent) (string, error) {
	if ev.Kind == EventUnknown {
		log.Infof("[Payments] ignoring unhandled %s event %q", ev.Provider, ev.EventType)
		return counter.OutcomeIgnored, nil
	}

	// Refunds and chargebacks reference only the payment, not the checkout,
	// so they bypass the order state machine and revoke by payment id.
	if ev.Kind == EventPaymentRefunded {
		if ev.PaymentID == "" {
			log.Warnf("[Payments] %s refund event without payment id, nothing to revoke", ev.Provider)
			return counter.OutcomeIgnored, nil
		}
		if err := s.provisioner.RevokeByPaymentID(ctx, ev.PaymentID, string(ev.Kind)); err != nil {
			return counter.OutcomeFailed, err
		}
		return counter.OutcomeProcessed, nil
	}

	order, err := s.resolveOrder(ev)
	if err != nil {
		return counter.OutcomeFailed, err
	}
	if order == nil {
		// Not our order (other systems share the gateway account). Answered
		// with success so the gateway stops retrying.
		log.Infof("[Payments] no order for %s event %s (ref=%q checkout=%q)",
			ev.Provider, ev.EventType, ev.ExternalReference, ev.GatewayCheckoutID)
		return counter.OutcomeOrphaned, nil
	}

	// Learn the gateway-issued checkout id as an alternate lookup key.
	if ev.GatewayCheckoutID != "" && order.GatewayCheckoutID == "" {
		if err := s.orders.SetGatewayCheckoutID(order.CheckoutID, ev.GatewayCheckoutID); err != nil {
			log.Warnf("[Payments] store gateway checkout id for %s: %v", order.CheckoutID, err)
		}
	}

	switch {
	case ev.IsSuccess():
		return s.processSuccess(ctx, order, ev)
	case ev.IsFailure():
		updated, err := s.orders.MarkFailed(order.CheckoutID)
		if err != nil {
			return counter.OutcomeFailed, err
		}
		if !updated {
			// Completed wins: a late failure signal never reopens the order.
			log.Infof("[Payments] %s on completed order %s ignored", ev.EventType, order.CheckoutID)
			return counter.OutcomeIgnored, nil
		}
		log.Infof("[Payments] order %s failed (%s)", order.CheckoutID, ev.EventType)
		return counter.OutcomeProcessed, nil
	default:
		log.Infof("[Payments] ignoring %s event %q for order %s", ev.Provider, ev.EventType, order.CheckoutID)
		return counter.OutcomeIgnored, nil
	}
}

func (s *Service) processSuccess(ctx context.Context, order *models.PendingOrder, ev *NormalizedEvent) (string, error) {
	if order.Status == models.OrderStatusCompleted {
		log.Infof("[Payments] order %s already completed, %s is a no-op", order.CheckoutID, ev.EventType)
		return counter.OutcomeIgnored, nil
	}
	if order.Status == models.OrderStatusProvisionable {
		// The invitation is already out. Gateways confirm the same checkout
		// more than once (PAYMENT_RECEIVED then PAYMENT_CONFIRMED); running
		// provisioning again would mint a second claim and re-invite.
		log.Infof("[Payments] order %s awaiting signup, %s is a no-op", order.CheckoutID, ev.EventType)
		return counter.OutcomeIgnored, nil
	}

	if _, err := s.orders.MarkPaid(order.CheckoutID); err != nil {
		return counter.OutcomeFailed, err
	}
	order.Status = models.OrderStatusPaid

	if err := s.provisioner.ProvisionOrder(ctx, order, ev); err != nil {
		return counter.OutcomeFailed, err
	}
	return counter.OutcomeProcessed, nil
}

// resolveOrder maps the event onto a pending order. The external reference is
// the primary key after method-suffix stripping; legacy references and raw
// gateway ids fall back to the gateway checkout id column. A nil order with a
// nil error is an orphan.
func (s *Service) resolveOrder(ev *NormalizedEvent) (*models.PendingOrder, error) {
	ref := DeriveCheckoutID(ev.ExternalReference)
	if ref != "" {
		var (
			order *models.PendingOrder
			err   error
		)
		switch {
		case HasLegacyReference(ref):
			gatewayID := strings.TrimPrefix(ref, LegacyReferencePrefix)
			order, err = s.orders.GetByGatewayCheckoutID(gatewayID)
		case LooksGatewayIssued(ref):
			order, err = s.orders.GetByGatewayCheckoutID(ref)
		default:
			order, err = s.orders.GetByCheckoutID(ref)
		}
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if ev.GatewayCheckoutID != "" {
		order, err := s.orders.GetByGatewayCheckoutID(ev.GatewayCheckoutID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// ReprovisionOrder re-runs provisioning for an order stuck in an intermediate
// state, recovering the payment context from the stored event log. Used by
// the reconciliation sweeper and the admin replay endpoint.
func (s *Service) ReprovisionOrder(ctx context.Context, checkoutID string) error {
	order, err := s.orders.GetByCheckoutID(checkoutID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", checkoutID, err)
	}
	if order.Status == models.OrderStatusCompleted || order.Status == models.OrderStatusFailed {
		return nil
	}

	record, err := s.latestEventForOrder(order)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Infof("[Payments] order %s has no recorded payment event, skipping reprovision", checkoutID)
			return nil
		}
		return err
	}

	ev := &NormalizedEvent{
		Provider:          record.Provider,
		ProviderEventID:   record.ProviderEventID,
		EventType:         record.EventType,
		Kind:              EventPaymentReceived,
		PaymentID:         record.ProviderPaymentID,
		Status:            record.Status,
		BillingType:       record.BillingType,
		Amount:            record.Amount,
		NetAmount:         record.NetAmount,
		PaymentDate:       record.PaymentDate,
		ConfirmedDate:     record.ConfirmedDate,
		ExternalReference: record.ExternalReference,
	}
	return s.provisioner.ProvisionOrder(ctx, order, ev)
}

// latestEventForOrder recovers the newest payment-carrying event for the
// order. Events delivered under a legacy or gateway-issued reference are
// stored without an internal checkout id, so the lookup falls back to the
// learned gateway checkout id in both reference spellings.
func (s *Service) latestEventForOrder(order *models.PendingOrder) (*models.PaymentEvent, error) {
	record, err := s.events.GetLatestByCheckoutID(order.CheckoutID)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) || order.GatewayCheckoutID == "" {
		return nil, err
	}
	return s.events.GetLatestByExternalReference([]string{
		order.GatewayCheckoutID,
		LegacyReferencePrefix + order.GatewayCheckoutID,
	})
}

// StuckOrders lists orders confirmed paid but never fully provisioned before
// the cutoff. Orders awaiting customer signup are not stuck and excluded.
func (s *Service) StuckOrders(olderThan time.Time, limit int) ([]models.PendingOrder, error) {
	return s.orders.ListStuck([]string{models.OrderStatusPaid}, olderThan, limit)
}

// storableCheckoutID derives the internal checkout id column value for the
// event record. Legacy and gateway-issued references do not resolve to an
// internal id at insert time and are stored empty.
func storableCheckoutID(ev *NormalizedEvent) string {
	ref := DeriveCheckoutID(ev.ExternalReference)
	if ref == "" || HasLegacyReference(ref) || LooksGatewayIssued(ref) {
		return ""
	}
	return ref
}
