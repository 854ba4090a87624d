package jobqueue

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const (
	// Defaults for the reconciliation sweep when the payload leaves them zero.
	defaultReconcileCutoffMinutes = 30
	defaultReconcileLimit         = 100
)

// processReconcileOrdersJob sweeps for orders confirmed paid whose
// provisioning never completed (crash or identity outage mid-pass) and
// enqueues an individual provision retry for each. Webhook retries from the
// gateway cover most failures; the sweep catches the rest.
func (q *Queue) processReconcileOrdersJob(job *Job) error {
	payload, err := ReconcileOrdersJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid reconcile payload: %w", err)
	}
	if q.payments == nil {
		return errors.New("payment service not configured")
	}

	cutoffMinutes := payload.OlderThanMinutes
	if cutoffMinutes <= 0 {
		cutoffMinutes = defaultReconcileCutoffMinutes
	}
	limit := payload.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}

	olderThan := time.Now().Add(-time.Duration(cutoffMinutes) * time.Minute)
	orders, err := q.payments.StuckOrders(olderThan, limit)
	if err != nil {
		return fmt.Errorf("list stuck orders: %w", err)
	}
	if len(orders) == 0 {
		log.Debug("[JobQueue] Reconcile sweep found no stuck orders")
		return nil
	}

	log.Infof("[JobQueue] Reconcile sweep found %d stuck orders", len(orders))
	for _, order := range orders {
		retry := ProvisionRetryJobPayload{CheckoutID: order.CheckoutID}
		if _, err := q.EnqueueJob(JobTypeProvisionRetry, retry.ToMap()); err != nil {
			log.Errorf("[JobQueue] Failed to enqueue provision retry for %s: %v", order.CheckoutID, err)
		}
	}
	return nil
}
