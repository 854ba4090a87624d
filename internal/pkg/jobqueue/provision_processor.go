package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
)

// processProvisionRetryJob re-runs the idempotent provisioning pass for one
// paid order. Provisioning converges, so retrying after a partial failure is
// always safe.
func (q *Queue) processProvisionRetryJob(ctx context.Context, job *Job) error {
	payload, err := ProvisionRetryJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid provision retry payload: %w", err)
	}
	if payload.CheckoutID == "" {
		return errors.New("provision retry payload missing checkout id")
	}
	if q.payments == nil {
		return errors.New("payment service not configured")
	}

	log.Infof("[JobQueue] Reprovisioning order %s", payload.CheckoutID)
	return q.payments.ReprovisionOrder(ctx, payload.CheckoutID)
}
