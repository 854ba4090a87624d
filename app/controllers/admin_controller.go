package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/provado-app/provado/app/models"
	"github.com/provado-app/provado/app/repository"
	"github.com/provado-app/provado/internal/pkg/jobqueue"
	"github.com/provado-app/provado/internal/pkg/metrics/counter"
)

const defaultAdminPageSize = 50

// HandleAdminListOrders returns orders filtered by status for the back-office
// panel.
func HandleAdminListOrders(c *fiber.Ctx) error {
	status := strings.TrimSpace(c.Query("status", models.OrderStatusPending))
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", defaultAdminPageSize)
	if limit <= 0 || limit > 200 {
		limit = defaultAdminPageSize
	}

	orders, err := repository.GetGlobalRepositories().Order.ListByStatus(status, offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "order_list_failed"})
	}
	return c.JSON(fiber.Map{"orders": orders, "count": len(orders)})
}

// HandleAdminListEvents returns the newest recorded gateway events.
func HandleAdminListEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultAdminPageSize)
	if limit <= 0 || limit > 200 {
		limit = defaultAdminPageSize
	}

	events, err := repository.GetGlobalRepositories().PaymentEvent.ListRecent(limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_list_failed"})
	}
	return c.JSON(fiber.Map{"events": events, "count": len(events)})
}

// HandleAdminReplayOrder enqueues a provisioning retry for one order, the
// manual recovery path when an order is stuck despite reconciliation.
func HandleAdminReplayOrder(c *fiber.Ctx) error {
	checkoutID := strings.TrimSpace(c.Params("id"))
	if checkoutID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_checkout_id"})
	}

	order, err := repository.GetGlobalRepositories().Order.GetByCheckoutID(checkoutID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_checkout"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "order_lookup_failed"})
	}
	if order.IsTerminal() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "order_terminal", "status": order.Status})
	}

	payload := jobqueue.ProvisionRetryJobPayload{CheckoutID: order.CheckoutID}
	job, err := jobqueue.GetManager().GetQueue().EnqueueJob(jobqueue.JobTypeProvisionRetry, payload.ToMap())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "enqueue_failed"})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ok": true, "job_id": job.ID})
}

// HandleAdminMetrics returns webhook outcome counters plus queue depths.
func HandleAdminMetrics(c *fiber.Ctx) error {
	outcomes, err := counter.Snapshot()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "counter_snapshot_failed"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	queue := jobqueue.GetManager().GetQueue()
	pending, _ := queue.GetQueueSize(ctx)
	processing, _ := queue.GetProcessingSize(ctx)
	stats, _ := queue.GetJobStats(ctx)

	return c.JSON(fiber.Map{
		"webhooks": outcomes,
		"jobs": fiber.Map{
			"pending":    pending,
			"processing": processing,
			"stats":      stats,
		},
	})
}
