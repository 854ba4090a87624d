package controllers

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/provado-app/provado/app/models"
	"github.com/provado-app/provado/app/repository"
	"github.com/provado-app/provado/internal/pkg/payments"
)

// CreateCheckoutRequest is the body of the checkout creation call made by the
// storefront before redirecting the customer to the gateway.
type CreateCheckoutRequest struct {
	CustomerEmail string `json:"customer_email" validate:"required,email,max=200"`
	ProductID     string `json:"product_id" validate:"required,max=100"`
	Coupon        string `json:"coupon" validate:"omitempty,max=50"`
	Discount      string `json:"discount" validate:"omitempty"`
}

// HandleCreateCheckout registers a pending order and hands back the internal
// checkout id the storefront passes to the gateway as external reference.
func HandleCreateCheckout(c *fiber.Ctx) error {
	var req CreateCheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	req.CustomerEmail = strings.ToLower(strings.TrimSpace(req.CustomerEmail))
	req.ProductID = strings.TrimSpace(req.ProductID)

	if err := validator.New().Struct(req); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "details": err.Error()})
	}

	repos := repository.GetGlobalRepositories()
	plan, err := repos.PricingPlan.GetActiveByProductID(req.ProductID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_product"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "plan_lookup_failed"})
	}

	discount := decimal.Zero
	if strings.TrimSpace(req.Discount) != "" {
		discount, err = decimal.NewFromString(req.Discount)
		if err != nil || discount.IsNegative() || discount.GreaterThan(plan.Price) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "invalid_discount"})
		}
	}

	order := &models.PendingOrder{
		CheckoutID:    payments.NewCheckoutID(),
		Status:        models.OrderStatusPending,
		CustomerEmail: req.CustomerEmail,
		ProductID:     req.ProductID,
		BasePrice:     plan.Price,
		Discount:      discount,
		FinalPrice:    plan.Price.Sub(discount),
		Coupon:        strings.TrimSpace(req.Coupon),
	}
	if err := repos.Order.Create(order); err != nil {
		log.Errorf("[Checkout] create order failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "order_create_failed"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"checkout_id": order.CheckoutID,
		"product_id":  order.ProductID,
		"base_price":  order.BasePrice,
		"discount":    order.Discount,
		"final_price": order.FinalPrice,
	})
}

// HandleGetCheckout returns order metadata for the confirmation screen.
func HandleGetCheckout(c *fiber.Ctx) error {
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

	return c.JSON(fiber.Map{
		"checkout_id": order.CheckoutID,
		"status":      order.Status,
		"product_id":  order.ProductID,
		"final_price": order.FinalPrice,
		"created_at":  order.CreatedAt,
	})
}
