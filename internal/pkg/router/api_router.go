package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/provado-app/provado/app/controllers"
	"github.com/provado-app/provado/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")
	v1.Post("/checkouts", controllers.HandleCreateCheckout)
	v1.Get("/checkouts/:id", controllers.HandleGetCheckout)

	// Back-office surface, gated by the admin service token
	admin := v1.Group("/admin", middleware.RequireAdminToken)
	admin.Get("/orders", controllers.HandleAdminListOrders)
	admin.Get("/events", controllers.HandleAdminListEvents)
	admin.Post("/orders/:id/replay", controllers.HandleAdminReplayOrder)
	admin.Get("/metrics", controllers.HandleAdminMetrics)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
