package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/provado-app/provado/app/controllers"
	"github.com/provado-app/provado/internal/pkg/constants"
	"github.com/provado-app/provado/internal/pkg/session"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	session.NewSessionStore()

	h.registerPublicRoutes(app)
}

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	// Gateway webhooks (no CSRF, signature-verified in controller)
	app.Post(constants.AsaasWebhookRoute, controllers.HandleAsaasWebhook)
	app.Post(constants.MercadoPagoWebhookRoute, controllers.HandleMercadoPagoWebhook)

	// Signup flow behind the claim link
	app.Get(constants.SignupValidateRoute, controllers.HandleSignupValidate)
	app.Post(constants.SignupCompleteRoute, controllers.HandleSignupComplete)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
