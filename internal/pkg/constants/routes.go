package constants

// Static route constants
const (
	PublicRoute             = "/"
	AsaasWebhookRoute       = "/webhooks/asaas"
	MercadoPagoWebhookRoute = "/webhooks/mercadopago"
	SignupValidateRoute     = "/signup/validate"
	SignupCompleteRoute     = "/signup/complete"
)
