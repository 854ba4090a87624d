package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provado-app/provado/app/models"
	"github.com/provado-app/provado/app/repository"
	"github.com/provado-app/provado/internal/pkg/claims"
)

func newSignupTestApp() *fiber.App {
	app := fiber.New()
	app.Get("/signup/validate", HandleSignupValidate)
	app.Post("/signup/complete", HandleSignupComplete)
	return app
}

// seedProvisionedOrder stands in for a completed provisioning pass: the order
// is parked awaiting signup, the invited account exists and a claim is minted.
func seedProvisionedOrder(t *testing.T, repos *repository.Repositories, checkoutID, email string) string {
	t.Helper()
	user, err := models.CreateInvitedUser(email, models.PaymentProviderAsaas, "pay_su", time.Now())
	require.NoError(t, err)
	require.NoError(t, repos.User.Create(user))

	sentAt := time.Now()
	require.NoError(t, repos.Order.Create(&models.PendingOrder{
		CheckoutID:    checkoutID,
		Status:        models.OrderStatusPending,
		CustomerEmail: email,
		ProductID:     "prod_completo",
		BasePrice:     decimal.NewFromFloat(129.90),
		FinalPrice:    decimal.NewFromFloat(129.90),
	}))
	require.NoError(t, repos.Order.MarkProvisionable(checkoutID, "inv_1", sentAt, user.ID))

	issuer := claims.NewIssuer(repos.Claim, repos.Order, "")
	token, err := issuer.Mint(context.Background(), checkoutID, email)
	require.NoError(t, err)
	return token
}

func getJSON(t *testing.T, app *fiber.App, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodGet, path, nil)
	resp, err := app.Test(req, 30000)
	require.NoError(t, err)
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHandleSignupValidate(t *testing.T) {
	repos := installFakeRepositories(t)
	token := seedProvisionedOrder(t, repos, "co_sv1", "nova@cliente.com")
	app := newSignupTestApp()

	resp, out := getJSON(t, app, "/signup/validate?claim="+token)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["isValid"])
	assert.Equal(t, claims.SourceClaim, out["source"])
	meta, _ := out["metadata"].(map[string]interface{})
	require.NotNil(t, meta)
	assert.Equal(t, "co_sv1", meta["checkout_id"])
	assert.Equal(t, "nova@cliente.com", meta["email"])
}

func TestHandleSignupValidate_UnknownToken(t *testing.T) {
	installFakeRepositories(t)
	app := newSignupTestApp()

	resp, out := getJSON(t, app, "/signup/validate?claim=nope")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, false, out["isValid"])
	assert.Equal(t, "unknown_token", out["reason"])
}

func TestHandleSignupValidate_NoCredentials(t *testing.T) {
	installFakeRepositories(t)
	app := newSignupTestApp()

	resp, out := getJSON(t, app, "/signup/validate")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, false, out["isValid"])
	assert.Equal(t, "no_credentials", out["reason"])
}

func TestHandleSignupComplete(t *testing.T) {
	repos := installFakeRepositories(t)
	token := seedProvisionedOrder(t, repos, "co_sc1", "nova@cliente.com")
	app := newSignupTestApp()

	body := fmt.Sprintf(`{"claim_token":%q,"name":"Nova Cliente","password":"s3nh4-f0rte"}`, token)
	req := httptest.NewRequest(fiber.MethodPost, "/signup/complete", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, 30000)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, "co_sc1", out["checkout_id"])

	// Account activated with the chosen name and password, order completed
	user, err := repos.User.GetByEmail("nova@cliente.com")
	require.NoError(t, err)
	assert.Equal(t, models.STATUS_ACTIVE, user.Status)
	assert.Equal(t, "Nova Cliente", user.Name)
	assert.True(t, models.CheckPasswordHash("s3nh4-f0rte", user.Password))
	order, err := repos.Order.GetByCheckoutID("co_sc1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, order.Status)

	// The claim is single-use: replaying the link cannot touch the account
	req = httptest.NewRequest(fiber.MethodPost, "/signup/complete", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req, 30000)
	require.NoError(t, err)
	out = map[string]interface{}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "token_consumed", out["reason"])
}

func TestHandleSignupComplete_InvalidBody(t *testing.T) {
	installFakeRepositories(t)
	app := newSignupTestApp()

	req := httptest.NewRequest(fiber.MethodPost, "/signup/complete", strings.NewReader(`not json`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, 30000)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
