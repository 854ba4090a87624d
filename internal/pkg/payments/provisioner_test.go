package payments

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provado-app/provado/app/models"
	"github.com/provado-app/provado/app/repository"
	"github.com/provado-app/provado/internal/pkg/claims"
	"github.com/provado-app/provado/internal/pkg/entitlements"
	"github.com/provado-app/provado/internal/pkg/identity"
)

type testEnv struct {
	users     *fakeUserRepo
	orders    *fakeOrderRepo
	events    *fakeEventRepo
	ents      *fakeEntitlementRepo
	plans     *fakePlanRepo
	claims    *fakeClaimRepo
	directory *fakeDirectory

	mails []string

	provisioner *Provisioner
	service     *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	te := &testEnv{
		users:     newFakeUserRepo(),
		orders:    newFakeOrderRepo(),
		events:    newFakeEventRepo(),
		ents:      newFakeEntitlementRepo(),
		plans:     newFakePlanRepo(),
		claims:    newFakeClaimRepo(),
		directory: newFakeDirectory(),
	}

	repos := &repository.Repositories{
		User:         te.users,
		Order:        te.orders,
		PaymentEvent: te.events,
		Entitlement:  te.ents,
		PricingPlan:  te.plans,
		Claim:        te.claims,
	}
	issuer := claims.NewIssuer(te.claims, te.orders, "legacy-secret")
	te.provisioner = NewProvisioner(repos, te.directory, issuer, "https://app.provado.test")
	te.provisioner.sendMail = func(to, productName, signupURL string) error {
		te.mails = append(te.mails, to)
		return nil
	}
	te.service = NewService(repos, te.provisioner)

	require.NoError(t, te.plans.Create(&models.PricingPlan{
		ProductID:    "prod_completo",
		Name:         "Plano Completo",
		InternalPlan: "completo",
		Price:        decimal.NewFromFloat(129.90),
		IsActive:     true,
	}))

	return te
}

func (te *testEnv) addOrder(t *testing.T, checkoutID, email string) *models.PendingOrder {
	t.Helper()
	order := &models.PendingOrder{
		CheckoutID:    checkoutID,
		Status:        models.OrderStatusPending,
		CustomerEmail: email,
		ProductID:     "prod_completo",
		BasePrice:     decimal.NewFromFloat(129.90),
		FinalPrice:    decimal.NewFromFloat(129.90),
	}
	require.NoError(t, te.orders.Create(order))
	return order
}

func receivedEvent(eventID, paymentID, externalRef string) *NormalizedEvent {
	now := time.Now()
	return &NormalizedEvent{
		Provider:          models.PaymentProviderAsaas,
		ProviderEventID:   eventID,
		EventType:         "PAYMENT_RECEIVED",
		Kind:              EventPaymentReceived,
		PaymentID:         paymentID,
		Status:            "RECEIVED",
		Amount:            decimal.NewFromFloat(129.90),
		ConfirmedDate:     &now,
		ExternalReference: externalRef,
		RawPayload:        []byte(`{"event":"PAYMENT_RECEIVED"}`),
	}
}

func TestProvisionOrder_NewCustomer(t *testing.T) {
	te := newTestEnv(t)
	order := te.addOrder(t, "co_new1", "nova@cliente.com")

	err := te.provisioner.ProvisionOrder(context.Background(), order, receivedEvent("evt_1", "pay_1", "co_new1"))
	require.NoError(t, err)

	// Invited account with entitlement
	user, err := te.users.GetByEmail("nova@cliente.com")
	require.NoError(t, err)
	assert.Equal(t, models.STATUS_INVITED, user.Status)
	assert.True(t, user.Paid)
	assert.Equal(t, "pay_1", user.PaymentID)

	ents, _ := te.ents.ListByUser(user.ID)
	require.Len(t, ents, 1)
	assert.Equal(t, "completo", ents[0].InternalPlan)
	assert.Equal(t, "pay_1", ents[0].PaymentID)

	// Invitation issued and order parked awaiting signup
	assert.Equal(t, []string{"nova@cliente.com"}, te.directory.invitations)
	stored, _ := te.orders.GetByCheckoutID("co_new1")
	assert.Equal(t, models.OrderStatusProvisionable, stored.Status)
	assert.Equal(t, "inv_1", stored.InvitationID)

	// Claim minted, mail sent with the claim link
	claim, err := te.claims.GetLatestByCheckoutID("co_new1")
	require.NoError(t, err)
	assert.Equal(t, "nova@cliente.com", claim.Email)
	assert.Equal(t, []string{"nova@cliente.com"}, te.mails)
}

func TestProvisionOrder_ExistingCustomerCompletesImmediately(t *testing.T) {
	te := newTestEnv(t)
	order := te.addOrder(t, "co_ex1", "conhecida@cliente.com")
	te.directory.users["conhecida@cliente.com"] = &identity.DirectoryUser{ID: "uid-1", Email: "conhecida@cliente.com"}

	err := te.provisioner.ProvisionOrder(context.Background(), order, receivedEvent("evt_1", "pay_1", "co_ex1"))
	require.NoError(t, err)

	user, err := te.users.GetByEmail("conhecida@cliente.com")
	require.NoError(t, err)
	assert.Equal(t, models.STATUS_ACTIVE, user.Status)
	assert.Equal(t, "uid-1", user.ExternalID)

	stored, _ := te.orders.GetByCheckoutID("co_ex1")
	assert.Equal(t, models.OrderStatusCompleted, stored.Status)
	assert.Empty(t, te.directory.invitations)
	assert.Empty(t, te.mails)

	// Directory metadata carries the payment linkage
	meta := te.directory.metadata["uid-1"]
	require.NotNil(t, meta)
	assert.Equal(t, "pay_1", meta["payment_id"])
	assert.Equal(t, "completo", meta["plan"])
}

func TestProvisionOrder_Idempotent(t *testing.T) {
	te := newTestEnv(t)
	order := te.addOrder(t, "co_idem", "nova@cliente.com")
	ev := receivedEvent("evt_1", "pay_1", "co_idem")

	require.NoError(t, te.provisioner.ProvisionOrder(context.Background(), order, ev))
	require.NoError(t, te.provisioner.ProvisionOrder(context.Background(), order, ev))

	// Exactly one account and one entitlement despite the double run
	count, _ := te.users.Count()
	assert.EqualValues(t, 1, count)
	user, _ := te.users.GetByEmail("nova@cliente.com")
	ents, _ := te.ents.ListByUser(user.ID)
	assert.Len(t, ents, 1)
}

func TestProvisionOrder_NormalizesPlanName(t *testing.T) {
	te := newTestEnv(t)
	require.NoError(t, te.plans.Create(&models.PricingPlan{
		ProductID:    "prod_legacy",
		Name:         "Plano Completo (antigo)",
		InternalPlan: " Completo ",
		Price:        decimal.NewFromFloat(99.90),
		IsActive:     true,
	}))
	te.directory.users["cliente@x.com"] = &identity.DirectoryUser{ID: "uid-1", Email: "cliente@x.com"}

	order := te.addOrder(t, "co_pl", "cliente@x.com")
	order.ProductID = "prod_legacy"

	require.NoError(t, te.provisioner.ProvisionOrder(context.Background(), order, receivedEvent("evt_1", "pay_1", "co_pl")))

	// The free-form pricing-table string never leaks into grants or metadata
	user, _ := te.users.GetByEmail("cliente@x.com")
	ents, _ := te.ents.ListByUser(user.ID)
	require.Len(t, ents, 1)
	assert.Equal(t, string(entitlements.PlanCompleto), ents[0].InternalPlan)
	assert.Equal(t, string(entitlements.PlanCompleto), te.directory.metadata["uid-1"]["plan"])
}

func TestProvisionOrder_NoActivePlan(t *testing.T) {
	te := newTestEnv(t)
	order := te.addOrder(t, "co_np", "a@b.com")
	order.ProductID = "prod_unknown"

	err := te.provisioner.ProvisionOrder(context.Background(), order, receivedEvent("evt_1", "pay_1", "co_np"))
	assert.Error(t, err)
}

func TestProvisionOrder_DirectoryFailurePropagates(t *testing.T) {
	te := newTestEnv(t)
	order := te.addOrder(t, "co_err", "a@b.com")
	te.directory.lookupErr = assert.AnError

	err := te.provisioner.ProvisionOrder(context.Background(), order, receivedEvent("evt_1", "pay_1", "co_err"))
	assert.Error(t, err)

	// Nothing was provisioned
	count, _ := te.users.Count()
	assert.EqualValues(t, 0, count)
}

func TestRevokeByPaymentID(t *testing.T) {
	te := newTestEnv(t)
	order := te.addOrder(t, "co_rev", "cliente@x.com")
	te.directory.users["cliente@x.com"] = &identity.DirectoryUser{ID: "uid-9", Email: "cliente@x.com"}
	require.NoError(t, te.provisioner.ProvisionOrder(context.Background(), order, receivedEvent("evt_1", "pay_9", "co_rev")))

	err := te.provisioner.RevokeByPaymentID(context.Background(), "pay_9", "payment_refunded")
	require.NoError(t, err)

	user, _ := te.users.GetByEmail("cliente@x.com")
	assert.Equal(t, models.STATUS_SUSPENDED, user.Status)
	assert.False(t, user.Paid)
	assert.Equal(t, "payment_refunded", user.SuspendReason)

	ents, _ := te.ents.ListByUser(user.ID)
	require.Len(t, ents, 1)
	assert.True(t, ents[0].IsRevoked())

	// Directory flagged as suspended
	assert.Equal(t, "suspended", te.directory.metadata["uid-9"]["access"])

	// Unknown payment ids are a no-op
	require.NoError(t, te.provisioner.RevokeByPaymentID(context.Background(), "pay_none", "payment_refunded"))
}

func TestRegrantAfterRevoke(t *testing.T) {
	te := newTestEnv(t)
	te.directory.users["cliente@x.com"] = &identity.DirectoryUser{ID: "uid-9", Email: "cliente@x.com"}

	order := te.addOrder(t, "co_r1", "cliente@x.com")
	require.NoError(t, te.provisioner.ProvisionOrder(context.Background(), order, receivedEvent("evt_1", "pay_old", "co_r1")))
	require.NoError(t, te.provisioner.RevokeByPaymentID(context.Background(), "pay_old", "payment_refunded"))

	// Replaying the refunded payment must not restore access
	require.NoError(t, te.provisioner.ProvisionOrder(context.Background(), order, receivedEvent("evt_1b", "pay_old", "co_r1")))
	user, _ := te.users.GetByEmail("cliente@x.com")
	ents, _ := te.ents.ListByUser(user.ID)
	require.Len(t, ents, 1)
	assert.True(t, ents[0].IsRevoked())

	// A new payment re-activates the grant
	order2 := te.addOrder(t, "co_r2", "cliente@x.com")
	require.NoError(t, te.provisioner.ProvisionOrder(context.Background(), order2, receivedEvent("evt_2", "pay_new", "co_r2")))
	ents, _ = te.ents.ListByUser(user.ID)
	require.Len(t, ents, 1)
	assert.False(t, ents[0].IsRevoked())
	assert.Equal(t, "pay_new", ents[0].PaymentID)
}
