package payments

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provado-app/provado/app/models"
	"github.com/provado-app/provado/internal/pkg/identity"
	"github.com/provado-app/provado/internal/pkg/metrics/counter"
)

func failureEvent(eventID, paymentID, externalRef string) *NormalizedEvent {
	return &NormalizedEvent{
		Provider:          models.PaymentProviderAsaas,
		ProviderEventID:   eventID,
		EventType:         "PAYMENT_OVERDUE",
		Kind:              EventPaymentOverdue,
		PaymentID:         paymentID,
		Status:            "OVERDUE",
		ExternalReference: externalRef,
		RawPayload:        []byte(`{"event":"PAYMENT_OVERDUE"}`),
	}
}

func TestRecordEvent_DuplicateDelivery(t *testing.T) {
	te := newTestEnv(t)
	ev := receivedEvent("evt_dup", "pay_1", "co_1")

	first, isNew, err := te.service.RecordEvent(context.Background(), ev, true)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "co_1", first.CheckoutID)
	assert.True(t, first.SignatureValid)

	second, isNew, err := te.service.RecordEvent(context.Background(), ev, true)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, first.ID, second.ID)
}

func TestRecordEvent_MissingEventIDFallsBackToPayloadHash(t *testing.T) {
	te := newTestEnv(t)
	ev := receivedEvent("", "pay_1", "co_1")

	record, isNew, err := te.service.RecordEvent(context.Background(), ev, true)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.True(t, strings.HasPrefix(record.ProviderEventID, "sha256:"))

	// A byte-identical redelivery hashes to the same key
	_, isNew, err = te.service.RecordEvent(context.Background(), ev, true)
	require.NoError(t, err)
	assert.False(t, isNew)
}

func TestRecordEvent_GatewayReferenceStoresEmptyCheckoutID(t *testing.T) {
	te := newTestEnv(t)
	ev := receivedEvent("evt_g", "pay_1", "6bf12a77-0000-4f00-9000-000000000000")

	record, _, err := te.service.RecordEvent(context.Background(), ev, true)
	require.NoError(t, err)
	assert.Empty(t, record.CheckoutID)
}

func TestProcessEvent_SuffixStrippedReference(t *testing.T) {
	te := newTestEnv(t)
	te.addOrder(t, "co_123", "cliente@x.com")
	te.directory.users["cliente@x.com"] = &identity.DirectoryUser{ID: "uid-1", Email: "cliente@x.com"}

	ev := receivedEvent("evt_1", "pay_1", "co_123-pix")
	record, _, err := te.service.RecordEvent(context.Background(), ev, true)
	require.NoError(t, err)

	outcome, err := te.service.ProcessEvent(context.Background(), record, ev)
	require.NoError(t, err)
	assert.Equal(t, counter.OutcomeProcessed, outcome)

	order, _ := te.orders.GetByCheckoutID("co_123")
	assert.Equal(t, models.OrderStatusCompleted, order.Status)

	// The event record is marked processed without an error note
	stored, _ := te.events.GetByProviderEventID(ev.Provider, "evt_1")
	require.NotNil(t, stored.ProcessedAt)
	assert.Empty(t, stored.ProcessingError)
}

func TestProcessEvent_NewCustomerParksOrderProvisionable(t *testing.T) {
	te := newTestEnv(t)
	te.addOrder(t, "co_n1", "nova@cliente.com")

	ev := receivedEvent("evt_1", "pay_1", "co_n1")
	record, _, err := te.service.RecordEvent(context.Background(), ev, true)
	require.NoError(t, err)

	outcome, err := te.service.ProcessEvent(context.Background(), record, ev)
	require.NoError(t, err)
	assert.Equal(t, counter.OutcomeProcessed, outcome)

	order, _ := te.orders.GetByCheckoutID("co_n1")
	assert.Equal(t, models.OrderStatusProvisionable, order.Status)
	assert.Equal(t, []string{"nova@cliente.com"}, te.directory.invitations)
}

func TestProcessEvent_CompletedWins(t *testing.T) {
	te := newTestEnv(t)
	te.addOrder(t, "co_done", "cliente@x.com")
	te.directory.users["cliente@x.com"] = &identity.DirectoryUser{ID: "uid-1", Email: "cliente@x.com"}

	ev := receivedEvent("evt_1", "pay_1", "co_done")
	record, _, _ := te.service.RecordEvent(context.Background(), ev, true)
	_, err := te.service.ProcessEvent(context.Background(), record, ev)
	require.NoError(t, err)

	// A late overdue signal on the completed order is dropped
	late := failureEvent("evt_2", "pay_1", "co_done")
	record, _, _ = te.service.RecordEvent(context.Background(), late, true)
	outcome, err := te.service.ProcessEvent(context.Background(), record, late)
	require.NoError(t, err)
	assert.Equal(t, counter.OutcomeIgnored, outcome)

	order, _ := te.orders.GetByCheckoutID("co_done")
	assert.Equal(t, models.OrderStatusCompleted, order.Status)

	// And so is a replayed success
	record, _, _ = te.service.RecordEvent(context.Background(), receivedEvent("evt_3", "pay_1", "co_done"), true)
	outcome, err = te.service.ProcessEvent(context.Background(), record, receivedEvent("evt_3", "pay_1", "co_done"))
	require.NoError(t, err)
	assert.Equal(t, counter.OutcomeIgnored, outcome)
}

func TestProcessEvent_SecondConfirmationDoesNotReinvite(t *testing.T) {
	te := newTestEnv(t)
	te.addOrder(t, "co_2x", "nova@cliente.com")

	// First confirmation parks the order behind an invitation
	first := receivedEvent("evt_a", "pay_1", "co_2x")
	record, _, _ := te.service.RecordEvent(context.Background(), first, true)
	outcome, err := te.service.ProcessEvent(context.Background(), record, first)
	require.NoError(t, err)
	assert.Equal(t, counter.OutcomeProcessed, outcome)

	// Asaas follows PAYMENT_RECEIVED with PAYMENT_CONFIRMED for the same
	// checkout; the second confirmation must not re-run provisioning.
	second := receivedEvent("evt_b", "pay_1", "co_2x")
	second.EventType = "PAYMENT_CONFIRMED"
	record, _, _ = te.service.RecordEvent(context.Background(), second, true)
	outcome, err = te.service.ProcessEvent(context.Background(), record, second)
	require.NoError(t, err)
	assert.Equal(t, counter.OutcomeIgnored, outcome)

	order, _ := te.orders.GetByCheckoutID("co_2x")
	assert.Equal(t, models.OrderStatusProvisionable, order.Status)
	assert.Equal(t, []string{"nova@cliente.com"}, te.directory.invitations)
	assert.Equal(t, []string{"nova@cliente.com"}, te.mails)
}

func TestProcessEvent_FailedAttemptStaysEligibleForRedelivery(t *testing.T) {
	te := newTestEnv(t)
	te.addOrder(t, "co_retry", "cliente@x.com")
	te.directory.lookupErr = assert.AnError

	ev := receivedEvent("evt_1", "pay_1", "co_retry")
	record, _, err := te.service.RecordEvent(context.Background(), ev, true)
	require.NoError(t, err)
	_, err = te.service.ProcessEvent(context.Background(), record, ev)
	require.Error(t, err)

	// The failure is noted but the event is not stamped processed
	stored, _ := te.events.GetByProviderEventID(ev.Provider, "evt_1")
	assert.Nil(t, stored.ProcessedAt)
	assert.NotEmpty(t, stored.ProcessingError)

	// The gateway redelivers once the directory recovers
	te.directory.lookupErr = nil
	te.directory.users["cliente@x.com"] = &identity.DirectoryUser{ID: "uid-1", Email: "cliente@x.com"}
	outcome, err := te.service.ProcessEvent(context.Background(), record, ev)
	require.NoError(t, err)
	assert.Equal(t, counter.OutcomeProcessed, outcome)

	order, _ := te.orders.GetByCheckoutID("co_retry")
	assert.Equal(t, models.OrderStatusCompleted, order.Status)
	stored, _ = te.events.GetByProviderEventID(ev.Provider, "evt_1")
	require.NotNil(t, stored.ProcessedAt)
	assert.Empty(t, stored.ProcessingError)
}

func TestProcessEvent_FailureMarksOrderFailed(t *testing.T) {
	te := newTestEnv(t)
	te.addOrder(t, "co_f1", "cliente@x.com")

	ev := failureEvent("evt_1", "pay_1", "co_f1")
	record, _, _ := te.service.RecordEvent(context.Background(), ev, true)
	outcome, err := te.service.ProcessEvent(context.Background(), record, ev)
	require.NoError(t, err)
	assert.Equal(t, counter.OutcomeProcessed, outcome)

	order, _ := te.orders.GetByCheckoutID("co_f1")
	assert.Equal(t, models.OrderStatusFailed, order.Status)
}

func TestProcessEvent_RefundRevokesAndSuspends(t *testing.T) {
	te := newTestEnv(t)
	te.addOrder(t, "co_rf", "cliente@x.com")
	te.directory.users["cliente@x.com"] = &identity.DirectoryUser{ID: "uid-1", Email: "cliente@x.com"}

	ev := receivedEvent("evt_1", "pay_rf", "co_rf")
	record, _, _ := te.service.RecordEvent(context.Background(), ev, true)
	_, err := te.service.ProcessEvent(context.Background(), record, ev)
	require.NoError(t, err)

	// Refunds carry no checkout reference, only the payment id
	refund := &NormalizedEvent{
		Provider:        models.PaymentProviderAsaas,
		ProviderEventID: "evt_2",
		EventType:       "PAYMENT_REFUNDED",
		Kind:            EventPaymentRefunded,
		PaymentID:       "pay_rf",
		Status:          "REFUNDED",
		RawPayload:      []byte(`{"event":"PAYMENT_REFUNDED"}`),
	}
	record, _, _ = te.service.RecordEvent(context.Background(), refund, true)
	outcome, err := te.service.ProcessEvent(context.Background(), record, refund)
	require.NoError(t, err)
	assert.Equal(t, counter.OutcomeProcessed, outcome)

	user, _ := te.users.GetByEmail("cliente@x.com")
	assert.Equal(t, models.STATUS_SUSPENDED, user.Status)
	ents, _ := te.ents.ListByUser(user.ID)
	require.Len(t, ents, 1)
	assert.True(t, ents[0].IsRevoked())
	assert.Equal(t, "suspended", te.directory.metadata["uid-1"]["access"])
}

func TestProcessEvent_RefundWithoutPaymentID(t *testing.T) {
	te := newTestEnv(t)
	refund := &NormalizedEvent{
		Provider:        models.PaymentProviderAsaas,
		ProviderEventID: "evt_1",
		EventType:       "PAYMENT_REFUNDED",
		Kind:            EventPaymentRefunded,
		RawPayload:      []byte(`{}`),
	}
	record, _, _ := te.service.RecordEvent(context.Background(), refund, true)
	outcome, err := te.service.ProcessEvent(context.Background(), record, refund)
	require.NoError(t, err)
	assert.Equal(t, counter.OutcomeIgnored, outcome)
}

func TestProcessEvent_OrphanIsNotAnError(t *testing.T) {
	te := newTestEnv(t)

	ev := receivedEvent("evt_1", "pay_1", "co_nobody")
	record, _, _ := te.service.RecordEvent(context.Background(), ev, true)
	outcome, err := te.service.ProcessEvent(context.Background(), record, ev)
	require.NoError(t, err)
	assert.Equal(t, counter.OutcomeOrphaned, outcome)
}

func TestProcessEvent_UnknownKindIgnored(t *testing.T) {
	te := newTestEnv(t)
	ev := &NormalizedEvent{
		Provider:        models.PaymentProviderAsaas,
		ProviderEventID: "evt_1",
		EventType:       "PAYMENT_ANTICIPATED",
		Kind:            EventUnknown,
		RawPayload:      []byte(`{"event":"PAYMENT_ANTICIPATED"}`),
	}
	record, _, _ := te.service.RecordEvent(context.Background(), ev, true)
	outcome, err := te.service.ProcessEvent(context.Background(), record, ev)
	require.NoError(t, err)
	assert.Equal(t, counter.OutcomeIgnored, outcome)
}

func TestProcessEvent_LegacyAndGatewayReferences(t *testing.T) {
	te := newTestEnv(t)
	te.directory.users["cliente@x.com"] = &identity.DirectoryUser{ID: "uid-1", Email: "cliente@x.com"}

	order := te.addOrder(t, "co_lg", "cliente@x.com")
	require.NoError(t, te.orders.SetGatewayCheckoutID(order.CheckoutID, "6bf12a77-0000-4f00-9000-000000000000"))

	// Legacy chk_-prefixed references resolve through the gateway id
	ev := receivedEvent("evt_1", "pay_1", "chk_6bf12a77-0000-4f00-9000-000000000000")
	record, _, _ := te.service.RecordEvent(context.Background(), ev, true)
	outcome, err := te.service.ProcessEvent(context.Background(), record, ev)
	require.NoError(t, err)
	assert.Equal(t, counter.OutcomeProcessed, outcome)

	// So do raw gateway-issued ids
	order2 := te.addOrder(t, "co_lg2", "cliente@x.com")
	require.NoError(t, te.orders.SetGatewayCheckoutID(order2.CheckoutID, "7cf00000-1111-4f00-9000-000000000000"))
	ev = receivedEvent("evt_2", "pay_2", "7cf00000-1111-4f00-9000-000000000000")
	record, _, _ = te.service.RecordEvent(context.Background(), ev, true)
	outcome, err = te.service.ProcessEvent(context.Background(), record, ev)
	require.NoError(t, err)
	assert.Equal(t, counter.OutcomeProcessed, outcome)
}

func TestProcessEvent_LearnsGatewayCheckoutID(t *testing.T) {
	te := newTestEnv(t)
	te.addOrder(t, "co_learn", "nova@cliente.com")

	ev := receivedEvent("evt_1", "", "co_learn")
	ev.Kind = EventCheckoutPaid
	ev.EventType = "CHECKOUT_PAID"
	ev.GatewayCheckoutID = "6bf12a77-0000-4f00-9000-000000000000"

	record, _, _ := te.service.RecordEvent(context.Background(), ev, true)
	_, err := te.service.ProcessEvent(context.Background(), record, ev)
	require.NoError(t, err)

	order, _ := te.orders.GetByCheckoutID("co_learn")
	assert.Equal(t, "6bf12a77-0000-4f00-9000-000000000000", order.GatewayCheckoutID)
}

func TestReprovisionOrder(t *testing.T) {
	te := newTestEnv(t)
	te.addOrder(t, "co_stuck", "cliente@x.com")
	te.directory.users["cliente@x.com"] = &identity.DirectoryUser{ID: "uid-1", Email: "cliente@x.com"}

	// Delivery got recorded but provisioning never ran to completion
	ev := receivedEvent("evt_1", "pay_1", "co_stuck")
	_, _, err := te.service.RecordEvent(context.Background(), ev, true)
	require.NoError(t, err)
	_, err = te.orders.MarkPaid("co_stuck")
	require.NoError(t, err)

	require.NoError(t, te.service.ReprovisionOrder(context.Background(), "co_stuck"))

	order, _ := te.orders.GetByCheckoutID("co_stuck")
	assert.Equal(t, models.OrderStatusCompleted, order.Status)
	user, _ := te.users.GetByEmail("cliente@x.com")
	assert.Equal(t, "pay_1", user.PaymentID)
}

func TestReprovisionOrder_GatewayReferencedEvent(t *testing.T) {
	te := newTestEnv(t)
	te.directory.users["cliente@x.com"] = &identity.DirectoryUser{ID: "uid-1", Email: "cliente@x.com"}

	// The gateway only ever referenced this order by its own checkout id, so
	// the recorded event carries no internal checkout id.
	order := te.addOrder(t, "co_gw", "cliente@x.com")
	require.NoError(t, te.orders.SetGatewayCheckoutID(order.CheckoutID, "6bf12a77-0000-4f00-9000-000000000000"))

	ev := receivedEvent("evt_1", "pay_1", "6bf12a77-0000-4f00-9000-000000000000")
	record, _, err := te.service.RecordEvent(context.Background(), ev, true)
	require.NoError(t, err)
	assert.Empty(t, record.CheckoutID)
	_, err = te.orders.MarkPaid("co_gw")
	require.NoError(t, err)

	require.NoError(t, te.service.ReprovisionOrder(context.Background(), "co_gw"))

	stored, _ := te.orders.GetByCheckoutID("co_gw")
	assert.Equal(t, models.OrderStatusCompleted, stored.Status)
	user, _ := te.users.GetByEmail("cliente@x.com")
	assert.Equal(t, "pay_1", user.PaymentID)

	// Legacy chk_-prefixed references recover the same way
	order2 := te.addOrder(t, "co_gw2", "cliente@x.com")
	require.NoError(t, te.orders.SetGatewayCheckoutID(order2.CheckoutID, "7cf00000-1111-4f00-9000-000000000000"))
	ev2 := receivedEvent("evt_2", "pay_2", "chk_7cf00000-1111-4f00-9000-000000000000")
	_, _, err = te.service.RecordEvent(context.Background(), ev2, true)
	require.NoError(t, err)
	_, err = te.orders.MarkPaid("co_gw2")
	require.NoError(t, err)

	require.NoError(t, te.service.ReprovisionOrder(context.Background(), "co_gw2"))
	stored2, _ := te.orders.GetByCheckoutID("co_gw2")
	assert.Equal(t, models.OrderStatusCompleted, stored2.Status)
}

func TestReprovisionOrder_SkipsTerminalAndEventless(t *testing.T) {
	te := newTestEnv(t)

	order := te.addOrder(t, "co_t1", "a@b.com")
	_, err := te.orders.MarkCompleted(order.CheckoutID, nil)
	require.NoError(t, err)
	require.NoError(t, te.service.ReprovisionOrder(context.Background(), "co_t1"))

	// Paid but with no recorded event: logged and skipped, not an error
	te.addOrder(t, "co_t2", "a2@b.com")
	_, err = te.orders.MarkPaid("co_t2")
	require.NoError(t, err)
	require.NoError(t, te.service.ReprovisionOrder(context.Background(), "co_t2"))
	count, _ := te.users.Count()
	assert.EqualValues(t, 0, count)
}

func TestStuckOrders(t *testing.T) {
	te := newTestEnv(t)

	te.addOrder(t, "co_s1", "a@b.com")
	_, err := te.orders.MarkPaid("co_s1")
	require.NoError(t, err)

	// Provisionable orders wait on the customer and are not stuck
	te.addOrder(t, "co_s2", "b@b.com")
	require.NoError(t, te.orders.MarkProvisionable("co_s2", "inv_1", time.Now(), 1))

	stuck, err := te.service.StuckOrders(time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "co_s1", stuck[0].CheckoutID)
}
