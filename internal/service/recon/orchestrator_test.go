package recon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	"github.com/vladislavdragonenkov/payrecon/internal/storage/memory"
)

type reconFixture struct {
	orders   domain.OrderRepository
	ledger   domain.LedgerRepository
	effects  domain.EffectRepository
	timeline domain.TimelineRepository
	store    domain.ReconStore
}

func newFixture(t *testing.T) (*Orchestrator, reconFixture) {
	t.Helper()

	orders := memory.NewOrderRepository()
	ledger := memory.NewLedgerRepository()
	effects := memory.NewEffectRepository()
	timeline := memory.NewTimelineRepository()
	store := memory.NewReconStore(orders, ledger, effects, timeline)

	logger := log.New()
	logger.SetLevel(log.PanicLevel)

	orch := NewOrchestratorWithoutMetrics(orders, ledger, store, logger.WithField("component", "recon-test"))
	return orch, reconFixture{
		orders:   orders,
		ledger:   ledger,
		effects:  effects,
		timeline: timeline,
		store:    store,
	}
}

func seedOrder(t *testing.T, orders domain.OrderRepository, id string) {
	t.Helper()

	now := time.Now().UTC()
	order := domain.Order{
		ID:          id,
		CustomerID:  "cust-1",
		Status:      domain.OrderStatusPending,
		Currency:    "USD",
		AmountMinor: 2500,
		Items: []domain.OrderItem{
			{ID: "item-1", SKU: "SKU-1", Qty: 1, PriceMinor: 2500, CreatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	payment := domain.Payment{
		ID:          id + "-pay",
		OrderID:     id,
		Provider:    "stripeish",
		Status:      domain.PaymentStatusPending,
		AmountMinor: 2500,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := orders.Create(order, payment); err != nil {
		t.Fatalf("seed order failed: %v", err)
	}
}

func capturedEvent(id, orderID string, at time.Time) domain.ProviderEvent {
	return domain.ProviderEvent{
		ID:         id,
		Type:       domain.EventPaymentCaptured,
		RawType:    string(domain.EventPaymentCaptured),
		OrderID:    orderID,
		PaymentRef: "ch_123",
		Outcome:    "success",
		OccurredAt: at,
	}
}

func TestHandle_AppliesCapturedEvent(t *testing.T) {
	orch, fx := newFixture(t)
	seedOrder(t, fx.orders, "order-1")

	result, err := orch.Handle(context.Background(), capturedEvent("evt-1", "order-1", time.Now().UTC()))
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if result.Status != domain.LedgerStatusApplied || result.Replayed {
		t.Fatalf("result = %+v, want applied first delivery", result)
	}

	order, payment, err := fx.orders.GetWithPayment("order-1")
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Fatalf("order status = %s, want processing", order.Status)
	}
	if payment.Status != domain.PaymentStatusSucceeded {
		t.Fatalf("payment status = %s, want succeeded", payment.Status)
	}
	if payment.ExternalID != "ch_123" {
		t.Fatalf("external id = %q, want ch_123", payment.ExternalID)
	}
	if order.Version != 1 {
		t.Fatalf("order version = %d, want 1", order.Version)
	}

	pending, _ := fx.effects.PullPending(10)
	if len(pending) != 2 {
		t.Fatalf("effects = %d, want confirmation + publish", len(pending))
	}

	timeline, _ := fx.timeline.List("order-1")
	if len(timeline) != 1 || timeline[0].Type != domain.TimelineTransitionApplied {
		t.Fatalf("timeline = %+v, want single transition entry", timeline)
	}
}

func TestHandle_DuplicateDeliveryIsNoOp(t *testing.T) {
	orch, fx := newFixture(t)
	seedOrder(t, fx.orders, "order-1")
	event := capturedEvent("evt-1", "order-1", time.Now().UTC())

	first, err := orch.Handle(context.Background(), event)
	if err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}

	second, err := orch.Handle(context.Background(), event)
	if err != nil {
		t.Fatalf("second delivery failed: %v", err)
	}
	if second.Status != first.Status {
		t.Fatalf("replay status = %s, want %s", second.Status, first.Status)
	}
	if !second.Replayed {
		t.Fatal("second delivery must be marked as replay")
	}

	order, _ := fx.orders.Get("order-1")
	if order.Version != 1 {
		t.Fatalf("order version = %d, replay must not advance state", order.Version)
	}
	pending, _ := fx.effects.PullPending(10)
	if len(pending) != 2 {
		t.Fatalf("effects = %d, replay must not enqueue new effects", len(pending))
	}
}

func TestHandle_StaleEventIgnored(t *testing.T) {
	orch, fx := newFixture(t)
	seedOrder(t, fx.orders, "order-1")
	base := time.Now().UTC()

	if _, err := orch.Handle(context.Background(), capturedEvent("evt-2", "order-1", base)); err != nil {
		t.Fatalf("captured failed: %v", err)
	}

	// payment.authorized с более ранним occurred_at пришло с опозданием.
	stale := domain.ProviderEvent{
		ID:         "evt-1",
		Type:       domain.EventPaymentAuthorized,
		RawType:    string(domain.EventPaymentAuthorized),
		OrderID:    "order-1",
		Outcome:    "success",
		OccurredAt: base.Add(-time.Minute),
	}
	result, err := orch.Handle(context.Background(), stale)
	if err != nil {
		t.Fatalf("stale delivery failed: %v", err)
	}
	if result.Status != domain.LedgerStatusIgnored {
		t.Fatalf("status = %s, want ignored", result.Status)
	}

	order, _ := fx.orders.Get("order-1")
	if order.Status != domain.OrderStatusProcessing {
		t.Fatalf("order status = %s, stale event must not change state", order.Status)
	}
	record, err := fx.ledger.Get("evt-1")
	if err != nil {
		t.Fatalf("ledger read failed: %v", err)
	}
	if record.Status != domain.LedgerStatusIgnored {
		t.Fatalf("ledger status = %s, want ignored", record.Status)
	}
}

func TestHandle_UnhandledEventIgnored(t *testing.T) {
	orch, fx := newFixture(t)
	seedOrder(t, fx.orders, "order-1")

	result, err := orch.Handle(context.Background(), domain.ProviderEvent{
		ID:         "evt-1",
		Type:       domain.EventTypeUnhandled,
		RawType:    "payment.dispute.created",
		OrderID:    "order-1",
		Outcome:    "success",
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if result.Status != domain.LedgerStatusIgnored {
		t.Fatalf("status = %s, want ignored", result.Status)
	}

	timeline, _ := fx.timeline.List("order-1")
	if len(timeline) != 1 || timeline[0].Type != domain.TimelineEventIgnored {
		t.Fatalf("timeline = %+v, want ignored audit entry", timeline)
	}
}

func TestHandle_InvalidTransitionRejected(t *testing.T) {
	orch, fx := newFixture(t)
	seedOrder(t, fx.orders, "order-1")
	base := time.Now().UTC()

	if _, err := orch.Handle(context.Background(), domain.ProviderEvent{
		ID:         "evt-1",
		Type:       domain.EventPaymentFailed,
		RawType:    string(domain.EventPaymentFailed),
		OrderID:    "order-1",
		Outcome:    "failure",
		OccurredAt: base,
	}); err != nil {
		t.Fatalf("failed event delivery: %v", err)
	}

	// shipped после отклонённой оплаты логически новее, но перехода нет.
	result, err := orch.Handle(context.Background(), domain.ProviderEvent{
		ID:         "evt-2",
		Type:       domain.EventFulfillmentShipped,
		RawType:    string(domain.EventFulfillmentShipped),
		OrderID:    "order-1",
		Outcome:    "success",
		OccurredAt: base.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("shipped delivery failed: %v", err)
	}
	if result.Status != domain.LedgerStatusRejected {
		t.Fatalf("status = %s, want rejected", result.Status)
	}

	order, _ := fx.orders.Get("order-1")
	if order.Status != domain.OrderStatusCanceled {
		t.Fatalf("order status = %s, rejected event must not change state", order.Status)
	}
}

func TestHandle_UnknownOrderRejected(t *testing.T) {
	orch, fx := newFixture(t)

	result, err := orch.Handle(context.Background(), capturedEvent("evt-1", "ghost", time.Now().UTC()))
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if result.Status != domain.LedgerStatusRejected {
		t.Fatalf("status = %s, want rejected", result.Status)
	}

	record, err := fx.ledger.Get("evt-1")
	if err != nil {
		t.Fatalf("ledger read failed: %v", err)
	}
	if record.Status != domain.LedgerStatusRejected {
		t.Fatalf("ledger status = %s, want rejected", record.Status)
	}
}

// failingStore эмулирует падение персистентности на первых N коммитах.
type failingStore struct {
	inner     domain.ReconStore
	remaining int
}

func (s *failingStore) CommitTransition(ctx context.Context, commit domain.Commit) error {
	if s.remaining > 0 {
		s.remaining--
		return fmt.Errorf("storage unavailable")
	}
	return s.inner.CommitTransition(ctx, commit)
}

func TestHandle_CommitFailureLeavesReservationRetryable(t *testing.T) {
	orders := memory.NewOrderRepository()
	ledger := memory.NewLedgerRepository()
	effects := memory.NewEffectRepository()
	timeline := memory.NewTimelineRepository()
	store := &failingStore{inner: memory.NewReconStore(orders, ledger, effects, timeline), remaining: 1}

	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	orch := NewOrchestratorWithoutMetrics(orders, ledger, store, logger.WithField("component", "recon-test"))
	orch.reservationTTL = -time.Second // резервация первой попытки сразу считается зависшей

	seedOrder(t, orders, "order-1")
	event := capturedEvent("evt-1", "order-1", time.Now().UTC())

	if _, err := orch.Handle(context.Background(), event); err == nil {
		t.Fatal("first delivery must surface the commit failure")
	}

	record, err := ledger.Get("evt-1")
	if err != nil {
		t.Fatalf("ledger read failed: %v", err)
	}
	if record.Status != domain.LedgerStatusProcessing {
		t.Fatalf("ledger status = %s, failed commit must keep the reservation", record.Status)
	}

	// Повторная доставка перезахватывает зависшую резервацию и доводит
	// событие до конца с одним набором эффектов.
	result, err := orch.Handle(context.Background(), event)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if result.Status != domain.LedgerStatusApplied {
		t.Fatalf("retry status = %s, want applied", result.Status)
	}

	pending, _ := effects.PullPending(10)
	if len(pending) != 2 {
		t.Fatalf("effects = %d, retry must enqueue exactly one set", len(pending))
	}
}

func TestHandle_ConcurrentEventsSerializePerOrder(t *testing.T) {
	orch, fx := newFixture(t)
	seedOrder(t, fx.orders, "order-1")
	base := time.Now().UTC()

	events := []domain.ProviderEvent{
		capturedEvent("evt-1", "order-1", base),
		{
			ID: "evt-2", Type: domain.EventFulfillmentShipped, RawType: string(domain.EventFulfillmentShipped),
			OrderID: "order-1", Outcome: "success", OccurredAt: base.Add(time.Minute),
		},
		{
			ID: "evt-3", Type: domain.EventFulfillmentDelivered, RawType: string(domain.EventFulfillmentDelivered),
			OrderID: "order-1", Outcome: "success", OccurredAt: base.Add(2 * time.Minute),
		},
	}

	var wg sync.WaitGroup
	for _, event := range events {
		wg.Add(1)
		go func(ev domain.ProviderEvent) {
			defer wg.Done()
			// Исход зависит от порядка захвата лока, важна лишь
			// сериализация и отсутствие конфликтов версий.
			_, _ = orch.Handle(context.Background(), ev)
		}(event)
	}
	wg.Wait()

	for _, event := range events {
		record, err := fx.ledger.Get(event.ID)
		if err != nil {
			t.Fatalf("ledger read for %s failed: %v", event.ID, err)
		}
		if !record.Status.Terminal() {
			t.Fatalf("event %s stuck in %s", event.ID, record.Status)
		}
	}

	order, _ := fx.orders.Get("order-1")
	if order.Status == domain.OrderStatusPending {
		t.Fatal("captured event must have been applied")
	}
}

func TestHandle_InFlightReservationSurfaces(t *testing.T) {
	orch, fx := newFixture(t)
	seedOrder(t, fx.orders, "order-1")

	// Чужая свежая processing-резервация не перезахватывается.
	if _, err := fx.ledger.Reserve("evt-1", "order-1", time.Now().UTC().Add(time.Minute)); err != nil {
		t.Fatalf("manual reserve failed: %v", err)
	}

	_, err := orch.Handle(context.Background(), capturedEvent("evt-1", "order-1", time.Now().UTC()))
	if !errors.Is(err, domain.ErrEventInFlight) {
		t.Fatalf("err = %v, want ErrEventInFlight", err)
	}
}
