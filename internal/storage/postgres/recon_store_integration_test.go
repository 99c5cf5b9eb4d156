package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

func TestReconStore_PostgresCommitTransition(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	orders := NewOrderRepository(store)
	ledger := NewLedgerRepository(store)
	effects := NewEffectRepository(store)
	timeline := NewTimelineRepository(store)
	recon := NewReconStore(store)

	now := time.Now().UTC().Truncate(time.Microsecond)
	order, payment := sampleOrderWithPayment("cust-1", now)
	if err := orders.Create(order, payment); err != nil {
		t.Fatalf("create order: %v", err)
	}

	record, err := ledger.Reserve("evt-1", order.ID, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("reserve event: %v", err)
	}

	order.Status = domain.OrderStatusProcessing
	order.UpdatedAt = now
	payment.Status = domain.PaymentStatusSucceeded
	payment.ExternalID = "ch_777"
	payment.LastEventID = "evt-1"
	payment.LastEventAt = now
	payment.UpdatedAt = now

	record.Status = domain.LedgerStatusApplied
	record.TTLAt = now.Add(24 * time.Hour)
	record.UpdatedAt = now

	commit := domain.Commit{
		Record:  record,
		Order:   &order,
		Payment: &payment,
		Effects: []domain.SideEffect{{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			EventID:   "evt-1",
			Kind:      domain.EffectEmailConfirmation,
			Payload:   []byte(`{"order_id":"` + order.ID + `"}`),
			Status:    "pending",
			CreatedAt: now,
		}},
		Timeline: []domain.TimelineEvent{{
			OrderID:  order.ID,
			Type:     domain.TimelineTransitionApplied,
			EventID:  "evt-1",
			Reason:   "payment.captured",
			Occurred: now,
		}},
	}
	if err := recon.CommitTransition(context.Background(), commit); err != nil {
		t.Fatalf("commit transition: %v", err)
	}

	gotOrder, gotPayment, err := orders.GetWithPayment(order.ID)
	if err != nil {
		t.Fatalf("get committed order: %v", err)
	}
	if gotOrder.Status != domain.OrderStatusProcessing {
		t.Fatalf("order status = %s, want processing", gotOrder.Status)
	}
	if gotOrder.Version != 1 {
		t.Fatalf("order version = %d, want 1", gotOrder.Version)
	}
	if gotPayment.Status != domain.PaymentStatusSucceeded || gotPayment.ExternalID != "ch_777" {
		t.Fatalf("payment = %s/%s, want succeeded/ch_777", gotPayment.Status, gotPayment.ExternalID)
	}
	if gotPayment.LastEventID != "evt-1" {
		t.Fatalf("payment last_event_id = %s, want evt-1", gotPayment.LastEventID)
	}

	pending, err := effects.PullPending(10)
	if err != nil {
		t.Fatalf("pull pending effects: %v", err)
	}
	if len(pending) != 1 || pending[0].Kind != domain.EffectEmailConfirmation {
		t.Fatalf("pending effects = %+v, want one confirmation email", pending)
	}

	entries, err := timeline.List(order.ID)
	if err != nil {
		t.Fatalf("list timeline: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != domain.TimelineTransitionApplied {
		t.Fatalf("timeline = %+v, want one TransitionApplied entry", entries)
	}

	// Повторная резервация того же события больше невозможна.
	if _, err := ledger.Reserve("evt-1", order.ID, now.Add(time.Minute)); !errors.Is(err, domain.ErrEventAlreadyProcessed) {
		t.Fatalf("duplicate reserve err = %v, want ErrEventAlreadyProcessed", err)
	}
}

func TestReconStore_PostgresVersionConflictRollsBack(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	orders := NewOrderRepository(store)
	ledger := NewLedgerRepository(store)
	effects := NewEffectRepository(store)
	recon := NewReconStore(store)

	now := time.Now().UTC().Truncate(time.Microsecond)
	order, payment := sampleOrderWithPayment("cust-1", now)
	if err := orders.Create(order, payment); err != nil {
		t.Fatalf("create order: %v", err)
	}

	record, err := ledger.Reserve("evt-1", order.ID, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("reserve event: %v", err)
	}

	stale := order
	stale.Status = domain.OrderStatusProcessing
	stale.Version = order.Version + 5 // не совпадает с сохранённой версией

	record.Status = domain.LedgerStatusApplied
	record.TTLAt = now.Add(24 * time.Hour)

	err = recon.CommitTransition(context.Background(), domain.Commit{
		Record:  record,
		Order:   &stale,
		Payment: &payment,
		Effects: []domain.SideEffect{{
			ID:      uuid.NewString(),
			OrderID: order.ID,
			EventID: "evt-1",
			Kind:    domain.EffectEmailConfirmation,
			Status:  "pending",
		}},
	})
	if !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("commit err = %v, want ErrOrderVersionConflict", err)
	}

	// Транзакция откатилась целиком: заказ не изменён, эффектов нет,
	// резервация осталась в processing.
	gotOrder, err := orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get order after rollback: %v", err)
	}
	if gotOrder.Status != domain.OrderStatusPending || gotOrder.Version != 0 {
		t.Fatalf("order = %s v%d, want pending v0", gotOrder.Status, gotOrder.Version)
	}

	pending, err := effects.PullPending(10)
	if err != nil {
		t.Fatalf("pull pending effects: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending effects = %d, want 0", len(pending))
	}

	got, err := ledger.Get("evt-1")
	if err != nil {
		t.Fatalf("get reservation: %v", err)
	}
	if got.Status != domain.LedgerStatusProcessing {
		t.Fatalf("reservation status = %s, want processing", got.Status)
	}
}

func TestReconStore_PostgresRejectsNonTerminalRecord(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	recon := NewReconStore(store)

	err := recon.CommitTransition(context.Background(), domain.Commit{
		Record: domain.LedgerRecord{EventID: "evt-1", Status: domain.LedgerStatusProcessing},
	})
	if !errors.Is(err, domain.ErrEventNotReserved) {
		t.Fatalf("commit err = %v, want ErrEventNotReserved", err)
	}
}
