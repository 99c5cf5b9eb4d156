package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

func TestOrderRepository_PostgresCreateGetList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	order1, payment1 := sampleOrderWithPayment("customer-1", now.Add(-2*time.Minute))
	order2, payment2 := sampleOrderWithPayment("customer-1", now.Add(-time.Minute))

	if err := repo.Create(order1, payment1); err != nil {
		t.Fatalf("create order1: %v", err)
	}
	if err := repo.Create(order2, payment2); err != nil {
		t.Fatalf("create order2: %v", err)
	}

	got, gotPayment, err := repo.GetWithPayment(order1.ID)
	if err != nil {
		t.Fatalf("get order1: %v", err)
	}
	if got.ID != order1.ID || got.CustomerID != order1.CustomerID || got.Status != order1.Status {
		t.Fatalf("unexpected order payload: %+v", got)
	}
	if len(got.Items) != 1 {
		t.Fatalf("unexpected items count: %d", len(got.Items))
	}
	if gotPayment.OrderID != order1.ID || gotPayment.Status != domain.PaymentStatusPending {
		t.Fatalf("unexpected payment payload: %+v", gotPayment)
	}

	listed, err := repo.ListByCustomer("customer-1", 1)
	if err != nil {
		t.Fatalf("list by customer with limit: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != order2.ID {
		t.Fatalf("unexpected list result with limit: %+v", listed)
	}

	all, err := repo.ListByCustomer("customer-1", 0)
	if err != nil {
		t.Fatalf("list by customer without limit: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(all))
	}

	if err := repo.Create(order1, payment1); !errors.Is(err, domain.ErrOrderExists) {
		t.Fatalf("duplicate create err = %v, want ErrOrderExists", err)
	}

	if _, err := repo.Get("00000000-0000-0000-0000-000000000000"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("missing order err = %v, want ErrOrderNotFound", err)
	}
}
