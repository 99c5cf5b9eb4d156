package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

func TestLedgerReserve_Fresh(t *testing.T) {
	repo := NewLedgerRepository()

	record, err := repo.Reserve("evt-1", "order-1", time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != domain.LedgerStatusProcessing {
		t.Fatalf("status = %s, want processing", record.Status)
	}
	if record.OrderID != "order-1" {
		t.Fatalf("order id = %s, want order-1", record.OrderID)
	}
}

func TestLedgerReserve_InFlight(t *testing.T) {
	repo := NewLedgerRepository()
	ttl := time.Now().UTC().Add(time.Minute)

	if _, err := repo.Reserve("evt-1", "order-1", ttl); err != nil {
		t.Fatalf("first reserve failed: %v", err)
	}
	_, err := repo.Reserve("evt-1", "order-1", ttl)
	if !errors.Is(err, domain.ErrEventInFlight) {
		t.Fatalf("err = %v, want ErrEventInFlight", err)
	}
}

func TestLedgerReserve_AlreadyProcessed(t *testing.T) {
	repo := NewLedgerRepository()
	ttl := time.Now().UTC().Add(time.Minute)

	record, err := repo.Reserve("evt-1", "order-1", ttl)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	record.Status = domain.LedgerStatusApplied
	if err := repo.commit(record); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	existing, err := repo.Reserve("evt-1", "order-1", ttl)
	if !errors.Is(err, domain.ErrEventAlreadyProcessed) {
		t.Fatalf("err = %v, want ErrEventAlreadyProcessed", err)
	}
	if existing.Status != domain.LedgerStatusApplied {
		t.Fatalf("status = %s, want applied", existing.Status)
	}
}

func TestLedgerReserve_StaleReclaimed(t *testing.T) {
	repo := NewLedgerRepository()

	// Резервация с уже истёкшим TTL имитирует процесс, упавший до коммита.
	if _, err := repo.Reserve("evt-1", "order-1", time.Now().UTC().Add(-time.Minute)); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	record, err := repo.Reserve("evt-1", "order-1", time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("stale reservation must be reclaimable, got %v", err)
	}
	if record.Status != domain.LedgerStatusProcessing {
		t.Fatalf("status = %s, want processing", record.Status)
	}
}

func TestLedgerReleaseStale(t *testing.T) {
	repo := NewLedgerRepository()
	expired := time.Now().UTC().Add(-time.Minute)
	alive := time.Now().UTC().Add(time.Minute)

	mustReserve(t, repo, "evt-1", expired)
	mustReserve(t, repo, "evt-2", expired)
	mustReserve(t, repo, "evt-3", alive)

	released, err := repo.ReleaseStale(time.Now().UTC(), 0)
	if err != nil {
		t.Fatalf("release stale failed: %v", err)
	}
	if released != 2 {
		t.Fatalf("released = %d, want 2", released)
	}

	// Живая резервация осталась.
	if _, err := repo.Get("evt-3"); err != nil {
		t.Fatalf("alive reservation must remain: %v", err)
	}
}

func TestLedgerDeleteExpired_KeepsProcessing(t *testing.T) {
	repo := NewLedgerRepository()
	expired := time.Now().UTC().Add(-time.Minute)

	record := mustReserve(t, repo, "evt-1", expired)
	record.Status = domain.LedgerStatusIgnored
	if err := repo.commit(record); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	mustReserve(t, repo, "evt-2", expired)

	removed, err := repo.DeleteExpired(time.Now().UTC(), 0)
	if err != nil {
		t.Fatalf("delete expired failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1 (только терминальные записи)", removed)
	}
}

func TestLedgerReserve_EmptyID(t *testing.T) {
	repo := NewLedgerRepository()
	if _, err := repo.Reserve("  ", "order-1", time.Time{}); !errors.Is(err, domain.ErrEventIDRequired) {
		t.Fatalf("err = %v, want ErrEventIDRequired", err)
	}
}

func mustReserve(t *testing.T, repo *ledgerRepositoryInMemory, eventID string, ttl time.Time) domain.LedgerRecord {
	t.Helper()
	record, err := repo.Reserve(eventID, "order-1", ttl)
	if err != nil {
		t.Fatalf("reserve %s failed: %v", eventID, err)
	}
	return record
}
