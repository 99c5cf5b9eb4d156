package recon

import (
	"context"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/storage/memory"
)

func newSweeperLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("component", "sweeper-test")
}

func TestSweepOnce_ReleasesStaleReservations(t *testing.T) {
	ledger := memory.NewLedgerRepository()
	past := time.Now().UTC().Add(-time.Minute)

	if _, err := ledger.Reserve("evt-stale", "order-1", past); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := ledger.Reserve("evt-fresh", "order-2", time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	sweeper := NewSweeper(ledger, WithLogger(newSweeperLogger()))
	released, deleted, err := sweeper.SweepOnce(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if released != 1 {
		t.Fatalf("released = %d, want 1", released)
	}
	if deleted != 0 {
		t.Fatalf("deleted = %d, want 0", deleted)
	}

	// Снятая резервация снова доступна для захвата.
	if _, err := ledger.Reserve("evt-stale", "order-1", time.Now().UTC().Add(time.Minute)); err != nil {
		t.Fatalf("re-reserve after sweep failed: %v", err)
	}
	// Свежая — нет.
	if _, err := ledger.Reserve("evt-fresh", "order-2", time.Now().UTC().Add(time.Minute)); err == nil {
		t.Fatal("fresh reservation must survive the sweep")
	}
}

func TestSweepOnce_BatchesUntilDrained(t *testing.T) {
	ledger := memory.NewLedgerRepository()
	past := time.Now().UTC().Add(-time.Minute)

	for i := 0; i < 7; i++ {
		id := string(rune('a'+i)) + "-evt"
		if _, err := ledger.Reserve(id, "order-1", past); err != nil {
			t.Fatalf("reserve failed: %v", err)
		}
	}

	sweeper := NewSweeper(ledger, WithLogger(newSweeperLogger()), WithBatchSize(3))
	released, _, err := sweeper.SweepOnce(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if released != 7 {
		t.Fatalf("released = %d, want 7 across batches", released)
	}
}

func TestSweepOnce_RespectsContextCancel(t *testing.T) {
	ledger := memory.NewLedgerRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sweeper := NewSweeper(ledger, WithLogger(newSweeperLogger()))
	if _, _, err := sweeper.SweepOnce(ctx, time.Now().UTC()); err == nil {
		t.Fatal("canceled context must stop the sweep")
	}
}

func TestSweeperOptionDefaults(t *testing.T) {
	sweeper := NewSweeper(memory.NewLedgerRepository(), WithInterval(0), WithBatchSize(-1))

	if sweeper.interval != defaultSweepInterval {
		t.Fatalf("interval = %s, want default", sweeper.interval)
	}
	if sweeper.batchSize != defaultSweepBatchSize {
		t.Fatalf("batch size = %d, want default", sweeper.batchSize)
	}
}
