package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

type ledgerRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.LedgerRecord
}

// NewLedgerRepository создаёт in-memory реализацию LedgerRepository.
func NewLedgerRepository() *ledgerRepositoryInMemory {
	return &ledgerRepositoryInMemory{
		items: make(map[string]domain.LedgerRecord),
	}
}

// Reserve атомарно вставляет processing-маркер для события.
func (r *ledgerRepositoryInMemory) Reserve(eventID, orderID string, ttlAt time.Time) (domain.LedgerRecord, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return domain.LedgerRecord{}, domain.ErrEventIDRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(5 * time.Minute)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.items[eventID]; ok {
		if existing.Status.Terminal() {
			return existing, domain.ErrEventAlreadyProcessed
		}
		// Просроченная processing-резервация считается зависшей после краха
		// и безопасно перезахватывается.
		if existing.TTLAt.After(now) {
			return existing, domain.ErrEventInFlight
		}
	}

	record := domain.LedgerRecord{
		EventID:   eventID,
		OrderID:   orderID,
		Status:    domain.LedgerStatusProcessing,
		TTLAt:     ttlAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.items[eventID] = record
	return record, nil
}

// Get возвращает запись по event id.
func (r *ledgerRepositoryInMemory) Get(eventID string) (domain.LedgerRecord, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return domain.LedgerRecord{}, domain.ErrEventIDRequired
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.items[eventID]
	if !ok {
		return domain.LedgerRecord{}, domain.ErrEventNotReserved
	}
	return record, nil
}

// ReleaseStale удаляет зависшие processing-резервации старше before.
func (r *ledgerRepositoryInMemory) ReleaseStale(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	released := 0
	for eventID, record := range r.items {
		if record.Status != domain.LedgerStatusProcessing || record.TTLAt.After(before) {
			continue
		}

		delete(r.items, eventID)
		released++
		if limit > 0 && released >= limit {
			break
		}
	}

	return released, nil
}

// DeleteExpired удаляет терминальные записи с истёкшим сроком хранения.
func (r *ledgerRepositoryInMemory) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for eventID, record := range r.items {
		if !record.Status.Terminal() || record.TTLAt.After(before) {
			continue
		}

		delete(r.items, eventID)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}

	return removed, nil
}

// commit переводит processing-резервацию в терминальный статус.
// Вызывается только из ReconStore.
func (r *ledgerRepositoryInMemory) commit(record domain.LedgerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.items[record.EventID]
	if !ok {
		return domain.ErrEventNotReserved
	}
	if existing.Status.Terminal() {
		return domain.ErrEventAlreadyProcessed
	}

	record.CreatedAt = existing.CreatedAt
	record.UpdatedAt = time.Now().UTC()
	r.items[record.EventID] = record
	return nil
}

var _ domain.LedgerRepository = (*ledgerRepositoryInMemory)(nil)
