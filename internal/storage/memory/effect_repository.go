package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

// effectRecord хранит эффект и служебные поля для in-memory реализации.
type effectRecord struct {
	effect    domain.SideEffect
	updatedAt time.Time
}

// effectRepositoryInMemory — простое in-memory хранилище отложенных эффектов.
type effectRepositoryInMemory struct {
	mu      sync.RWMutex
	records map[string]*effectRecord
}

// NewEffectRepository создаёт in-memory реализацию EffectRepository.
func NewEffectRepository() *effectRepositoryInMemory {
	return &effectRepositoryInMemory{records: make(map[string]*effectRecord)}
}

// Enqueue сохраняет эффект со статусом `pending` и возвращает его с заполненным ID.
func (r *effectRepositoryInMemory) Enqueue(effect domain.SideEffect) (domain.SideEffect, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.enqueueLocked(effect), nil
}

func (r *effectRepositoryInMemory) enqueueLocked(effect domain.SideEffect) domain.SideEffect {
	if effect.ID == "" {
		effect.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if effect.CreatedAt.IsZero() {
		effect.CreatedAt = now
	}
	effect.Status = "pending"
	r.records[effect.ID] = &effectRecord{effect: effect, updatedAt: now}
	return effect
}

// PullPending возвращает до limit эффектов со статусом `pending` в порядке создания.
func (r *effectRepositoryInMemory) PullPending(limit int) ([]domain.SideEffect, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	result := make([]domain.SideEffect, 0, limit)
	for _, record := range r.records {
		if record.effect.Status != "pending" {
			continue
		}
		result = append(result, record.effect)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Stats возвращает размер и возраст backlog.
func (r *effectRepositoryInMemory) Stats() (domain.EffectStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := domain.EffectStats{}
	for _, record := range r.records {
		if record.effect.Status != "pending" {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || record.effect.CreatedAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = record.effect.CreatedAt
		}
	}
	return stats, nil
}

// MarkSent помечает эффект доставленным.
func (r *effectRepositoryInMemory) MarkSent(id string) error {
	return r.markStatus(id, "sent")
}

// MarkFailed помечает эффект окончательно недоставленным.
func (r *effectRepositoryInMemory) MarkFailed(id string) error {
	return r.markStatus(id, "failed")
}

func (r *effectRepositoryInMemory) markStatus(id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return domain.ErrEffectNotFound
	}
	record.effect.Status = status
	record.updatedAt = time.Now().UTC()
	return nil
}

var _ domain.EffectRepository = (*effectRepositoryInMemory)(nil)
