package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

// reconStoreInMemory выполняет коммит результата реконсиляции поверх
// in-memory репозиториев. Атомарность эмулируется общим мьютексом:
// оркестратор — единственный писатель, поэтому частичный коммит
// не наблюдаем извне.
type reconStoreInMemory struct {
	mu       sync.Mutex
	orders   *orderRepositoryInMemory
	ledger   *ledgerRepositoryInMemory
	effects  *effectRepositoryInMemory
	timeline *timelineRepositoryInMemory
}

// NewReconStore связывает in-memory репозитории в транзакционную единицу.
func NewReconStore(
	orders *orderRepositoryInMemory,
	ledger *ledgerRepositoryInMemory,
	effects *effectRepositoryInMemory,
	timeline *timelineRepositoryInMemory,
) *reconStoreInMemory {
	return &reconStoreInMemory{
		orders:   orders,
		ledger:   ledger,
		effects:  effects,
		timeline: timeline,
	}
}

// CommitTransition фиксирует терминальную запись ledger вместе с новым
// состоянием заказа, эффектами и аудитом.
func (s *reconStoreInMemory) CommitTransition(ctx context.Context, commit domain.Commit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !commit.Record.Status.Terminal() {
		return domain.ErrEventNotReserved
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Проверяем резервацию до записи заказа, чтобы не оставить
	// частичный коммит при конфликте ledger.
	existing, err := s.ledger.Get(commit.Record.EventID)
	if err != nil {
		return err
	}
	if existing.Status.Terminal() {
		return domain.ErrEventAlreadyProcessed
	}

	if commit.Order != nil && commit.Payment != nil {
		if err := s.orders.save(*commit.Order, *commit.Payment); err != nil {
			return err
		}
		commit.Record.Revision = commit.Order.Version + 1
	}

	if err := s.ledger.commit(commit.Record); err != nil {
		return err
	}

	for _, effect := range commit.Effects {
		s.effects.mu.Lock()
		s.effects.enqueueLocked(effect)
		s.effects.mu.Unlock()
	}
	for _, event := range commit.Timeline {
		if err := s.timeline.Append(event); err != nil {
			return err
		}
	}

	return nil
}

var _ domain.ReconStore = (*reconStoreInMemory)(nil)
