package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

// orderRepositoryInMemory — простая in-memory реализация OrderRepository.
// Заказ и платёж хранятся парой под общим мьютексом, чтобы снапшот
// GetWithPayment был консистентным.
type orderRepositoryInMemory struct {
	mu       sync.RWMutex
	orders   map[string]domain.Order
	payments map[string]domain.Payment
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() *orderRepositoryInMemory {
	return &orderRepositoryInMemory{
		orders:   make(map[string]domain.Order),
		payments: make(map[string]domain.Payment),
	}
}

// Create сохраняет новый заказ и платёжную запись, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(order domain.Order, payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return domain.ErrOrderExists
	}
	// Сохраняем копии, чтобы избежать непредсказуемых мутаций извне.
	r.orders[order.ID] = cloneOrder(order)
	r.payments[order.ID] = payment
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// GetWithPayment возвращает консистентную пару заказ+платёж.
func (r *orderRepositoryInMemory) GetWithPayment(id string) (domain.Order, domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.Payment{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), r.payments[id], nil
}

// ListByCustomer возвращает заказы клиента, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByCustomer(customerID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if order.CustomerID != customerID {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// save перезаписывает пару заказ+платёж, проверяя версию (optimistic locking).
// Вызывается только из ReconStore под его транзакционным мьютексом.
func (r *orderRepositoryInMemory) save(order domain.Order, payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	// Инкрементируем версию перед сохранением.
	order.Version++
	r.orders[order.ID] = cloneOrder(order)
	r.payments[order.ID] = payment
	return nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	return dst
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
