package recon

import "sync"

// orderLocks сериализует обработку событий одного заказа: никакие два
// события для одного order id не проходят read-transition-commit
// одновременно. Секции для разных заказов независимы.
type orderLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newOrderLocks() *orderLocks {
	return &orderLocks{locks: make(map[string]*lockEntry)}
}

// acquire блокирует секцию заказа и возвращает release-функцию.
// Release обязан вызываться на всех путях выхода.
func (l *orderLocks) acquire(orderID string) func() {
	l.mu.Lock()
	entry, ok := l.locks[orderID]
	if !ok {
		entry = &lockEntry{}
		l.locks[orderID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()

			l.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(l.locks, orderID)
			}
			l.mu.Unlock()
		})
	}
}
