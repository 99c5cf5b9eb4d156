package domain

import (
	"context"
	"time"
)

// LedgerRepository хранит исходы обработки событий провайдера по event id.
type LedgerRepository interface {
	// Reserve атомарно вставляет processing-маркер для события.
	// Возвращает существующую запись с ErrEventAlreadyProcessed, если событие
	// уже завершено, ErrEventInFlight — если другая обработка не завершена,
	// либо свежую резервацию. Processing-запись старше TTL перезарезервируется.
	Reserve(eventID, orderID string, ttlAt time.Time) (LedgerRecord, error)
	// Get возвращает запись по event id или ErrEventNotReserved.
	Get(eventID string) (LedgerRecord, error)
	// ReleaseStale снимает зависшие processing-резервации старше before.
	ReleaseStale(before time.Time, limit int) (int, error)
	// DeleteExpired удаляет терминальные записи с истёкшим сроком хранения.
	DeleteExpired(before time.Time, limit int) (int, error)
}

// EffectRepository хранит побочные эффекты до их доставки диспетчером.
type EffectRepository interface {
	Enqueue(effect SideEffect) (SideEffect, error)
	PullPending(limit int) ([]SideEffect, error)
	Stats() (EffectStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события аудита жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// Commit — атомарная единица фиксации обработки одного события провайдера:
// терминальная запись ledger, новое состояние заказа/платежа (если переход
// применён), эффекты и записи аудита. Либо всё, либо ничего.
type Commit struct {
	Record LedgerRecord
	// Order и Payment равны nil, когда событие ignored/rejected
	// и состояние заказа не меняется.
	Order    *Order
	Payment  *Payment
	Effects  []SideEffect
	Timeline []TimelineEvent
}

// ReconStore выполняет транзакционный коммит результата реконсиляции.
// Сохранение заказа проверяет версию (optimistic locking); при провале
// коммита processing-резервация остаётся в ledger и событие безопасно
// переобработать с нуля.
type ReconStore interface {
	CommitTransition(ctx context.Context, commit Commit) error
}

// Notifier описывает внешний сервис доставки уведомлений.
type Notifier interface {
	// Send доставляет уведомление клиенту; идемпотентность на стороне получателя.
	Send(ctx context.Context, recipient string, kind EffectKind, order Order) error
}

// EffectPublisher публикует событие жизненного цикла заказа во внешний брокер.
type EffectPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(effect SideEffect) error
}
