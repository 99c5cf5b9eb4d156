package domain

import "time"

// LedgerStatus описывает жизненный цикл записи в ledger обработанных событий.
type LedgerStatus string

const (
	// LedgerStatusProcessing — событие зарезервировано и обрабатывается.
	// Запись с этим статусом старше TTL считается зависшей (процесс упал
	// между резервированием и коммитом) и может быть перезарезервирована.
	LedgerStatusProcessing LedgerStatus = "processing"
	// LedgerStatusApplied — событие применено, состояние заказа изменено.
	LedgerStatusApplied LedgerStatus = "applied"
	// LedgerStatusIgnored — событие распознано как устаревшее или unhandled
	// и пропущено без изменения состояния.
	LedgerStatusIgnored LedgerStatus = "ignored"
	// LedgerStatusRejected — переход невозможен из текущего состояния;
	// событие зафиксировано для аудита и алертинга.
	LedgerStatusRejected LedgerStatus = "rejected"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s LedgerStatus) Valid() bool {
	switch s {
	case LedgerStatusProcessing, LedgerStatusApplied, LedgerStatusIgnored, LedgerStatusRejected:
		return true
	default:
		return false
	}
}

// Terminal сообщает, завершена ли обработка события.
func (s LedgerStatus) Terminal() bool {
	return s == LedgerStatusApplied || s == LedgerStatusIgnored || s == LedgerStatusRejected
}

// LedgerRecord хранит исход обработки события провайдера.
// Уникальность EventID — базовый инвариант, защищающий от двойного применения.
type LedgerRecord struct {
	EventID string
	OrderID string
	Status  LedgerStatus
	// Revision — версия заказа после применения события; 0, если состояние не менялось.
	Revision int64
	// TTLAt для processing-записей задаёт порог зависания,
	// для терминальных — срок хранения до очистки.
	TTLAt     time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
