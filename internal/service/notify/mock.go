package notify

import (
	"context"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

// MockNotifier — конфигурируемая заглушка Notifier для тестов.
type MockNotifier struct {
	SendErr error

	SendCalls      int
	LastRecipient  string
	LastKind       domain.EffectKind
	LastOrderID    string
	LastOrderState domain.OrderStatus
}

// NewMockNotifier возвращает mock с успешным сценарием по умолчанию.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// Send возвращает заранее настроенный результат и запоминает аргументы.
func (m *MockNotifier) Send(_ context.Context, recipient string, kind domain.EffectKind, order domain.Order) error {
	m.SendCalls++
	m.LastRecipient = recipient
	m.LastKind = kind
	m.LastOrderID = order.ID
	m.LastOrderState = order.Status
	return m.SendErr
}

var _ domain.Notifier = (*MockNotifier)(nil)
