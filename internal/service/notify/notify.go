package notify

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

// Service — заглушка почтового шлюза для локальной разработки: вместо
// реальной отправки пишет уведомление в лог. Интеграция с настоящим
// провайдером подключается через domain.Notifier без изменения диспетчера.
type Service struct {
	logger *log.Entry
}

// NewService создаёт лог-реализацию Notifier.
func NewService(logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "notify")
	}
	return &Service{logger: logger}
}

// Send пишет уведомление в лог и всегда успешна.
func (s *Service) Send(ctx context.Context, recipient string, kind domain.EffectKind, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if recipient == "" {
		return fmt.Errorf("send %s for order %s: %w", kind, order.ID, domain.ErrNotifyDelivery)
	}

	s.logger.WithFields(log.Fields{
		"recipient":    recipient,
		"kind":         kind,
		"order_id":     order.ID,
		"order_status": order.Status,
		"amount_minor": order.AmountMinor,
		"currency":     order.Currency,
	}).Info("notification delivered")
	return nil
}

var _ domain.Notifier = (*Service)(nil)
