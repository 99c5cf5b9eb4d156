package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "payrecon.order.events"
	TopicDeadLetterQueue = "payrecon.dlq" // Dead Letter Queue для failed effects
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// EffectEnvelope — wire-формат побочного эффекта в топике событий заказов.
// Publisher и подписчики используют одну и ту же структуру, чтобы формат
// не расходился между продюсером и консьюмером.
type EffectEnvelope struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	EventID     string          `json:"event_id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`
}

// DecodeEffectEnvelope разбирает сообщение топика событий заказов.
func DecodeEffectEnvelope(message *sarama.ConsumerMessage) (*EffectEnvelope, error) {
	var envelope EffectEnvelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal effect envelope: %w", err)
	}
	if envelope.OrderID == "" && envelope.ID == "" {
		return nil, fmt.Errorf("effect envelope has neither id nor order_id")
	}
	return &envelope, nil
}
