package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

// EffectTopicPublisher публикует побочные эффекты в заданный Kafka topic.
type EffectTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewEffectPublisher создаёт Kafka-паблишер для диспетчера эффектов.
func NewEffectPublisher(producer *Producer, topic string) domain.EffectPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &EffectTopicPublisher{
		producer: producer,
		topic:    topic,
	}
}

// Publish оборачивает эффект в envelope и отправляет его с ключом по order id,
// чтобы события одного заказа попадали в одну партицию и сохраняли порядок.
func (p *EffectTopicPublisher) Publish(effect domain.SideEffect) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka effect publisher is not initialized")
	}

	key := effect.OrderID
	if key == "" {
		key = effect.ID
	}

	envelope := EffectEnvelope{
		ID:          effect.ID,
		OrderID:     effect.OrderID,
		EventID:     effect.EventID,
		Kind:        string(effect.Kind),
		Payload:     json.RawMessage(effect.Payload),
		PublishedAt: time.Now().UTC(),
	}

	return p.producer.PublishEvent(p.topic, key, envelope)
}

var _ domain.EffectPublisher = (*EffectTopicPublisher)(nil)
