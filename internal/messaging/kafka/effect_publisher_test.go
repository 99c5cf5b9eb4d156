package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

func TestEffectPublisher_Publish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndSucceed()

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-effect-publisher-test"),
	}
	publisher := NewEffectPublisher(producer, TopicOrderEvents)

	err := publisher.Publish(domain.SideEffect{
		ID:      "eff-1",
		OrderID: "order-123",
		EventID: "evt-1",
		Kind:    domain.EffectPublishOrderEvent,
		Payload: []byte(`{"order_status":"processing"}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestEffectPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-effect-publisher-test"),
	}
	publisher := NewEffectPublisher(producer, TopicOrderEvents)

	err := publisher.Publish(domain.SideEffect{
		ID:      "eff-2",
		OrderID: "order-234",
		EventID: "evt-2",
		Kind:    domain.EffectPublishOrderEvent,
		Payload: []byte(`{"order_status":"canceled"}`),
	})
	if err == nil {
		t.Fatal("expected publish error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestEffectPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewEffectPublisher(nil, TopicOrderEvents)
	if err := publisher.Publish(domain.SideEffect{ID: "eff-3"}); err == nil {
		t.Fatal("expected error for nil producer")
	}
}
