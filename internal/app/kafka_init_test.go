package app

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	producer, err := initKafkaProducer("", logger)

	if err != nil {
		t.Errorf("expected no error for empty brokers, got %v", err)
	}

	if producer != nil {
		t.Error("expected nil producer for empty brokers")
	}
}

func TestInitKafkaProducer_InvalidBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	producer, err := initKafkaProducer("invalid-broker:9999", logger)

	if err == nil {
		t.Error("expected error for invalid brokers")
	}

	if producer != nil {
		t.Error("expected nil producer on error")
	}
}

func TestInitEffectPublishers_NilProducer(t *testing.T) {
	events, dlq := initEffectPublishers(nil)

	if events != nil {
		t.Error("expected nil events publisher without kafka")
	}
	if dlq != nil {
		t.Error("expected nil dlq publisher without kafka")
	}
}

func TestCloseKafka_NilProducer(t *testing.T) {
	logger := log.WithField("test", "kafka")

	// Не должно паниковать
	closeKafka(nil, logger)
}
