package main

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/IBM/sarama"
)

func TestParseBrokers(t *testing.T) {
	got := parseBrokers(" broker1:9092, ,broker2:9092 ,")
	want := []string{"broker1:9092", "broker2:9092"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parseBrokers = %v, want %v", got, want)
	}

	if len(parseBrokers("")) != 0 {
		t.Fatal("expected no brokers for empty input")
	}
}

func TestExtractReplayMessage_ConsumerWrapper(t *testing.T) {
	value, _ := json.Marshal(map[string]any{
		"original_topic": "payrecon.order.events",
		"original_key":   "order-1",
		"original_value": `{"event_id":"evt-1"}`,
		"error_message":  "handler failed",
	})

	msg := &sarama.ConsumerMessage{Topic: "payrecon.dlq", Value: value}
	replay, ok, err := extractReplayMessage(msg, "fallback-topic")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !ok {
		t.Fatal("expected replayable message")
	}
	if replay.topic != "payrecon.order.events" {
		t.Fatalf("topic = %s, want payrecon.order.events", replay.topic)
	}
	if replay.key != "order-1" {
		t.Fatalf("key = %s, want order-1", replay.key)
	}
	if string(replay.value) != `{"event_id":"evt-1"}` {
		t.Fatalf("value = %s", replay.value)
	}
}

func TestExtractReplayMessage_DispatcherWrapper(t *testing.T) {
	inner, _ := json.Marshal(map[string]any{
		"effect_id":      "eff-1",
		"order_id":       "order-1",
		"event_id":       "evt-1",
		"kind":           "publish.order_event",
		"payload":        json.RawMessage(`{"status":"processing"}`),
		"delivery_error": "kafka unavailable",
	})
	value, _ := json.Marshal(map[string]any{
		"id":       "eff-1",
		"order_id": "order-1",
		"event_id": "evt-1",
		"kind":     "publish.order_event",
		"payload":  json.RawMessage(inner),
	})

	msg := &sarama.ConsumerMessage{Topic: "payrecon.dlq", Value: value}
	replay, ok, err := extractReplayMessage(msg, "payrecon.order.events")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !ok {
		t.Fatal("expected replayable message")
	}
	if replay.topic != "payrecon.order.events" {
		t.Fatalf("topic = %s, want payrecon.order.events", replay.topic)
	}
	if replay.key != "order-1" {
		t.Fatalf("key = %s, want order-1", replay.key)
	}

	var envelope replayEnvelope
	if err := json.Unmarshal(replay.value, &envelope); err != nil {
		t.Fatalf("decode replay envelope: %v", err)
	}
	if envelope.ID != "eff-1" || envelope.Kind != "publish.order_event" {
		t.Fatalf("envelope = %+v", envelope)
	}
	if string(envelope.Payload) != `{"status":"processing"}` {
		t.Fatalf("payload = %s", envelope.Payload)
	}
}

func TestExtractReplayMessage_UnsupportedValue(t *testing.T) {
	msg := &sarama.ConsumerMessage{Topic: "payrecon.dlq", Value: []byte("not json")}
	_, ok, err := extractReplayMessage(msg, "payrecon.order.events")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected message to be skipped")
	}
}

func TestRunReplay_RequiresDependencies(t *testing.T) {
	err := runReplay(context.Background(), config{sourceTopic: "payrecon.dlq"}, nil, nil, nil)
	if err == nil {
		t.Fatal("expected error when kafka client is missing")
	}
}
