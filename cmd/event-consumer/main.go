// event-consumer — подписчик топика событий заказов. Логирует каждый
// применённый переход в structured-виде; сообщения, которые не удаётся
// разобрать, после retry уходят в DLQ и доступны dlq-reprocess.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/messaging/kafka"
)

const defaultGroupID = "payrecon-order-events"

type config struct {
	brokers    []string
	groupID    string
	topics     []string
	maxRetries int
	withDLQ    bool
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail("event consumer failed: %v", err)
	}
}

func readConfig() (config, error) {
	var (
		brokersRaw string
		topicsRaw  string
		cfg        config
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: KAFKA_BROKERS)")
	flag.StringVar(&cfg.groupID, "group", defaultGroupID, "consumer group id")
	flag.StringVar(&topicsRaw, "topics", kafka.TopicOrderEvents, "topics to subscribe as comma-separated list")
	flag.IntVar(&cfg.maxRetries, "max-retries", 3, "delivery attempts before a message goes to DLQ")
	flag.BoolVar(&cfg.withDLQ, "dlq", true, "send undecodable messages to DLQ after max retries")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("KAFKA_BROKERS")
	}

	cfg.brokers = splitList(brokersRaw)
	if len(cfg.brokers) == 0 {
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	}
	cfg.topics = splitList(topicsRaw)
	if len(cfg.topics) == 0 {
		return config{}, fmt.Errorf("at least one topic is required")
	}
	if strings.TrimSpace(cfg.groupID) == "" {
		return config{}, fmt.Errorf("consumer group id is required")
	}
	if cfg.maxRetries <= 0 {
		return config{}, fmt.Errorf("max-retries must be > 0")
	}

	return cfg, nil
}

func splitList(raw string) []string {
	chunks := strings.Split(raw, ",")
	values := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		value := strings.TrimSpace(chunk)
		if value == "" {
			continue
		}
		values = append(values, value)
	}
	return values
}

func run(ctx context.Context, cfg config) error {
	logger := log.WithFields(log.Fields{
		"component": "event-consumer",
		"group":     cfg.groupID,
	})

	var dlqProducer *kafka.Producer
	if cfg.withDLQ {
		producer, err := kafka.NewProducer(cfg.brokers)
		if err != nil {
			return fmt.Errorf("create dlq producer: %w", err)
		}
		dlqProducer = producer
		defer func() { _ = dlqProducer.Close() }()
	}

	consumer, err := kafka.NewConsumerWithDLQ(
		cfg.brokers,
		cfg.groupID,
		cfg.topics,
		logOrderEvent(logger),
		dlqProducer,
		cfg.maxRetries,
	)
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	<-ctx.Done()
	logger.Info("получен сигнал остановки, останавливаем consumer")
	return consumer.Stop()
}

// logOrderEvent возвращает обработчик, который раскрывает конверт эффекта
// и пишет переход заказа в лог. Ошибка разбора возвращается consumer'у:
// после исчерпания retry такое сообщение уходит в DLQ.
func logOrderEvent(logger *log.Entry) kafka.MessageHandler {
	return func(_ context.Context, message *sarama.ConsumerMessage) error {
		envelope, err := kafka.DecodeEffectEnvelope(message)
		if err != nil {
			return err
		}

		logger.WithFields(log.Fields{
			"order_id":     envelope.OrderID,
			"event_id":     envelope.EventID,
			"kind":         envelope.Kind,
			"published_at": envelope.PublishedAt,
			"partition":    message.Partition,
			"offset":       message.Offset,
		}).Info("order event")
		return nil
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
