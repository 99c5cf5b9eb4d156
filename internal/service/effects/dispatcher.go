package effects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 5
	defaultRetryBaseDelay = 50 * time.Millisecond
)

var (
	effectDeliveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payrecon_effect_delivery_attempts_total",
		Help: "Total number of side effect delivery attempts grouped by result.",
	}, []string{"result"})
	effectPendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "payrecon_effect_pending_records",
		Help: "Current number of pending side effects awaiting delivery.",
	})
	effectOldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "payrecon_effect_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending side effect.",
	})
)

// DispatcherOptions задаёт параметры диспетчера побочных эффектов.
type DispatcherOptions struct {
	Logger         *log.Entry
	DLQPublisher   domain.EffectPublisher
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// Option настраивает Dispatcher.
type Option func(*DispatcherOptions)

// WithLogger задаёт logger для диспетчера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *DispatcherOptions) {
		opts.Logger = logger
	}
}

// WithDLQPublisher задаёт publisher для отправки в DLQ после исчерпания retry.
func WithDLQPublisher(publisher domain.EffectPublisher) Option {
	return func(opts *DispatcherOptions) {
		opts.DLQPublisher = publisher
	}
}

// WithPollInterval задаёт частоту опроса backlog эффектов.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *DispatcherOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер батча эффектов на один проход.
func WithBatchSize(batchSize int) Option {
	return func(opts *DispatcherOptions) {
		opts.BatchSize = batchSize
	}
}

// WithMaxAttempts задаёт число попыток доставки перед failed/DLQ.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *DispatcherOptions) {
		opts.MaxAttempts = maxAttempts
	}
}

// WithRetryBaseDelay задаёт базовый delay для exponential backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *DispatcherOptions) {
		opts.RetryBaseDelay = delay
	}
}

// Dispatcher доставляет накопленные побочные эффекты: письма — через
// Notifier, события жизненного цикла — через EffectPublisher. Эффекты
// пишутся в одной транзакции с коммитом перехода, поэтому диспетчер
// гарантирует at-least-once доставку; сбой доставки никогда не
// откатывает уже применённый переход.
type Dispatcher struct {
	repo           domain.EffectRepository
	orders         domain.OrderRepository
	notifier       domain.Notifier
	publisher      domain.EffectPublisher
	dlqPublisher   domain.EffectPublisher
	logger         *log.Entry
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// NewDispatcher создаёт диспетчер побочных эффектов.
func NewDispatcher(
	repo domain.EffectRepository,
	orders domain.OrderRepository,
	notifier domain.Notifier,
	publisher domain.EffectPublisher,
	options ...Option,
) *Dispatcher {
	opts := DispatcherOptions{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "effect-dispatcher")
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}

	return &Dispatcher{
		repo:           repo,
		orders:         orders,
		notifier:       notifier,
		publisher:      publisher,
		dlqPublisher:   opts.DLQPublisher,
		logger:         logger,
		pollInterval:   opts.PollInterval,
		batchSize:      opts.BatchSize,
		maxAttempts:    opts.MaxAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
	}
}

// Run запускает периодический polling backlog до отмены ctx.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.repo == nil {
		d.logger.Warn("effect dispatcher is disabled: repository is nil")
		return
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один polling-цикл.
func (d *Dispatcher) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	d.refreshBacklogMetrics()

	pending, err := d.repo.PullPending(d.batchSize)
	if err != nil {
		d.logger.WithError(err).Warn("failed to pull pending side effects")
		return
	}
	if len(pending) == 0 {
		return
	}

	for _, effect := range pending {
		if ctx.Err() != nil {
			return
		}

		if err := d.deliverWithRetry(ctx, effect); err != nil {
			d.logger.WithError(err).WithFields(log.Fields{
				"effect_id": effect.ID,
				"kind":      effect.Kind,
				"order_id":  effect.OrderID,
			}).Error("side effect delivery failed after retries")
			effectDeliveryAttempts.WithLabelValues("failed").Inc()

			if dlqErr := d.publishToDLQ(effect, err); dlqErr != nil {
				d.logger.WithError(dlqErr).WithField("effect_id", effect.ID).Warn("failed to publish effect to DLQ")
				effectDeliveryAttempts.WithLabelValues("dlq_failed").Inc()
			}
			if markErr := d.repo.MarkFailed(effect.ID); markErr != nil {
				d.logger.WithError(markErr).WithField("effect_id", effect.ID).Warn("failed to mark effect as failed")
			}
			continue
		}

		if err := d.repo.MarkSent(effect.ID); err != nil {
			d.logger.WithError(err).WithField("effect_id", effect.ID).Warn("failed to mark effect as sent")
		}
	}

	d.refreshBacklogMetrics()
}

func (d *Dispatcher) deliverWithRetry(ctx context.Context, effect domain.SideEffect) error {
	var lastErr error

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		err := d.deliver(ctx, effect)
		if err == nil {
			effectDeliveryAttempts.WithLabelValues("sent").Inc()
			return nil
		}
		lastErr = err
		effectDeliveryAttempts.WithLabelValues("retry_error").Inc()

		if attempt >= d.maxAttempts {
			break
		}

		delay := d.retryBackoff(attempt)
		if delay <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("delivery failed after %d attempts: %w", d.maxAttempts, lastErr)
}

// deliver маршрутизирует эффект по виду: письма уходят через Notifier,
// publish.* — во внешний брокер. Для писем заказ перечитывается, чтобы
// шаблон собирался по актуальному состоянию, а не по снапшоту коммита.
func (d *Dispatcher) deliver(ctx context.Context, effect domain.SideEffect) error {
	switch {
	case strings.HasPrefix(string(effect.Kind), "email."):
		if d.notifier == nil {
			return errors.New("notifier is not configured")
		}
		order, err := d.orders.Get(effect.OrderID)
		if err != nil {
			return fmt.Errorf("load order for notification: %w", err)
		}
		return d.notifier.Send(ctx, order.CustomerID, effect.Kind, order)

	case effect.Kind == domain.EffectPublishOrderEvent:
		if d.publisher == nil {
			return errors.New("publisher is not configured")
		}
		return d.publisher.Publish(effect)

	default:
		return fmt.Errorf("unknown effect kind %q", effect.Kind)
	}
}

func (d *Dispatcher) refreshBacklogMetrics() {
	stats, err := d.repo.Stats()
	if err != nil {
		d.logger.WithError(err).Warn("failed to collect effect backlog stats")
		return
	}

	effectPendingRecords.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		effectOldestPendingAge.Set(0)
		return
	}

	age := time.Since(stats.OldestPendingAt).Seconds()
	if age < 0 {
		age = 0
	}
	effectOldestPendingAge.Set(age)
}

func (d *Dispatcher) retryBackoff(attempt int) time.Duration {
	if d.retryBaseDelay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return d.retryBaseDelay
	}

	const maxDuration = time.Duration(1<<63 - 1)
	delay := d.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay > maxDuration/2 {
			return maxDuration
		}
		delay *= 2
	}
	return delay
}

func (d *Dispatcher) publishToDLQ(effect domain.SideEffect, deliveryErr error) error {
	if d.dlqPublisher == nil {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"effect_id":        effect.ID,
		"order_id":         effect.OrderID,
		"event_id":         effect.EventID,
		"kind":             effect.Kind,
		"payload":          json.RawMessage(effect.Payload),
		"delivery_error":   deliveryErr.Error(),
		"dlq_published_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	dlqEffect := domain.SideEffect{
		ID:      effect.ID,
		OrderID: effect.OrderID,
		EventID: effect.EventID,
		Kind:    effect.Kind,
		Payload: payload,
	}
	if err := d.dlqPublisher.Publish(dlqEffect); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}

	return nil
}
