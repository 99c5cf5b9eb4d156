package recon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	"github.com/vladislavdragonenkov/payrecon/internal/metrics"
)

const (
	// defaultReservationTTL — порог, после которого незакоммиченная
	// processing-резервация считается зависшей и перезахватывается.
	defaultReservationTTL = 5 * time.Minute
	// defaultRetentionTTL — срок хранения терминальных записей ledger
	// до очистки sweeper'ом.
	defaultRetentionTTL = 24 * time.Hour
)

// Result описывает исход обработки одного события провайдера.
type Result struct {
	// Status — терминальный статус события в ledger.
	Status domain.LedgerStatus
	// Replayed истинно для повторной доставки уже обработанного события;
	// ответ вызывающей стороне не отличается от первой обработки.
	Replayed bool
}

// Orchestrator связывает верифицированное событие с ledger, таблицей
// переходов и транзакционным коммитом. Единственная точка мутации заказов.
type Orchestrator struct {
	orders  domain.OrderRepository
	ledger  domain.LedgerRepository
	store   domain.ReconStore
	logger  *log.Entry
	metrics *metrics.ReconMetrics
	locks   *orderLocks

	reservationTTL time.Duration
	retentionTTL   time.Duration
}

// NewOrchestrator создаёт рабочий экземпляр оркестратора.
func NewOrchestrator(
	orders domain.OrderRepository,
	ledger domain.LedgerRepository,
	store domain.ReconStore,
	logger *log.Entry,
) *Orchestrator {
	o := newOrchestrator(orders, ledger, store, logger)
	o.metrics = metrics.NewReconMetrics()
	return o
}

// NewOrchestratorWithoutMetrics создаёт оркестратор без метрик (для тестов).
func NewOrchestratorWithoutMetrics(
	orders domain.OrderRepository,
	ledger domain.LedgerRepository,
	store domain.ReconStore,
	logger *log.Entry,
) *Orchestrator {
	return newOrchestrator(orders, ledger, store, logger)
}

func newOrchestrator(
	orders domain.OrderRepository,
	ledger domain.LedgerRepository,
	store domain.ReconStore,
	logger *log.Entry,
) *Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "recon")
	}
	return &Orchestrator{
		orders:         orders,
		ledger:         ledger,
		store:          store,
		logger:         logger,
		locks:          newOrderLocks(),
		reservationTTL: defaultReservationTTL,
		retentionTTL:   defaultRetentionTTL,
	}
}

// Handle обрабатывает одно верифицированное событие провайдера.
//
// Путь: резервирование в ledger → per-order секция → снапшот заказа →
// таблица переходов → атомарный коммит. Любая ошибка персистентности
// оставляет резервацию в processing, и повторная доставка того же события
// безопасно переобрабатывает его с нуля.
func (o *Orchestrator) Handle(ctx context.Context, event domain.ProviderEvent) (Result, error) {
	start := time.Now()
	if o.metrics != nil {
		o.metrics.RecordEventReceived()
	}
	defer func() {
		if o.metrics != nil {
			o.metrics.RecordEventFinished()
			o.metrics.RecordHandleDuration(time.Since(start))
		}
	}()

	now := time.Now().UTC()
	record, err := o.ledger.Reserve(event.ID, event.OrderID, now.Add(o.reservationTTL))
	if errors.Is(err, domain.ErrEventAlreadyProcessed) {
		// Идемпотентный no-op: ответ не отличается от первой обработки.
		o.logger.WithFields(log.Fields{
			"event_id": event.ID,
			"order_id": event.OrderID,
			"status":   record.Status,
		}).Debug("duplicate delivery resolved from ledger")
		if o.metrics != nil {
			o.metrics.RecordEventReplayed()
		}
		return Result{Status: record.Status, Replayed: true}, nil
	}
	if err != nil {
		return Result{}, err
	}

	release := o.locks.acquire(event.OrderID)
	defer release()

	return o.process(ctx, event, now)
}

func (o *Orchestrator) process(ctx context.Context, event domain.ProviderEvent, now time.Time) (Result, error) {
	order, payment, err := o.orders.GetWithPayment(event.OrderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		// Событие для неизвестного заказа — сигнал качества данных, не крэш.
		return o.commitWithoutTransition(ctx, event, now, domain.LedgerStatusRejected,
			domain.TimelineEventRejected, "order not found")
	}
	if err != nil {
		return Result{}, fmt.Errorf("load order snapshot: %w", err)
	}

	transition, applyErr := domain.ApplyEvent(order, payment, event, now)
	switch {
	case applyErr == nil:
		return o.commitApplied(ctx, event, now, transition)

	case errors.Is(applyErr, domain.ErrStaleEvent):
		return o.commitWithoutTransition(ctx, event, now, domain.LedgerStatusIgnored,
			domain.TimelineEventIgnored, "stale event, last-timestamp-wins")

	case errors.Is(applyErr, domain.ErrUnhandledEvent):
		return o.commitWithoutTransition(ctx, event, now, domain.LedgerStatusIgnored,
			domain.TimelineEventIgnored, fmt.Sprintf("unhandled event type %q", event.RawType))

	case errors.Is(applyErr, domain.ErrInvalidTransition):
		o.logger.WithFields(log.Fields{
			"event_id":       event.ID,
			"event_type":     event.Type,
			"order_id":       order.ID,
			"order_status":   order.Status,
			"payment_status": payment.Status,
		}).Warn("event rejected: no matching transition")
		return o.commitWithoutTransition(ctx, event, now, domain.LedgerStatusRejected,
			domain.TimelineEventRejected,
			fmt.Sprintf("no transition from (%s,%s) on %s", order.Status, payment.Status, event.Type))

	default:
		return Result{}, applyErr
	}
}

// commitApplied фиксирует применённый переход вместе с эффектами и аудитом.
func (o *Orchestrator) commitApplied(ctx context.Context, event domain.ProviderEvent, now time.Time, transition domain.Transition) (Result, error) {
	effects, err := o.buildEffects(event, transition)
	if err != nil {
		return Result{}, err
	}

	commit := domain.Commit{
		Record: domain.LedgerRecord{
			EventID: event.ID,
			OrderID: event.OrderID,
			Status:  domain.LedgerStatusApplied,
			TTLAt:   now.Add(o.retentionTTL),
		},
		Order:   &transition.Order,
		Payment: &transition.Payment,
		Effects: effects,
		Timeline: []domain.TimelineEvent{{
			OrderID:  event.OrderID,
			Type:     domain.TimelineTransitionApplied,
			EventID:  event.ID,
			Reason:   fmt.Sprintf("%s -> (%s,%s)", event.Type, transition.Order.Status, transition.Payment.Status),
			Occurred: now,
		}},
	}

	if err := o.store.CommitTransition(ctx, commit); err != nil {
		if o.metrics != nil {
			o.metrics.RecordCommitConflict()
		}
		// Резервация остаётся processing: повторная доставка или sweeper
		// доведут событие до терминального состояния.
		return Result{}, fmt.Errorf("commit transition: %w", err)
	}

	o.logger.WithFields(log.Fields{
		"event_id":       event.ID,
		"event_type":     event.Type,
		"order_id":       event.OrderID,
		"order_status":   transition.Order.Status,
		"payment_status": transition.Payment.Status,
		"effects":        len(effects),
	}).Info("transition applied")
	if o.metrics != nil {
		o.metrics.RecordEventApplied()
	}
	return Result{Status: domain.LedgerStatusApplied}, nil
}

// commitWithoutTransition фиксирует терминальную запись ledger без изменения заказа.
func (o *Orchestrator) commitWithoutTransition(
	ctx context.Context,
	event domain.ProviderEvent,
	now time.Time,
	status domain.LedgerStatus,
	timelineType, reason string,
) (Result, error) {
	commit := domain.Commit{
		Record: domain.LedgerRecord{
			EventID: event.ID,
			OrderID: event.OrderID,
			Status:  status,
			TTLAt:   now.Add(o.retentionTTL),
		},
		Timeline: []domain.TimelineEvent{{
			OrderID:  event.OrderID,
			Type:     timelineType,
			EventID:  event.ID,
			Reason:   reason,
			Occurred: now,
		}},
	}

	if err := o.store.CommitTransition(ctx, commit); err != nil {
		if o.metrics != nil {
			o.metrics.RecordCommitConflict()
		}
		return Result{}, fmt.Errorf("commit ledger record: %w", err)
	}

	o.logger.WithFields(log.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"order_id":   event.OrderID,
		"status":     status,
		"reason":     reason,
	}).Info("event recorded without state change")
	if o.metrics != nil {
		switch status {
		case domain.LedgerStatusIgnored:
			o.metrics.RecordEventIgnored()
		case domain.LedgerStatusRejected:
			o.metrics.RecordEventRejected(string(event.Type))
		}
	}
	return Result{Status: status}, nil
}

// effectPayload — содержимое эффекта; диспетчер перечитывает заказ при
// доставке, поэтому здесь только ссылки и снапшот для шаблона.
type effectPayload struct {
	OrderID     string `json:"order_id"`
	CustomerID  string `json:"customer_id"`
	EventID     string `json:"event_id"`
	EventType   string `json:"event_type"`
	OrderStatus string `json:"order_status"`
	PayStatus   string `json:"payment_status"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
}

func (o *Orchestrator) buildEffects(event domain.ProviderEvent, transition domain.Transition) ([]domain.SideEffect, error) {
	if len(transition.Effects) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(effectPayload{
		OrderID:     transition.Order.ID,
		CustomerID:  transition.Order.CustomerID,
		EventID:     event.ID,
		EventType:   string(event.Type),
		OrderStatus: string(transition.Order.Status),
		PayStatus:   string(transition.Payment.Status),
		AmountMinor: transition.Order.AmountMinor,
		Currency:    transition.Order.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal effect payload: %w", err)
	}

	effects := make([]domain.SideEffect, 0, len(transition.Effects))
	for _, kind := range transition.Effects {
		effects = append(effects, domain.SideEffect{
			OrderID: transition.Order.ID,
			EventID: event.ID,
			Kind:    kind,
			Payload: payload,
		})
	}
	return effects, nil
}
