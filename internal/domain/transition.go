package domain

import "time"

// Transition — результат применения события провайдера к снапшоту заказа.
type Transition struct {
	Order   Order
	Payment Payment
	// Effects перечисляет побочные эффекты, которые нужно поставить в очередь
	// в одной транзакции с коммитом перехода.
	Effects []EffectKind
}

// ApplyEvent — чистая функция переходов: (заказ, платёж, событие) → новый снапшот
// и список эффектов. Никакого I/O; now используется только для UpdatedAt.
//
// Несовпадение исходного состояния трактуется по правилу last-timestamp-wins:
// событие логически старше последнего применённого → ErrStaleEvent (вызывающая
// сторона фиксирует ignored), иначе → ErrInvalidTransition (rejected).
// Терминальные статусы заказа не принимают переходов, кроме единственного
// исключения — refund по доставленному заказу с успешной оплатой.
func ApplyEvent(order Order, payment Payment, event ProviderEvent, now time.Time) (Transition, error) {
	if !event.Type.Known() {
		return Transition{}, ErrUnhandledEvent
	}

	next, effects, ok := matchTransition(order, payment, event)
	if !ok {
		if event.Before(payment.LastEventAt, payment.LastEventID) {
			return Transition{}, ErrStaleEvent
		}
		return Transition{}, ErrInvalidTransition
	}

	next.Order.UpdatedAt = now
	// Watermark последнего события только растёт: совпавший переход с более
	// старым OccurredAt применяется, но не сдвигает его назад, иначе
	// последующие проверки staleness дают rejected вместо ignored.
	if !event.Before(payment.LastEventAt, payment.LastEventID) {
		next.Payment.LastEventID = event.ID
		next.Payment.LastEventAt = event.OccurredAt
	}
	next.Payment.UpdatedAt = now
	next.Effects = effects
	return next, nil
}

// matchTransition ищет строку таблицы переходов для текущего состояния и события.
func matchTransition(order Order, payment Payment, event ProviderEvent) (Transition, []EffectKind, bool) {
	t := Transition{Order: order, Payment: payment}

	switch event.Type {
	case EventPaymentAuthorized:
		if order.Status == OrderStatusPending && payment.Status == PaymentStatusPending {
			t.Payment.Status = PaymentStatusProcessing
			return t, nil, true
		}

	case EventPaymentCaptured:
		if order.Status == OrderStatusPending &&
			(payment.Status == PaymentStatusPending || payment.Status == PaymentStatusProcessing) {
			t.Order.Status = OrderStatusProcessing
			t.Payment.Status = PaymentStatusSucceeded
			t.Payment.ExternalID = event.PaymentRef
			return t, []EffectKind{EffectEmailConfirmation, EffectPublishOrderEvent}, true
		}

	case EventPaymentFailed:
		if order.Status == OrderStatusPending &&
			(payment.Status == PaymentStatusPending || payment.Status == PaymentStatusProcessing) {
			t.Order.Status = OrderStatusCanceled
			t.Payment.Status = PaymentStatusFailed
			return t, []EffectKind{EffectEmailPaymentFailed, EffectPublishOrderEvent}, true
		}

	case EventOrderCanceled:
		// Отмена принимается только до подтверждения оплаты; после succeeded
		// отмена проходит через payment.refunded.
		if order.Status == OrderStatusPending &&
			(payment.Status == PaymentStatusPending || payment.Status == PaymentStatusProcessing) {
			t.Order.Status = OrderStatusCanceled
			t.Payment.Status = PaymentStatusFailed
			return t, []EffectKind{EffectEmailCanceled, EffectPublishOrderEvent}, true
		}

	case EventPaymentRefunded:
		if payment.Status != PaymentStatusSucceeded {
			break
		}
		switch order.Status {
		case OrderStatusProcessing, OrderStatusPaid, OrderStatusShipped:
			t.Order.Status = OrderStatusCanceled
			t.Payment.Status = PaymentStatusRefunded
			return t, []EffectKind{EffectEmailRefund, EffectPublishOrderEvent}, true
		case OrderStatusDelivered:
			// Единственный разрешённый переход после терминального статуса заказа:
			// заказ остаётся delivered, возврат отражается только на платеже.
			t.Payment.Status = PaymentStatusRefunded
			return t, []EffectKind{EffectEmailRefund, EffectPublishOrderEvent}, true
		}

	case EventFulfillmentShipped:
		if (order.Status == OrderStatusProcessing || order.Status == OrderStatusPaid) &&
			payment.Status == PaymentStatusSucceeded {
			t.Order.Status = OrderStatusShipped
			return t, []EffectKind{EffectEmailShipped, EffectPublishOrderEvent}, true
		}

	case EventFulfillmentDelivered:
		if order.Status == OrderStatusShipped && payment.Status == PaymentStatusSucceeded {
			t.Order.Status = OrderStatusDelivered
			return t, []EffectKind{EffectPublishOrderEvent}, true
		}
	}

	return Transition{}, nil, false
}
