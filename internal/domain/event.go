package domain

import "time"

// EventType — закрытое множество типов событий провайдера.
// Неизвестные типы парсер отображает в EventTypeUnhandled, чтобы они
// оставались видимыми в логах и ledger, а не терялись молча.
type EventType string

const (
	EventPaymentAuthorized    EventType = "payment.authorized"
	EventPaymentCaptured      EventType = "payment.captured"
	EventPaymentFailed        EventType = "payment.failed"
	EventPaymentRefunded      EventType = "payment.refunded"
	EventFulfillmentShipped   EventType = "fulfillment.shipped"
	EventFulfillmentDelivered EventType = "fulfillment.delivered"
	EventOrderCanceled        EventType = "order.canceled"
	EventTypeUnhandled        EventType = "unhandled"
)

// Known сообщает, относится ли тип к обрабатываемым событиям.
func (t EventType) Known() bool {
	switch t {
	case EventPaymentAuthorized, EventPaymentCaptured, EventPaymentFailed,
		EventPaymentRefunded, EventFulfillmentShipped, EventFulfillmentDelivered,
		EventOrderCanceled:
		return true
	default:
		return false
	}
}

// ProviderEvent — верифицированное событие платёжного провайдера.
// После разбора событие неизменяемо; провайдер может доставить его
// повторно и в произвольном порядке.
type ProviderEvent struct {
	// ID — уникальный идентификатор события, выданный провайдером.
	// Служит ключом идемпотентности.
	ID string
	// Type — тип события после нормализации.
	Type EventType
	// RawType — исходная строка типа, сохраняется для unhandled-событий.
	RawType string
	// OrderID — ссылка на заказ в нашей системе.
	OrderID string
	// PaymentRef — референс платежа/списания на стороне провайдера.
	PaymentRef string
	// Outcome — код исхода от провайдера (например, "ok", "declined").
	Outcome string
	// OccurredAt — таймстемп провайдера; задаёт логический порядок событий.
	OccurredAt time.Time
}

// Before сообщает, логически предшествует ли событие другому.
// При равных таймстемпах порядок определяется лексикографически по ID
// события — зафиксированное решение для детерминизма повторных доставок.
func (e ProviderEvent) Before(lastEventAt time.Time, lastEventID string) bool {
	if e.OccurredAt.Before(lastEventAt) {
		return true
	}
	if e.OccurredAt.Equal(lastEventAt) {
		return e.ID <= lastEventID
	}
	return false
}
