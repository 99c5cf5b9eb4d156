package domain

import "time"

// EffectKind определяет вид побочного эффекта коммита перехода.
type EffectKind string

const (
	// EffectEmailConfirmation — письмо-подтверждение оплаты заказа.
	EffectEmailConfirmation EffectKind = "email.confirmation"
	// EffectEmailPaymentFailed — письмо об отклонённой оплате.
	EffectEmailPaymentFailed EffectKind = "email.payment_failed"
	// EffectEmailRefund — письмо о возврате средств.
	EffectEmailRefund EffectKind = "email.refund"
	// EffectEmailShipped — письмо об отгрузке заказа.
	EffectEmailShipped EffectKind = "email.shipped"
	// EffectEmailCanceled — письмо об отмене заказа.
	EffectEmailCanceled EffectKind = "email.canceled"
	// EffectPublishOrderEvent — публикация события жизненного цикла заказа в брокер.
	EffectPublishOrderEvent EffectKind = "publish.order_event"
)

// SideEffect — отложенное некритичное действие, порождённое применённым переходом.
// Эффекты записываются в одной транзакции с коммитом перехода и доставляются
// диспетчером после коммита; сбой доставки никогда не откатывает переход.
type SideEffect struct {
	ID      string
	OrderID string
	// EventID — событие провайдера, породившее эффект; вместе с Kind
	// гарантирует ровно одну постановку эффекта на одно применение.
	EventID string
	Kind    EffectKind
	Payload []byte
	// Status ∈ pending|sent|failed.
	Status    string
	CreatedAt time.Time
}

// EffectStats описывает текущее состояние backlog побочных эффектов.
type EffectStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
