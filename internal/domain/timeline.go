package domain

import "time"

// TimelineEvent описывает запись аудита в жизненном цикле заказа:
// применённый, пропущенный или отклонённый переход.
type TimelineEvent struct {
	OrderID string
	// Type — тип записи, например "TransitionApplied" или "EventRejected".
	Type string
	// EventID — событие провайдера, к которому относится запись.
	EventID string
	// Reason — человекочитаемое пояснение (причина ignore/reject).
	Reason   string
	Occurred time.Time
}

const (
	TimelineTransitionApplied = "TransitionApplied"
	TimelineEventIgnored      = "EventIgnored"
	TimelineEventRejected     = "EventRejected"
)
