package domain

import "time"

// PaymentStatus описывает состояние платежа по данным провайдера.
type PaymentStatus string

const (
	// PaymentStatusPending — платёж инициирован, провайдер ещё не сообщил исход.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusProcessing — сумма авторизована, но списание ещё не подтверждено.
	PaymentStatusProcessing PaymentStatus = "processing"
	// PaymentStatusSucceeded — деньги списаны в пользу мерчанта.
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	// PaymentStatusFailed — провайдер отклонил платёж или произошла ошибка.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded — деньги возвращены клиенту.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Settled сообщает, достиг ли платёж состояния, из которого регресс запрещён.
// Единственный разрешённый переход из succeeded — refunded.
func (s PaymentStatus) Settled() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusRefunded
}

// Payment описывает платёжную запись, связанную с заказом один-к-одному.
// LastEventID и LastEventAt фиксируют последнее применённое событие провайдера
// и служат опорой для разрешения out-of-order доставки.
type Payment struct {
	ID          string
	OrderID     string
	Provider    string
	ExternalID  string // Референс успешного списания у провайдера; пустой до captured.
	Status      PaymentStatus
	AmountMinor int64
	LastEventID string
	LastEventAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate проверяет корректность полей платежа и возвращает ошибки, если они есть.
func (p *Payment) Validate() []error {
	var errs []error

	switch {
	case p.OrderID == "":
		errs = append(errs, ErrOrderIDRequired)
	case p.Provider == "":
		errs = append(errs, ErrPaymentProviderRequired)
	case p.AmountMinor < 0:
		errs = append(errs, ErrPaymentAmountNegative)
	}

	return errs
}
