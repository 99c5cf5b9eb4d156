package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// Ошибка отрицательной суммы платежа.
	ErrPaymentAmountNegative = errors.New("payment amount must be non-negative")
	// Ошибка отсутствующего кода платёжного провайдера.
	ErrPaymentProviderRequired = errors.New("payment provider is required")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderExists возвращается при создании заказа с занятым ID.
	ErrOrderExists = errors.New("order already exists")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")

	// ErrSignatureInvalid — подпись вебхука не совпала с ожидаемой.
	// Запрос отклоняется без изменения состояния и без повтора с нашей стороны.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	// ErrEventMalformed — тело события не соответствует ожидаемой схеме.
	ErrEventMalformed = errors.New("provider event malformed")
	// ErrEventIDRequired — в событии отсутствует идентификатор.
	ErrEventIDRequired = errors.New("event_id is required")

	// ErrEventAlreadyProcessed — событие уже имеет терминальную запись в ledger;
	// повторная доставка обрабатывается как идемпотентный no-op.
	ErrEventAlreadyProcessed = errors.New("event already processed")
	// ErrEventInFlight — другая обработка того же события ещё не завершена;
	// вызывающая сторона должна повторить попытку после backoff.
	ErrEventInFlight = errors.New("event reservation in flight")
	// ErrEventNotReserved — в ledger нет записи для события.
	ErrEventNotReserved = errors.New("event is not reserved")

	// ErrInvalidTransition — переход невозможен из текущего состояния заказа.
	// Событие фиксируется как rejected без изменения состояния.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrStaleEvent — событие логически старше последнего применённого.
	ErrStaleEvent = errors.New("stale event")
	// ErrUnhandledEvent — тип события не поддерживается таблицей переходов.
	ErrUnhandledEvent = errors.New("unhandled event type")

	// ErrEffectNotFound — эффект с таким идентификатором не найден.
	ErrEffectNotFound = errors.New("side effect not found")
	// ErrNotifyDelivery — доставка уведомления не удалась; эффект изолирован
	// и повторяется диспетчером независимо от состояния заказа.
	ErrNotifyDelivery = errors.New("notification delivery failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}
