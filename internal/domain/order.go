package domain

import "time"

// OrderStatus описывает жизненный цикл заказа в системе реконсиляции.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, подтверждение оплаты от провайдера ещё не получено.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing — оплата подтверждена, заказ готовится к отгрузке.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusPaid — устаревший синоним processing, встречается в заказах,
	// созданных старым флоу. Таблица переходов принимает его как исходное
	// состояние, но никогда не порождает.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ доставлен клиенту; терминальный статус.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCanceled — заказ отменён (отказ оплаты, возврат или явная отмена); терминальный статус.
	OrderStatusCanceled OrderStatus = "canceled"
)

// Terminal сообщает, допускает ли статус дальнейшие переходы заказа.
// Возврат средств после доставки — единственное исключение; он меняет
// только статус платежа и обрабатывается отдельно в таблице переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCanceled
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID string
	// SKU — внешний идентификатор товара.
	SKU string
	// Qty — количество единиц товара.
	Qty int32
	// PriceMinor — цена за единицу в минимальных денежных единицах (например, копейки).
	PriceMinor int64
	// CreatedAt фиксирует момент добавления позиции в заказ.
	CreatedAt time.Time
}

// Order агрегирует состояние заказа и его позиции.
// Заказы никогда не удаляются: терминальные статусы сохраняются для аудита.
type Order struct {
	ID          string
	CustomerID  string
	Status      OrderStatus
	Currency    string
	AmountMinor int64
	Items       []OrderItem
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += int64(item.Qty) * item.PriceMinor
	}
	if calc != o.AmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
