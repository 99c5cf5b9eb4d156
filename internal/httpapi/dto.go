package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

// CreateOrderRequest — тело запроса на создание заказа.
type CreateOrderRequest struct {
	CustomerID string                   `json:"customer_id"`
	Currency   string                   `json:"currency"`
	Provider   string                   `json:"provider"`
	Items      []CreateOrderItemRequest `json:"items"`
}

// CreateOrderItemRequest — одна позиция создаваемого заказа.
type CreateOrderItemRequest struct {
	SKU        string `json:"sku"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

// OrderResponse — представление заказа в ответе API.
type OrderResponse struct {
	ID          string              `json:"id"`
	CustomerID  string              `json:"customer_id"`
	Status      string              `json:"status"`
	Currency    string              `json:"currency"`
	AmountMinor int64               `json:"amount_minor"`
	Version     int64               `json:"version"`
	Items       []OrderItemResponse `json:"items"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// OrderItemResponse — позиция заказа в ответе API.
type OrderItemResponse struct {
	ID         string `json:"id"`
	SKU        string `json:"sku"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

// PaymentResponse — платёжная запись заказа в ответе API.
type PaymentResponse struct {
	ID          string    `json:"id"`
	Provider    string    `json:"provider"`
	ExternalID  string    `json:"external_id,omitempty"`
	Status      string    `json:"status"`
	AmountMinor int64     `json:"amount_minor"`
	LastEventID string    `json:"last_event_id,omitempty"`
	LastEventAt time.Time `json:"last_event_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TimelineEntryResponse — запись аудита жизненного цикла заказа.
type TimelineEntryResponse struct {
	Type     string    `json:"type"`
	EventID  string    `json:"event_id"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

// OrderDetailsResponse — заказ с платежом и аудитом для GET /orders/{id}.
type OrderDetailsResponse struct {
	Order    OrderResponse           `json:"order"`
	Payment  PaymentResponse         `json:"payment"`
	Timeline []TimelineEntryResponse `json:"timeline"`
}

// WebhookResponse — ответ на принятый вебхук провайдера.
type WebhookResponse struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

// ErrorResponse — унифицированный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func mapOrderToResponse(order domain.Order) OrderResponse {
	items := make([]OrderItemResponse, len(order.Items))
	for i, item := range order.Items {
		items[i] = OrderItemResponse{
			ID:         item.ID,
			SKU:        item.SKU,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		}
	}
	return OrderResponse{
		ID:          order.ID,
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		Currency:    order.Currency,
		AmountMinor: order.AmountMinor,
		Version:     order.Version,
		Items:       items,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
	}
}

func mapPaymentToResponse(payment domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID:          payment.ID,
		Provider:    payment.Provider,
		ExternalID:  payment.ExternalID,
		Status:      string(payment.Status),
		AmountMinor: payment.AmountMinor,
		LastEventID: payment.LastEventID,
		LastEventAt: payment.LastEventAt,
		UpdatedAt:   payment.UpdatedAt,
	}
}

func mapTimelineToResponse(entries []domain.TimelineEvent) []TimelineEntryResponse {
	result := make([]TimelineEntryResponse, len(entries))
	for i, entry := range entries {
		result[i] = TimelineEntryResponse{
			Type:     entry.Type,
			EventID:  entry.EventID,
			Reason:   entry.Reason,
			Occurred: entry.Occurred,
		}
	}
	return result
}
