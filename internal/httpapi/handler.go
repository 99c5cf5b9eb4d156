package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	"github.com/vladislavdragonenkov/payrecon/internal/service/recon"
	"github.com/vladislavdragonenkov/payrecon/internal/service/verifier"
)

// HeaderProviderSignature — заголовок с HMAC-подписью тела вебхука.
const HeaderProviderSignature = "X-Provider-Signature"

// maxWebhookBody ограничивает размер тела вебхука.
const maxWebhookBody = 1 << 20

// Handler обслуживает HTTP-интерфейс сервиса реконсиляции.
type Handler struct {
	verifier     *verifier.Verifier
	orchestrator *recon.Orchestrator
	orders       domain.OrderRepository
	timeline     domain.TimelineRepository
	logger       *log.Entry
}

// NewHandler создаёт HTTP handler поверх верификатора и оркестратора.
func NewHandler(
	v *verifier.Verifier,
	orchestrator *recon.Orchestrator,
	orders domain.OrderRepository,
	timeline domain.TimelineRepository,
	logger *log.Entry,
) *Handler {
	if logger == nil {
		logger = log.WithField("component", "httpapi")
	}
	return &Handler{
		verifier:     v,
		orchestrator: orchestrator,
		orders:       orders,
		timeline:     timeline,
		logger:       logger,
	}
}

// HandleWebhook принимает вебхук платёжного провайдера.
//
// 202 означает «событие принято и его исход зафиксирован в ledger» —
// включая ignored и rejected: провайдеру не нужно повторять доставку.
// 401/400 — проблема запроса, 409 — событие обрабатывается параллельно,
// 500 — сбой персистентности, провайдер повторит доставку.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "body_read_failed", err.Error())
		return
	}

	event, err := h.verifier.Verify(body, r.Header.Get(HeaderProviderSignature))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSignatureInvalid):
			h.logger.WithField("remote_addr", r.RemoteAddr).Warn("webhook signature rejected")
			writeError(w, http.StatusUnauthorized, "signature_invalid", "")
		case errors.Is(err, domain.ErrEventMalformed):
			writeError(w, http.StatusBadRequest, "event_malformed", err.Error())
		default:
			writeError(w, http.StatusBadRequest, "event_invalid", err.Error())
		}
		return
	}

	result, err := h.orchestrator.Handle(r.Context(), event)
	if err != nil {
		if errors.Is(err, domain.ErrEventInFlight) {
			// Конкурентная доставка того же события: повтор после backoff.
			writeError(w, http.StatusConflict, "event_in_flight", "event is being processed")
			return
		}
		h.logger.WithError(err).WithFields(log.Fields{
			"event_id": event.ID,
			"order_id": event.OrderID,
		}).Error("webhook processing failed")
		writeError(w, http.StatusInternalServerError, "processing_failed", "")
		return
	}

	writeJSON(w, http.StatusAccepted, WebhookResponse{
		EventID: event.ID,
		Status:  string(result.Status),
	})
}

// CreateOrder создаёт заказ в состоянии pending с платёжной записью pending.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	now := time.Now().UTC()
	items := make([]domain.OrderItem, 0, len(req.Items))
	var amount int64
	for _, item := range req.Items {
		items = append(items, domain.OrderItem{
			ID:         uuid.NewString(),
			SKU:        item.SKU,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
			CreatedAt:  now,
		})
		amount += int64(item.Qty) * item.PriceMinor
	}

	provider := req.Provider
	if provider == "" {
		provider = "default"
	}

	order := domain.Order{
		ID:          uuid.NewString(),
		CustomerID:  req.CustomerID,
		Status:      domain.OrderStatusPending,
		Currency:    req.Currency,
		AmountMinor: amount,
		Items:       items,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		writeError(w, http.StatusBadRequest, "invalid_order", errors.Join(errs...).Error())
		return
	}

	payment := domain.Payment{
		ID:          uuid.NewString(),
		OrderID:     order.ID,
		Provider:    provider,
		Status:      domain.PaymentStatusPending,
		AmountMinor: amount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.orders.Create(order, payment); err != nil {
		if errors.Is(err, domain.ErrOrderExists) {
			writeError(w, http.StatusConflict, "order_exists", "")
			return
		}
		h.logger.WithError(err).Error("order creation failed")
		writeError(w, http.StatusInternalServerError, "create_failed", "")
		return
	}

	h.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"customer_id":  order.CustomerID,
		"amount_minor": order.AmountMinor,
	}).Info("order created")

	writeJSON(w, http.StatusCreated, mapOrderToResponse(order))
}

// GetOrder возвращает заказ с платежом и аудитом жизненного цикла.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "order_id_required", "")
		return
	}

	order, payment, err := h.orders.GetWithPayment(orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order_not_found", "")
			return
		}
		h.logger.WithError(err).Error("order lookup failed")
		writeError(w, http.StatusInternalServerError, "lookup_failed", "")
		return
	}

	var timeline []domain.TimelineEvent
	if h.timeline != nil {
		timeline, err = h.timeline.List(orderID)
		if err != nil {
			h.logger.WithError(err).WithField("order_id", orderID).Warn("timeline lookup failed")
		}
	}

	writeJSON(w, http.StatusOK, OrderDetailsResponse{
		Order:    mapOrderToResponse(order),
		Payment:  mapPaymentToResponse(payment),
		Timeline: mapTimelineToResponse(timeline),
	})
}

// ListOrders возвращает заказы клиента.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customer_id")
	if customerID == "" {
		writeError(w, http.StatusBadRequest, "customer_id_required", "")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "")
			return
		}
		limit = parsed
	}

	orders, err := h.orders.ListByCustomer(customerID, limit)
	if err != nil {
		h.logger.WithError(err).Error("order list failed")
		writeError(w, http.StatusInternalServerError, "list_failed", "")
		return
	}

	result := make([]OrderResponse, len(orders))
	for i, order := range orders {
		result[i] = mapOrderToResponse(order)
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
