package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter собирает маршруты сервиса реконсиляции.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/webhooks/payment", handler.HandleWebhook)
	r.Post("/orders", handler.CreateOrder)
	r.Get("/orders", handler.ListOrders)
	r.Get("/orders/{id}", handler.GetOrder)
	return r
}
