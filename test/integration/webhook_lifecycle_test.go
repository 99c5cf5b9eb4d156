package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	"github.com/vladislavdragonenkov/payrecon/internal/httpapi"
	"github.com/vladislavdragonenkov/payrecon/internal/service/effects"
	"github.com/vladislavdragonenkov/payrecon/internal/service/notify"
	"github.com/vladislavdragonenkov/payrecon/internal/service/recon"
	"github.com/vladislavdragonenkov/payrecon/internal/service/verifier"
	"github.com/vladislavdragonenkov/payrecon/internal/storage/memory"
)

// WebhookLifecycleTestSuite тестирует полный цикл реконсиляции:
// создание заказа по HTTP, приём подписанных вебхуков и доставку
// отложенных эффектов диспетчером.
type WebhookLifecycleTestSuite struct {
	suite.Suite

	server     *httptest.Server
	signer     *verifier.Verifier
	notifier   *notify.MockNotifier
	dispatcher *effects.Dispatcher
}

func (s *WebhookLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах
	logger := baseLogger.WithField("component", "integration-test")

	orders := memory.NewOrderRepository()
	ledger := memory.NewLedgerRepository()
	effectRepo := memory.NewEffectRepository()
	timeline := memory.NewTimelineRepository()
	store := memory.NewReconStore(orders, ledger, effectRepo, timeline)

	s.signer = verifier.New([]byte("integration-secret"))
	s.notifier = notify.NewMockNotifier()

	orchestrator := recon.NewOrchestratorWithoutMetrics(orders, ledger, store, logger)
	handler := httpapi.NewHandler(s.signer, orchestrator, orders, timeline, logger)
	s.server = httptest.NewServer(httpapi.NewRouter(handler))

	s.dispatcher = effects.NewDispatcher(
		effectRepo,
		orders,
		s.notifier,
		nil,
		effects.WithLogger(logger),
		effects.WithMaxAttempts(1),
	)
}

func (s *WebhookLifecycleTestSuite) TearDownTest() {
	s.server.Close()
}

func (s *WebhookLifecycleTestSuite) createOrder(customerID string) string {
	body, err := json.Marshal(map[string]any{
		"customer_id": customerID,
		"currency":    "USD",
		"provider":    "stripeish",
		"items": []map[string]any{
			{"sku": "laptop-pro", "qty": 1, "price_minor": 199900},
			{"sku": "mouse-wireless", "qty": 2, "price_minor": 4999},
		},
	})
	require.NoError(s.T(), err)

	resp, err := http.Post(s.server.URL+"/orders", "application/json", bytes.NewReader(body))
	require.NoError(s.T(), err)
	defer resp.Body.Close()
	require.Equal(s.T(), http.StatusCreated, resp.StatusCode)

	var created struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		AmountMinor int64  `json:"amount_minor"`
	}
	require.NoError(s.T(), json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(s.T(), created.ID)
	require.Equal(s.T(), "pending", created.Status)
	require.Equal(s.T(), int64(209898), created.AmountMinor)

	return created.ID
}

func (s *WebhookLifecycleTestSuite) postWebhook(event map[string]any) (int, map[string]string) {
	body, err := json.Marshal(event)
	require.NoError(s.T(), err)

	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/webhooks/payment", bytes.NewReader(body))
	require.NoError(s.T(), err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Provider-Signature", s.signer.Sign(body))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.T(), err)
	defer resp.Body.Close()

	var decoded map[string]string
	require.NoError(s.T(), json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func (s *WebhookLifecycleTestSuite) TestSuccessfulPaymentLifecycle() {
	orderID := s.createOrder("customer-123")
	occurred := time.Now().UTC().Format(time.RFC3339Nano)

	// 1. Захват платежа переводит заказ в processing
	status, resp := s.postWebhook(map[string]any{
		"id":          "evt-capture-1",
		"type":        "payment.captured",
		"order_id":    orderID,
		"payment_ref": "ch_123",
		"outcome":     "success",
		"occurred_at": occurred,
	})
	require.Equal(s.T(), http.StatusAccepted, status)
	require.Equal(s.T(), "applied", resp["status"])

	// 2. Состояние заказа и аудит видны через API
	getResp, err := http.Get(s.server.URL + "/orders/" + orderID)
	require.NoError(s.T(), err)
	defer getResp.Body.Close()
	require.Equal(s.T(), http.StatusOK, getResp.StatusCode)

	var details struct {
		Order struct {
			Status  string `json:"status"`
			Version int64  `json:"version"`
		} `json:"order"`
		Payment struct {
			Status     string `json:"status"`
			ExternalID string `json:"external_id"`
		} `json:"payment"`
		Timeline []struct {
			Type    string `json:"type"`
			EventID string `json:"event_id"`
		} `json:"timeline"`
	}
	require.NoError(s.T(), json.NewDecoder(getResp.Body).Decode(&details))
	require.Equal(s.T(), "processing", details.Order.Status)
	require.Equal(s.T(), int64(1), details.Order.Version)
	require.Equal(s.T(), "succeeded", details.Payment.Status)
	require.Equal(s.T(), "ch_123", details.Payment.ExternalID)
	require.Len(s.T(), details.Timeline, 1)
	require.Equal(s.T(), "TransitionApplied", details.Timeline[0].Type)

	// 3. Диспетчер доставляет письмо-подтверждение
	s.dispatcher.ProcessOnce(context.Background())
	require.Equal(s.T(), 1, s.notifier.SendCalls)
	require.Equal(s.T(), domain.EffectEmailConfirmation, s.notifier.LastKind)
	require.Equal(s.T(), "customer-123", s.notifier.LastRecipient)
	require.Equal(s.T(), orderID, s.notifier.LastOrderID)

	// 4. Повторная доставка того же события — идемпотентный no-op
	status, resp = s.postWebhook(map[string]any{
		"id":          "evt-capture-1",
		"type":        "payment.captured",
		"order_id":    orderID,
		"payment_ref": "ch_123",
		"outcome":     "success",
		"occurred_at": occurred,
	})
	require.Equal(s.T(), http.StatusAccepted, status)
	require.Equal(s.T(), "applied", resp["status"])

	s.dispatcher.ProcessOnce(context.Background())
	require.Equal(s.T(), 1, s.notifier.SendCalls, "duplicate delivery must not enqueue new effects")
}

func (s *WebhookLifecycleTestSuite) TestStaleEventIgnored() {
	orderID := s.createOrder("customer-456")
	now := time.Now().UTC()

	status, resp := s.postWebhook(map[string]any{
		"id":          "evt-capture-2",
		"type":        "payment.captured",
		"order_id":    orderID,
		"payment_ref": "ch_456",
		"outcome":     "success",
		"occurred_at": now.Format(time.RFC3339Nano),
	})
	require.Equal(s.T(), http.StatusAccepted, status)
	require.Equal(s.T(), "applied", resp["status"])

	// Авторизация, случившаяся раньше захвата, приходит с опозданием
	status, resp = s.postWebhook(map[string]any{
		"id":          "evt-auth-2",
		"type":        "payment.authorized",
		"order_id":    orderID,
		"payment_ref": "ch_456",
		"outcome":     "success",
		"occurred_at": now.Add(-time.Minute).Format(time.RFC3339Nano),
	})
	require.Equal(s.T(), http.StatusAccepted, status)
	require.Equal(s.T(), "ignored", resp["status"])
}

func (s *WebhookLifecycleTestSuite) TestRefundAfterCapture() {
	orderID := s.createOrder("customer-789")
	now := time.Now().UTC()

	status, resp := s.postWebhook(map[string]any{
		"id":          "evt-capture-3",
		"type":        "payment.captured",
		"order_id":    orderID,
		"payment_ref": "ch_789",
		"outcome":     "success",
		"occurred_at": now.Format(time.RFC3339Nano),
	})
	require.Equal(s.T(), http.StatusAccepted, status)
	require.Equal(s.T(), "applied", resp["status"])

	status, resp = s.postWebhook(map[string]any{
		"id":          "evt-refund-3",
		"type":        "payment.refunded",
		"order_id":    orderID,
		"payment_ref": "re_789",
		"outcome":     "success",
		"occurred_at": now.Add(time.Second).Format(time.RFC3339Nano),
	})
	require.Equal(s.T(), http.StatusAccepted, status)
	require.Equal(s.T(), "applied", resp["status"])

	getResp, err := http.Get(s.server.URL + "/orders/" + orderID)
	require.NoError(s.T(), err)
	defer getResp.Body.Close()

	var details struct {
		Order struct {
			Status string `json:"status"`
		} `json:"order"`
		Payment struct {
			Status string `json:"status"`
		} `json:"payment"`
	}
	require.NoError(s.T(), json.NewDecoder(getResp.Body).Decode(&details))
	require.Equal(s.T(), "canceled", details.Order.Status)
	require.Equal(s.T(), "refunded", details.Payment.Status)
}

func (s *WebhookLifecycleTestSuite) TestBadSignatureRejected() {
	body := []byte(`{"id":"evt-x","type":"payment.captured","order_id":"order-x","outcome":"success","occurred_at":"2026-01-01T00:00:00Z"}`)

	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/webhooks/payment", bytes.NewReader(body))
	require.NoError(s.T(), err)
	req.Header.Set("X-Provider-Signature", "deadbeef")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.T(), err)
	defer resp.Body.Close()
	require.Equal(s.T(), http.StatusUnauthorized, resp.StatusCode)
}

func TestWebhookLifecycleTestSuite(t *testing.T) {
	suite.Run(t, new(WebhookLifecycleTestSuite))
}
