package verifier

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

// Verifier проверяет подлинность и структурную корректность входящего
// события платёжного провайдера. Никаких побочных эффектов кроме разбора.
type Verifier struct {
	secret []byte
}

// New создаёт верификатор с общим секретом провайдера.
func New(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// eventPayload — ожидаемая схема тела вебхука.
type eventPayload struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	OrderID    string `json:"order_id"`
	PaymentRef string `json:"payment_ref"`
	Outcome    string `json:"outcome"`
	OccurredAt string `json:"occurred_at"`
}

// Verify валидирует подпись сырого тела и разбирает его в ProviderEvent.
// Возвращает ErrSignatureInvalid при несовпадении подписи и ErrEventMalformed
// при нарушении схемы. Неизвестный тип события не является ошибкой: он
// нормализуется в EventTypeUnhandled с сохранением исходной строки.
func (v *Verifier) Verify(body []byte, signature string) (domain.ProviderEvent, error) {
	if err := v.checkSignature(body, signature); err != nil {
		return domain.ProviderEvent{}, err
	}
	return parseEvent(body)
}

// checkSignature сверяет HMAC-SHA256 тела с подписью из заголовка.
// Сравнение — константное по времени.
func (v *Verifier) checkSignature(body []byte, signature string) error {
	signature = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if signature == "" {
		return domain.ErrSignatureInvalid
	}

	claimed, err := hex.DecodeString(signature)
	if err != nil {
		return domain.ErrSignatureInvalid
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), claimed) {
		return domain.ErrSignatureInvalid
	}
	return nil
}

// Sign возвращает hex-подпись тела; используется тестами и loadtest-утилитой.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseEvent(body []byte) (domain.ProviderEvent, error) {
	var payload eventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.ProviderEvent{}, fmt.Errorf("%w: %v", domain.ErrEventMalformed, err)
	}

	switch {
	case strings.TrimSpace(payload.ID) == "":
		return domain.ProviderEvent{}, fmt.Errorf("%w: id is required", domain.ErrEventMalformed)
	case strings.TrimSpace(payload.Type) == "":
		return domain.ProviderEvent{}, fmt.Errorf("%w: type is required", domain.ErrEventMalformed)
	case strings.TrimSpace(payload.OrderID) == "":
		return domain.ProviderEvent{}, fmt.Errorf("%w: order_id is required", domain.ErrEventMalformed)
	case strings.TrimSpace(payload.Outcome) == "":
		return domain.ProviderEvent{}, fmt.Errorf("%w: outcome is required", domain.ErrEventMalformed)
	}

	occurredAt, err := time.Parse(time.RFC3339Nano, payload.OccurredAt)
	if err != nil {
		return domain.ProviderEvent{}, fmt.Errorf("%w: occurred_at: %v", domain.ErrEventMalformed, err)
	}

	eventType := domain.EventType(payload.Type)
	rawType := ""
	if !eventType.Known() {
		// Неизвестные типы остаются видимыми: ledger зафиксирует их как ignored.
		rawType = payload.Type
		eventType = domain.EventTypeUnhandled
	}

	return domain.ProviderEvent{
		ID:         strings.TrimSpace(payload.ID),
		Type:       eventType,
		RawType:    rawType,
		OrderID:    strings.TrimSpace(payload.OrderID),
		PaymentRef: strings.TrimSpace(payload.PaymentRef),
		Outcome:    strings.TrimSpace(payload.Outcome),
		OccurredAt: occurredAt.UTC(),
	}, nil
}
