package verifier

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

const testSecret = "whsec_test"

func validBody() []byte {
	return []byte(`{
		"id": "evt-1",
		"type": "payment.captured",
		"order_id": "order-1",
		"payment_ref": "ch_123",
		"outcome": "ok",
		"occurred_at": "2025-03-01T12:00:00Z"
	}`)
}

func TestVerify_Ok(t *testing.T) {
	v := New([]byte(testSecret))
	body := validBody()

	event, err := v.Verify(body, v.Sign(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.ID != "evt-1" || event.Type != domain.EventPaymentCaptured {
		t.Fatalf("event = %+v", event)
	}
	if event.OccurredAt.IsZero() {
		t.Fatal("occurred_at must be parsed")
	}
}

func TestVerify_SignaturePrefix(t *testing.T) {
	v := New([]byte(testSecret))
	body := validBody()

	if _, err := v.Verify(body, "sha256="+v.Sign(body)); err != nil {
		t.Fatalf("prefixed signature must be accepted: %v", err)
	}
}

func TestVerify_SignatureMismatch(t *testing.T) {
	v := New([]byte(testSecret))
	body := validBody()

	cases := map[string]string{
		"empty":        "",
		"not hex":      "zzzz",
		"wrong secret": New([]byte("other")).Sign(body),
	}
	for name, sig := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := v.Verify(body, sig); !errors.Is(err, domain.ErrSignatureInvalid) {
				t.Fatalf("err = %v, want ErrSignatureInvalid", err)
			}
		})
	}
}

func TestVerify_TamperedBody(t *testing.T) {
	v := New([]byte(testSecret))
	body := validBody()
	sig := v.Sign(body)

	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-2] = ' '
	if _, err := v.Verify(tampered, sig); !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Fatalf("err = %v, want ErrSignatureInvalid", err)
	}
}

func TestVerify_Malformed(t *testing.T) {
	v := New([]byte(testSecret))

	cases := map[string][]byte{
		"not json":     []byte(`not-json`),
		"missing id":   []byte(`{"type":"payment.captured","order_id":"o","outcome":"ok","occurred_at":"2025-03-01T12:00:00Z"}`),
		"missing type": []byte(`{"id":"evt-1","order_id":"o","outcome":"ok","occurred_at":"2025-03-01T12:00:00Z"}`),
		"no order":     []byte(`{"id":"evt-1","type":"payment.captured","outcome":"ok","occurred_at":"2025-03-01T12:00:00Z"}`),
		"bad time":     []byte(`{"id":"evt-1","type":"payment.captured","order_id":"o","outcome":"ok","occurred_at":"yesterday"}`),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := v.Verify(body, v.Sign(body)); !errors.Is(err, domain.ErrEventMalformed) {
				t.Fatalf("err = %v, want ErrEventMalformed", err)
			}
		})
	}
}

func TestVerify_UnknownTypeBecomesUnhandled(t *testing.T) {
	v := New([]byte(testSecret))
	body := []byte(`{"id":"evt-1","type":"payment.disputed","order_id":"o","outcome":"ok","occurred_at":"2025-03-01T12:00:00Z"}`)

	event, err := v.Verify(body, v.Sign(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Type != domain.EventTypeUnhandled {
		t.Fatalf("type = %s, want unhandled", event.Type)
	}
	if event.RawType != "payment.disputed" {
		t.Fatalf("raw type = %q, want payment.disputed", event.RawType)
	}
}
