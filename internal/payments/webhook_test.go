package payments

import (
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
)

const testSecret = "whsec_test_secret"

func signedHeader(payload []byte, secret string, at time.Time) string {
	sig := webhook.ComputeSignature(at, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(sig))
}

func testPayload() []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_123","object":"event","api_version":%q,"type":"checkout.session.completed","data":{"object":{"id":"cs_123","object":"checkout.session"}}}`, stripe.APIVersion))
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	v := NewWebhookVerifier(testSecret)
	payload := testPayload()

	event, err := v.Verify(payload, signedHeader(payload, testSecret, time.Now()))
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if event.ID != "evt_123" {
		t.Errorf("event.ID = %q, want evt_123", event.ID)
	}
	if string(event.Type) != "checkout.session.completed" {
		t.Errorf("event.Type = %q", event.Type)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	v := NewWebhookVerifier(testSecret)
	payload := testPayload()

	_, err := v.Verify(payload, signedHeader(payload, "whsec_other", time.Now()))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	v := NewWebhookVerifier(testSecret)
	payload := testPayload()
	header := signedHeader(payload, testSecret, time.Now())

	tampered := append([]byte{}, payload...)
	tampered[len(tampered)-3] = ' '

	if _, err := v.Verify(tampered, header); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	v := NewWebhookVerifier(testSecret)
	payload := testPayload()

	_, err := v.Verify(payload, signedHeader(payload, testSecret, time.Now().Add(-time.Hour)))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyWithoutSecret(t *testing.T) {
	v := NewWebhookVerifier("")
	payload := testPayload()

	if _, err := v.Verify(payload, signedHeader(payload, "", time.Now())); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature without secret, got %v", err)
	}
}
