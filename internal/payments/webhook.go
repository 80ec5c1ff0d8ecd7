package payments

import (
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
)

const SignatureHeader = "Stripe-Signature"

var ErrInvalidSignature = errors.New("invalid webhook signature")

// WebhookVerifier checks Stripe-Signature headers against the endpoint secret.
type WebhookVerifier struct {
	secret string
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

// Verify authenticates the payload and decodes the event envelope.
func (v *WebhookVerifier) Verify(payload []byte, signature string) (stripe.Event, error) {
	if v.secret == "" {
		return stripe.Event{}, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	return event, nil
}
