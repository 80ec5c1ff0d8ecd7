package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pledgehub/pledgehub/internal/payments"
)

// Stripe caps webhook payloads well below this.
const maxWebhookBody = 1 << 16

func (h *Handler) StripeWebhook(ctx *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxWebhookBody))

	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to read request body"})
		return
	}

	event, err := h.verifier.Verify(payload, ctx.GetHeader(payments.SignatureHeader))

	if err != nil {
		if !errors.Is(err, payments.ErrInvalidSignature) {
			log.Printf("webhook: verification error: %v", err)
		}
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid signature"})
		return
	}

	if err := h.reconciler.HandleEvent(ctx.Request.Context(), event); err != nil {
		log.Printf("webhook: event %s (%s) failed: %v", event.ID, event.Type, err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to process event"})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"received": true})
}
