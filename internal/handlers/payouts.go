package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type OnboardRequest struct {
	ReturnURL  string `json:"returnUrl" binding:"omitempty,url"`
	RefreshURL string `json:"refreshUrl" binding:"omitempty,url"`
}

func (h *Handler) OnboardPayouts(ctx *gin.Context) {
	var body OnboardRequest

	// An empty body is fine, both URLs default to the client app.
	if ctx.Request.ContentLength != 0 && !bindJSON(ctx, &body) {
		return
	}

	userID, ok := currentUserID(ctx)

	if !ok {
		return
	}

	returnURL := body.ReturnURL
	if returnURL == "" {
		returnURL = h.cfg.RedirectURL("/payouts/complete")
	}

	refreshURL := body.RefreshURL
	if refreshURL == "" {
		refreshURL = h.cfg.RedirectURL("/payouts/refresh")
	}

	url, err := h.payouts.Onboard(ctx.Request.Context(), userID, returnURL, refreshURL)

	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *Handler) RefreshPayouts(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)

	if !ok {
		return
	}

	status, err := h.payouts.Refresh(ctx.Request.Context(), userID)

	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, status)
}
