package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pledgehub/pledgehub/internal/models"
	"github.com/pledgehub/pledgehub/internal/services"
	"github.com/pledgehub/pledgehub/internal/utils"
)

type CheckoutRequest struct {
	ProjectID   uint   `json:"projectId" binding:"required"`
	AmountCents int64  `json:"amountCents" binding:"required,gt=0"`
	SuccessURL  string `json:"successUrl" binding:"omitempty,url"`
	CancelURL   string `json:"cancelUrl" binding:"omitempty,url"`
}

type ContributionResponse struct {
	ID            uint      `json:"id"`
	ProjectID     uint      `json:"projectId"`
	ContributorID *uint     `json:"contributorId,omitempty"`
	AmountCents   int64     `json:"amountCents"`
	Currency      string    `json:"currency"`
	Amount        string    `json:"amount"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

func toContributionResponse(c models.Contribution) ContributionResponse {
	return ContributionResponse{
		ID:            c.ID,
		ProjectID:     c.ProjectID,
		ContributorID: c.ContributorID,
		AmountCents:   c.AmountCents,
		Currency:      c.Currency,
		Amount:        services.FormatAmount(c.AmountCents, c.Currency),
		Status:        c.Status,
		CreatedAt:     c.CreatedAt,
	}
}

func (h *Handler) CreateCheckout(ctx *gin.Context) {
	var body CheckoutRequest

	if !bindJSON(ctx, &body) {
		return
	}

	user, err := utils.GetCurrentUser(ctx)

	if err != nil {
		ctx.JSON(http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
		return
	}

	successURL := body.SuccessURL
	if successURL == "" {
		successURL = h.cfg.RedirectURL("/checkout/success?session_id={CHECKOUT_SESSION_ID}")
	}

	cancelURL := body.CancelURL
	if cancelURL == "" {
		cancelURL = h.cfg.RedirectURL("/checkout/cancel")
	}

	result, err := h.checkout.Initiate(ctx.Request.Context(), services.CheckoutInput{
		ProjectID:        body.ProjectID,
		ContributorID:    &user.ID,
		ContributorEmail: user.Email,
		AmountCents:      body.AmountCents,
		SuccessURL:       successURL,
		CancelURL:        cancelURL,
	})

	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, result)
}

func (h *Handler) ListContributions(ctx *gin.Context) {
	projectID, err := utils.GetProjectID(ctx)

	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	if _, err := h.publicProject(ctx, projectID); err != nil {
		respondError(ctx, err)
		return
	}

	page, pageSize := utils.GetPagination(ctx)

	items, total, err := h.contributions.ListByProject(ctx.Request.Context(), projectID, page, pageSize)

	if err != nil {
		respondError(ctx, err)
		return
	}

	response := PageResponse[ContributionResponse]{
		Page:     page,
		PageSize: pageSize,
		Total:    total,
		Items:    make([]ContributionResponse, 0, len(items)),
	}

	for _, c := range items {
		response.Items = append(response.Items, toContributionResponse(c))
	}

	ctx.JSON(http.StatusOK, response)
}
