package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pledgehub/pledgehub/internal/models"
)

type UserResponse struct {
	ID             uint   `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	PayoutsEnabled bool   `json:"payoutsEnabled"`
	HasAccount     bool   `json:"hasPayoutAccount"`
}

func (h *Handler) Me(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)

	if !ok {
		return
	}

	var user models.User

	if err := h.db.WithContext(ctx.Request.Context()).First(&user, userID).Error; err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, UserResponse{
		ID:             user.ID,
		Name:           user.Name,
		Email:          user.Email,
		PayoutsEnabled: user.HasVerifiedPayouts(),
		HasAccount:     user.StripeAccountID != "",
	})
}
