package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pledgehub/pledgehub/internal/models"
)

type CategoryResponse struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

func (h *Handler) ListCategories(ctx *gin.Context) {
	var categories []models.Category

	if err := h.db.WithContext(ctx.Request.Context()).Where("active = ?", true).Order("name").Find(&categories).Error; err != nil {
		respondError(ctx, err)
		return
	}

	response := make([]CategoryResponse, 0, len(categories))

	for _, category := range categories {
		response = append(response, CategoryResponse{ID: category.ID, Name: category.Name})
	}

	ctx.JSON(http.StatusOK, response)
}
