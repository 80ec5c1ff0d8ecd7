package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func (h *Handler) HealthCheck(c *gin.Context) {
	status := http.StatusOK
	database := "ok"

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		status = http.StatusServiceUnavailable
		database = "unreachable"
	}

	body := gin.H{
		"status":    "ok",
		"message":   h.cfg.ProjectName + " is running",
		"database":  database,
		"timestamp": time.Now().Format(time.RFC3339),
	}

	if h.hub != nil {
		body["streams"] = h.hub.ClientCount()
	}

	if status != http.StatusOK {
		body["status"] = "degraded"
	}

	c.JSON(status, body)
}
