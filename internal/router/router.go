package router

import (
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pledgehub/pledgehub/internal/config"
	"github.com/pledgehub/pledgehub/internal/handlers"
	"github.com/pledgehub/pledgehub/internal/middleware"
)

func NewRouter(cfg *config.Config, h *handlers.Handler, authenticator *middleware.Authenticator) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), middleware.RequestID())

	// Add CORS middleware
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept", "X-Requested-With", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	requireUser := authenticator.Required()

	api := r.Group("/api")
	{
		api.GET("/health", h.HealthCheck)
		api.POST("/webhooks/stripe", h.StripeWebhook)

		api.GET("/categories", h.ListCategories)
		api.GET("/stream", requireUser, h.Stream)
		api.GET("/ws", requireUser, h.WebSocket)
		api.POST("/checkout", requireUser, h.CreateCheckout)
		api.DELETE("/comments/:comment_id", requireUser, h.DeleteComment)

		me := api.Group("/me", requireUser)
		{
			me.GET("", h.Me)
			me.GET("/projects", h.ListMyProjects)
		}

		payouts := api.Group("/payouts", requireUser)
		{
			payouts.POST("/onboard", h.OnboardPayouts)
			payouts.POST("/refresh", h.RefreshPayouts)
		}

		projects := api.Group("/projects")
		{
			projects.GET("", h.ListProjects)
			projects.GET("/:project_id", h.GetProject)
			projects.GET("/:project_id/contributions", h.ListContributions)
			projects.GET("/:project_id/comments", h.ListComments)

			projects.POST("", requireUser, h.CreateProject)
			projects.PATCH("/:project_id", requireUser, h.UpdateProject)
			projects.DELETE("/:project_id", requireUser, h.DeleteProject)
			projects.POST("/:project_id/publish", requireUser, h.PublishProject)
			projects.POST("/:project_id/archive", requireUser, h.ArchiveProject)
			projects.POST("/:project_id/comments", requireUser, h.CreateComment)

			// Stats endpoints
			projects.GET("/:project_id/stats", requireUser, h.GetProjectStats)
			projects.POST("/:project_id/stats/recompute", requireUser, h.RecomputeProjectStats)
		}
	}

	if cfg.StaticDir != "" {
		serveClient(r, cfg.StaticDir)
	}

	return r
}

// serveClient serves the built single-page app, falling back to index.html
// for client-side routes.
func serveClient(r *gin.Engine, dir string) {
	index := filepath.Join(dir, "index.html")

	r.Static("/assets", filepath.Join(dir, "assets"))

	r.NoRoute(func(ctx *gin.Context) {
		if strings.HasPrefix(ctx.Request.URL.Path, "/api/") || ctx.Request.Method != http.MethodGet {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}

		ctx.File(index)
	})
}
