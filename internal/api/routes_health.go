package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/shopkv/internal/app"
	"github.com/charlesng35/shopkv/internal/handlers"
	"github.com/charlesng35/shopkv/internal/monitoring"
)

func registerHealthRoutes(r *gin.Engine, cfg *app.Config, manager *monitoring.HealthManager) {
	if !cfg.Monitoring.Health.Enabled || manager == nil {
		r.GET("/health", disabledHealthHandler)
		r.GET("/health/live", disabledHealthHandler)
		r.GET("/health/ready", disabledHealthHandler)
		return
	}

	registerHealthEndpoints(r, handlers.NewHealthHandler(manager))
}

func registerHealthEndpoints(router gin.IRouter, handler *handlers.HealthHandler) {
	router.GET("/health", handler.Summary)
	router.GET("/health/live", handler.Live)
	router.GET("/health/ready", handler.Ready)
}

func disabledHealthHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"success": false,
		"status":  "disabled",
	})
}
