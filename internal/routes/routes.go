package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CyberwizD/webpush-service/pkg/metrics"
)

// NewRouter wires the health and metrics endpoints used to monitor the worker.
func NewRouter(metrics *metrics.Metrics, vapidPublicKey string, started time.Time) http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "push service healthy",
			"meta": gin.H{
				"uptime_seconds": int(time.Since(started).Seconds()),
				"timestamp":      time.Now().UTC(),
			},
		})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Browsers need the application server key to subscribe.
	router.GET("/vapid-public-key", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"public_key": vapidPublicKey}})
	})
	return router
}
