package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the trigger surface under /api/v1/sync behind auth
// and, when metrics is non-nil, the Prometheus scrape endpoint at /metrics.
func RegisterRoutes(router *gin.Engine, h *Handler, auth gin.HandlerFunc, metrics http.Handler) {
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	sync := router.Group("/api/v1/sync")
	sync.Use(auth)

	sync.POST("/tick", h.Tick)
	sync.POST("/run-now", h.RunNow)
	sync.POST("/pause", h.Pause)
	sync.POST("/resume", h.Resume)
	sync.POST("/gaps/detect", h.DetectGaps)
	sync.POST("/gaps/fill", h.FillGaps)
	sync.POST("/people/enrich", h.EnrichPeople)
	sync.POST("/queue/retry-failed", h.RetryFailed)
	sync.GET("/status", h.Status)
}
