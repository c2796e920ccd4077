package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the HTTP surface. reg collects the HTTP metrics and backs
// GET /metrics.
func Router(h *Handler, reg *prometheus.Registry) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), requestLogger(h.log))
	if reg != nil {
		r.Use(newHTTPMetrics(reg).middleware())
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}

	r.NoMethod(func(c *gin.Context) {
		writeProblem(c, http.StatusMethodNotAllowed, "method_not_allowed", c.Request.Method+" not allowed on "+c.Request.URL.Path)
	})
	r.NoRoute(func(c *gin.Context) {
		writeProblem(c, http.StatusNotFound, "not_found", "no route for "+c.Request.URL.Path)
	})

	webhooks := r.Group("/webhook", h.bearerAuth())
	webhooks.POST("/cart-abandoned", h.CartAbandoned)
	webhooks.POST("/whatsapp-reply", h.WhatsAppReply)
	webhooks.POST("/message-status", h.MessageStatus)

	v1 := r.Group("/v1")
	v1.GET("/health", h.Health)

	v1.GET("/scheduler/status", h.SchedulerStatus)
	v1.POST("/scheduler/start", h.SchedulerStart)
	v1.POST("/scheduler/stop", h.SchedulerStop)
	v1.POST("/scheduler/run", h.SchedulerRun)

	v1.GET("/messages", h.ListMessages)

	flows := v1.Group("/flows", h.bearerAuth())
	flows.DELETE("/:flowId/steps/:stepId", h.DeleteFlowStep)

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "cart-recovery")
	})

	return r
}
