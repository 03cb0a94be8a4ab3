package system

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ConnectionCounter reports the number of live stream subscribers.
type ConnectionCounter interface {
	Count() int
}

// Controller holds the operational routes: health and metrics.
type Controller struct {
	conns ConnectionCounter
}

func New(conns ConnectionCounter) *Controller {
	return &Controller{conns: conns}
}

func (c *Controller) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", c.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (c *Controller) health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok", "connections": c.conns.Count()})
}
