package widget

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"fxstream/internal/api/http/middlewares"
	"fxstream/internal/security"
)

// Controller serves the embeddable widget: the loader script, the iframe
// document, the demo page and their static assets.
type Controller struct {
	publicDir string
	guard     *security.Guard
	log       *slog.Logger
}

func New(publicDir string, guard *security.Guard, log *slog.Logger) *Controller {
	return &Controller{publicDir: publicDir, guard: guard, log: log}
}

func (c *Controller) RegisterRoutes(r *gin.Engine) {
	r.GET("/demo", c.demo)
	r.GET("/widget.js", c.widget)
	r.GET("/frame", middlewares.OriginGuard(c.guard, c.log, "/frame", false), c.frame)
	r.Static("/static", c.publicDir)
}

// ContentSecurityPolicy is the CSP of the iframe document.
func (c *Controller) ContentSecurityPolicy() string {
	return strings.Join([]string{
		"default-src 'self'",
		"style-src 'self' 'unsafe-inline'",
		"script-src 'self'",
		"connect-src 'self'",
		"img-src 'self' data:",
		c.guard.FrameAncestors(),
	}, "; ")
}

func (c *Controller) demo(ctx *gin.Context) {
	ctx.File(filepath.Join(c.publicDir, "demo.html"))
}

// widget must be loadable cross-origin.
func (c *Controller) widget(ctx *gin.Context) {
	ctx.Header("Content-Type", "application/javascript; charset=utf-8")
	ctx.Header("Cross-Origin-Resource-Policy", "cross-origin")
	ctx.File(filepath.Join(c.publicDir, "widget.js"))
}

func (c *Controller) frame(ctx *gin.Context) {
	ctx.Header("Content-Security-Policy", c.ContentSecurityPolicy())
	ctx.Header("Cross-Origin-Resource-Policy", "cross-origin")
	ctx.File(filepath.Join(c.publicDir, "frame.html"))
}
