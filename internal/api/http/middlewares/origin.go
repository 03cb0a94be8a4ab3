package middlewares

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"fxstream/internal/security"
)

// OriginGuard rejects requests whose Origin and Referer are both outside the
// allowlist, including requests that carry neither.
func OriginGuard(g *security.Guard, log *slog.Logger, route string, allowSelf bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		referer := c.GetHeader("Referer")
		if g.Allowed(origin, referer, allowSelf) {
			c.Next()
			return
		}
		log.Warn("forbid_by_origin",
			"route", route,
			"origin", origin,
			"referer", referer,
			"ip", c.ClientIP(),
		)
		c.String(http.StatusForbidden, "Forbidden (origin)")
		c.Abort()
	}
}

// CORS reflects allowlisted origins (plus the server's own) for GET streams
// and answers their preflight.
func CORS(g *security.Guard) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool { return g.OriginAllowed(origin, true) },
		AllowMethods:    []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:    []string{"Content-Type"},
	})
}
