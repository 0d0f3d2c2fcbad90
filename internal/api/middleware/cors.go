package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins  []string
	AllowAllOrigins bool
}

const (
	corsAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	// X-Request-ID comes back on every response for client-side log
	// correlation; browsers only surface it when exposed here.
	corsAllowHeaders  = "Content-Type, Authorization, Accept, Origin, X-Requested-With, X-Request-ID"
	corsExposeHeaders = "Content-Length, X-Request-ID"
	corsMaxAge        = "3600"
)

// CORS returns a middleware admitting the mobile client and the ops
// dashboard. Origins outside the allow list get no CORS headers at all.
func CORS(config CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		h := c.Writer.Header()

		switch {
		case config.AllowAllOrigins:
			// Credentials cannot ride along with a wildcard origin.
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Credentials", "false")
		case originAllowed(origin, config.AllowedOrigins):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		default:
			c.Next()
			return
		}

		h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Expose-Headers", corsExposeHeaders)

		if c.Request.Method == http.MethodOptions {
			h.Set("Access-Control-Max-Age", corsMaxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// originAllowed reports whether origin is on the allow list. An empty list
// admits every origin, matching the permissive default of local development.
func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return origin != ""
	}
	for _, item := range allowed {
		if item == "*" || strings.EqualFold(origin, item) {
			return true
		}
	}
	return false
}
