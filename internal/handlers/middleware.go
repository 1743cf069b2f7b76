package handlers

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
)

// Origins is the set of browser origins allowed to reach the server.
// A "*" entry allows any origin.
type Origins []string

// Allows reports whether a request from origin may proceed. Requests
// without an origin come from native clients and are always allowed.
func (o Origins) Allows(origin string) bool {
	if origin == "" {
		return true
	}
	return slices.Contains(o, "*") || slices.Contains(o, origin)
}

// requestOrigin falls back to Sec-WebSocket-Origin, which older
// websocket clients send instead of Origin.
func requestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin
	}
	return r.Header.Get("Sec-WebSocket-Origin")
}

// checkOrigin is the websocket upgrader's view of the same policy, so
// /ws/signal stays guarded when mounted without OriginFilter.
func (o Origins) checkOrigin(r *http.Request) bool {
	return o.Allows(requestOrigin(r))
}

// OriginFilter rejects requests from origins outside allowed and sets
// the CORS headers for the rest.
func OriginFilter(allowed Origins) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := requestOrigin(c.Request)
		if !allowed.Allows(origin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Origin not allowed",
			})
			return
		}

		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		// Preflight
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
