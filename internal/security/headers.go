// Package security provides hardening middleware and outbound URL checks.
package security

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Static hardening headers applied to every response. The CSP is strict
// because this service only serves JSON and websocket upgrades, never HTML.
var responseHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"Referrer-Policy":         "strict-origin-when-cross-origin",
	"Content-Security-Policy": "default-src 'none'; connect-src 'self' ws: wss:; frame-ancestors 'none'",
	"Permissions-Policy":      "geolocation=(), microphone=(), camera=()",
}

// HeadersMiddleware stamps hardening headers on all responses.
func HeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		for name, value := range responseHeaders {
			c.Header(name, value)
		}
		c.Next()
	}
}

// CORSMiddleware answers cross-origin requests for the allowed origins.
// "*" in allowedOrigins admits any origin; credentials are only offered for
// an explicit origin list, never together with the wildcard.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	wildcard := allowed["*"]

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (len(allowed) == 0 || wildcard || allowed[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID, X-Admin-Secret")
			c.Header("Access-Control-Max-Age", "86400")
			if !wildcard {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
