// Package validation provides request validation helpers and middleware.
package validation

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize caps request bodies at 1MB.
const MaxRequestSize = 1 << 20

// MaxStringLength caps free-form string fields such as descriptions.
const MaxStringLength = 10000

// RequestSizeMiddleware rejects request bodies larger than maxSize. Reads
// past the cap fail, surfacing as a bind error in handlers.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidPeriod reports whether s is a billing period: a calendar month
// ("2026-08") or a single day ("2026-08-26").
func IsValidPeriod(s string) bool {
	for _, layout := range []string{"2006-01", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil && t.Format(layout) == s {
			return true
		}
	}
	return false
}

// SanitizeString trims whitespace, strips null bytes, and truncates to
// maxLen bytes.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}
