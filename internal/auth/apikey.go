package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const headerName = "X-API-Key"

// ParseKeys splits a comma-separated key list so keys can be rotated
// without downtime.
func ParseKeys(raw string) [][]byte {
	var keys [][]byte
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, []byte(k))
		}
	}
	return keys
}

// APIKeyMiddleware guards operator endpoints with the X-API-Key header.
// apiKey may hold several comma-separated keys; if it is empty,
// authentication is disabled.
func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	keys := ParseKeys(apiKey)
	return func(c *gin.Context) {
		if len(keys) == 0 {
			c.Next()
			return
		}

		provided := c.GetHeader(headerName)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing API key",
			})
			return
		}

		if !matchAny(keys, []byte(provided)) {
			slog.Warn("rejected API key", "path", c.FullPath(), "ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "invalid API key",
			})
			return
		}

		c.Next()
	}
}

// matchAny compares against every key so timing does not reveal which one matched.
func matchAny(keys [][]byte, provided []byte) bool {
	ok := 0
	for _, k := range keys {
		ok |= subtle.ConstantTimeCompare(provided, k)
	}
	return ok == 1
}
