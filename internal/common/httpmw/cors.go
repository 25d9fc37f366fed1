package httpmw

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CORS applies the permissive cross-origin policy the browser clients expect.
// The relay is consumed from arbitrary dashboard origins, so every origin is
// allowed and preflight requests are answered directly.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Accept, Cache-Control, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
