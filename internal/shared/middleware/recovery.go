package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/atelier/server/internal/shared/logger"
	"github.com/gin-gonic/gin"
)

// Recovery returns a middleware that recovers from panics.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("panic recovered",
					"panic", err,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
				})
			}
		}()
		c.Next()
	}
}
