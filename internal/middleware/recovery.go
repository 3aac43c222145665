package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/paysphere/sphere-gateway/internal/envelope"
	"github.com/paysphere/sphere-gateway/internal/gwerr"
	"github.com/paysphere/sphere-gateway/internal/observability"
)

// Recovery converts panics into a server-error envelope so a handler bug
// never tears down the connection with a half-written response.
func Recovery(builder *envelope.Builder, logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic recovered",
					observability.Any("panic", rec),
					observability.String("path", c.Request.URL.Path),
					observability.String("method", c.Request.Method))

				if !c.Writer.Written() {
					builder.WriteError(c.Writer, gwerr.ServerError(""))
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}
