package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	apperrors "github.com/datarill/datarill/errors"
	"github.com/datarill/datarill/logger"
)

// Recovery returns a Gin middleware that recovers from panics and logs the stack.
// The response body is the serialized AppError so clients see the same error
// shape everywhere.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic recovered", map[string]interface{}{
					"error":     fmt.Sprintf("%v", r),
					"stack":     string(debug.Stack()),
					"path":      c.Request.URL.Path,
					"method":    c.Request.Method,
					"client_ip": c.ClientIP(),
				})
				appErr := apperrors.Internal(fmt.Errorf("%v", r))
				c.AbortWithStatusJSON(appErr.HTTPStatus, appErr)
			}
		}()
		c.Next()
	}
}
