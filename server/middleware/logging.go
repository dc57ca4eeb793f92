package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/datarill/datarill/logger"
)

// RequestLogger returns a Gin middleware that logs every request with
// method, path, status code, and duration. Health checks are skipped.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path = path + "?" + q
		}

		fields := logger.DurationFields("http-request", latency)
		fields["method"] = c.Request.Method
		fields["path"] = path
		fields["status"] = c.Writer.Status()
		if id := c.GetString("request_id"); id != "" {
			fields[logger.FieldRequestID] = id
		}

		status := c.Writer.Status()
		switch {
		case status >= 500:
			logger.Error("Request failed", fields)
		case status >= 400:
			logger.Warn("Request rejected", fields)
		default:
			logger.Info("Request handled", fields)
		}
	}
}
