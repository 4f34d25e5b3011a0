package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tejasbhor/Civiclens/internal/logger"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestLogger attaches a request-scoped logger to the request context and writes
// one access log line per request. A caller-supplied UUID request ID is reused so
// traces join across services.
// Parameters:
//   - log: base logger to enrich with request fields.
//
// Returns:
//   - gin.HandlerFunc: middleware handler.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		ctx := log.WithContext(c.Request.Context())
		ctx = logger.SetRequestID(ctx, requestID)
		ctx = logger.SetComponent(ctx, "api")
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		// Route template keeps path parameters out of the message
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		entry := logger.With(logger.Fields{
			logger.FieldStatus: status,
			logger.FieldSize:   c.Writer.Size(),
			"client_ip":        c.ClientIP(),
		}).WithDuration(time.Since(start).Milliseconds())

		switch {
		case status >= http.StatusInternalServerError:
			entry.Error(ctx, "%s %s", c.Request.Method, route)
		case status >= http.StatusBadRequest:
			entry.Warn(ctx, "%s %s", c.Request.Method, route)
		default:
			entry.Info(ctx, "%s %s", c.Request.Method, route)
		}
	}
}
