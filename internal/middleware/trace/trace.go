// Package trace assigns request ids and logs request completion.
package trace

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"lifeops/internal/log"
)

// ContextKey type for context keys
type ContextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey ContextKey = "request_id"

	// HeaderRequestID carries the request id in and out
	HeaderRequestID = "X-Request-ID"

	maxRequestIDLength = 64
)

// Middleware returns gin middleware that reuses a sane incoming X-Request-ID
// or generates one, stores it in the request context with a request scoped
// logger, echoes it in the response and logs the completed request.
func Middleware(logger *log.Logger) gin.HandlerFunc {
	structured := log.NewStructuredLogger(logger)
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = GenerateRequestID()
		}

		ctx := context.WithValue(c.Request.Context(), RequestIDKey, requestID)
		ctx = log.NewContext(ctx, logger.With(
			log.FieldRequestID, requestID,
			log.FieldMethod, c.Request.Method,
			log.FieldPath, c.Request.URL.Path,
		))
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderRequestID, requestID)

		c.Next()

		structured.LogHTTPEnd(ctx,
			c.Request.Method,
			c.Request.URL.Path,
			c.Request.URL.RawQuery,
			c.Writer.Status(),
			time.Since(start).Milliseconds(),
			c.ClientIP(),
			requestID)
	}
}

// GenerateRequestID creates a unique request ID for tracing
func GenerateRequestID() string {
	return "req_" + uuid.NewString()
}

// GetRequestID extracts the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
