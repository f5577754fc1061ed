// Package middleware contains Gin middleware shared across the dispatcher's
// HTTP surface.
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/meetfocus/focus/internal/logging"
)

// HeaderXCorrelationID is the header carrying the request correlation ID.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID assigns (or propagates) a correlation ID for every request
// and stores it in the request context so internal/logging can attach it.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderXCorrelationID)
		if id == "" {
			id = uuid.New().String()
		}
		c.Header(HeaderXCorrelationID, id)

		ctx := context.WithValue(c.Request.Context(), logging.CorrelationIDKey, id)
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(logging.CorrelationIDKey), id)

		c.Next()
	}
}
