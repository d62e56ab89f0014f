package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gestore/gateway/internal/shared/id"
)

// RequestIDKey is the gin context key holding the request correlation ID.
const RequestIDKey = "gateway.request_id"

// RequestIDHeader carries the correlation ID on requests and responses.
const RequestIDHeader = "X-Request-ID"

// RequestID attaches a correlation ID to every request. A well-formed
// incoming X-Request-ID is kept so IDs survive proxy hops; anything else is
// replaced with a fresh one. The ID is echoed on the response and stored in
// the gin context for handlers and logging.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if !isRequestID(rid) {
			rid = string(id.NewRequestID())
		}
		c.Set(RequestIDKey, id.RequestID(rid))
		c.Header(RequestIDHeader, rid)
		c.Next()
	}
}

// RequestIDFrom returns the correlation ID set by RequestID, or "" when the
// middleware did not run.
func RequestIDFrom(c *gin.Context) id.RequestID {
	if v, ok := c.Get(RequestIDKey); ok {
		if rid, ok := v.(id.RequestID); ok {
			return rid
		}
	}
	return ""
}

func isRequestID(s string) bool {
	rest, ok := strings.CutPrefix(s, id.RequestPrefix+"_")
	if !ok {
		return false
	}
	return id.IsValid(rest)
}
