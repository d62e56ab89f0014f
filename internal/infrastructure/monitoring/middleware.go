package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// StrategyKey is the gin context key under which the router records which
// caching strategy handled the request.
const StrategyKey = "gateway.strategy"

// Middleware creates a Gin middleware for metrics collection.
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method

		c.Next()

		strategy := c.GetString(StrategyKey)
		if strategy == "" {
			strategy = "none"
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.RecordHTTPRequest(method, strategy, status, time.Since(start))
	}
}
