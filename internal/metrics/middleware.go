package metrics

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// CollectorInterface is the subset of Collector the HTTP middleware
// and handler need, narrow enough for tests to fake.
type CollectorInterface interface {
	RecordHTTPRequest(method, path string, status int)
	RecordHTTPDuration(method, endpoint string, duration float64)
	Collect(gauges []GaugeEntry) string
}

// Middleware records one HTTP request counter/duration sample per
// request, adapted from the teacher's MetricsMiddleware.
func Middleware(collector CollectorInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)
		collector.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status())
		collector.RecordHTTPDuration(c.Request.Method, c.FullPath(), duration.Seconds())
	}
}

// QueueGauges is supplied by the caller to report current dispatcher
// queue depth, decoupling this package from internal/dispatch.
type QueueGauges func() []GaugeEntry

// Handler serves GET /metrics in Prometheus text exposition format.
func Handler(collector CollectorInterface, gauges QueueGauges) gin.HandlerFunc {
	return func(c *gin.Context) {
		var g []GaugeEntry
		if gauges != nil {
			g = gauges()
		}
		c.String(http.StatusOK, collector.Collect(g))
	}
}
