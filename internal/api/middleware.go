package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestIDMiddleware generates or propagates a request ID for tracing,
// adapted from the teacher's RequestIDMiddleware (uuid.NewString in
// place of the teacher's hand-rolled UUID generator).
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// LoggerMiddleware logs one structured access-log line per request via
// zerolog, adapted from the teacher's LoggerMiddleware (which wrote a
// formatted line to an io.Writer; here it logs fields instead).
func LoggerMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info().
			Str("request_id", c.GetString("request_id")).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}

// RecoveryMiddleware converts a panic into a 500 ErrorResponse instead
// of crashing the process, adapted from the teacher's ErrorMiddleware.
func RecoveryMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Str("request_id", c.GetString("request_id")).Msg("recovered panic")
				c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
					Error:     "InternalError",
					Message:   "internal server error",
					RequestID: c.GetString("request_id"),
				})
			}
		}()
		c.Next()
	}
}

// AuthMiddleware validates the X-API-Key header against apiKey,
// adapted from the teacher's AuthMiddleware. A no-op when apiKey is
// empty (auth disabled).
func AuthMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		if c.GetHeader("X-API-Key") != apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error:     "Unauthorized",
				Message:   "missing or invalid X-API-Key",
				RequestID: c.GetString("request_id"),
			})
			return
		}
		c.Next()
	}
}

type clientRateInfo struct {
	tokens    int
	lastReset time.Time
}

// RateLimitMiddleware is a per-client-IP fixed-window limiter, adapted
// from the teacher's rateLimiter in middleware.go (token-bucket-per-
// window over a mutex-guarded map).
func RateLimitMiddleware(requestsPerWindow int, window time.Duration) gin.HandlerFunc {
	var mu sync.Mutex
	clients := make(map[string]*clientRateInfo)

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		client, exists := clients[ip]
		if !exists || time.Since(client.lastReset) >= window {
			clients[ip] = &clientRateInfo{tokens: requestsPerWindow - 1, lastReset: time.Now()}
			mu.Unlock()
			c.Next()
			return
		}
		if client.tokens <= 0 {
			mu.Unlock()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error:     "RateLimited",
				Message:   "too many requests",
				RequestID: c.GetString("request_id"),
			})
			return
		}
		client.tokens--
		mu.Unlock()
		c.Next()
	}
}
