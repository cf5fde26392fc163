package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Context keys handlers set so the request log line can name the scan.
const (
	ctxTaskID = "task_id"
	ctxPorts  = "ports"
)

// RequestLoggingMiddleware emits one structured log line per HTTP request.
// Scan submissions also carry the task id and the number of ports requested.
func RequestLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		attrs := []any{
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			"status_code", status,
			"latency_ms", float64(time.Since(start))/float64(time.Millisecond),
		}
		if id := c.GetString(ctxTaskID); id != "" {
			attrs = append(attrs, "task_id", id)
		}
		if ports := c.GetInt64(ctxPorts); ports > 0 {
			attrs = append(attrs, "ports", ports)
		}
		logger.Log(c.Request.Context(), level, "request completed", attrs...)
	}
}

// AuthMiddleware requires "Authorization: Bearer <key>" and compares the key
// in constant time.
func AuthMiddleware(expectedKey string, logger *slog.Logger) gin.HandlerFunc {
	expected := []byte(expectedKey)
	return func(c *gin.Context) {
		token, reason := bearerToken(c.GetHeader("Authorization"))
		if reason == "" && subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			reason = "invalid api key"
		}
		if reason != "" {
			logger.Warn("scan api request rejected", "reason", reason, "client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

// bearerToken extracts the token or explains why the header is unusable.
func bearerToken(header string) (token, reason string) {
	if header == "" {
		return "", "missing authorization header"
	}
	rest, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", "unsupported authorization scheme"
	}
	return strings.TrimSpace(rest), ""
}

// RateLimitMiddleware caps the number of API calls a client makes per window.
// Rejected calls still count. The cost of scanning is charged separately by
// the submit handler against the port budget.
func RateLimitMiddleware(limiter *RateLimiter, limit int64, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		usage, err := limiter.Charge(c.Request.Context(), requestBucket, c.ClientIP(), 1)
		if err != nil {
			logger.Error("rate limiter redis error", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
		if usage.Used > limit {
			logger.Warn("request rate exceeded", "client_ip", c.ClientIP(), "count", usage.Used, "limit", limit)
			c.Header("Retry-After", usage.RetryAfter())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// SecurityHeadersMiddleware adds standard security headers to each response.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		headers := c.Writer.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Content-Security-Policy", "default-src 'self'; img-src 'self' data:; style-src 'self' 'unsafe-inline'; script-src 'self' 'unsafe-inline'")
		c.Next()
	}
}
