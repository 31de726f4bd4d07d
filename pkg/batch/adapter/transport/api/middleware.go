package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	logger "github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	corsMaxAge      = 12 * time.Hour
)

// RecoveryMiddleware turns a handler panic into a 500 response.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("Panic recovered on %s %s: %v", c.Request.Method, c.Request.URL.Path, r)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
					"code":  "INTERNAL_ERROR",
				})
			}
		}()
		c.Next()
	}
}

// RequestIDMiddleware propagates X-Request-ID, generating a UUID when absent.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

// LoggerMiddleware logs one line per request. The event stream and health
// probes are logged at debug level.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		status := c.Writer.Status()
		line := "%s %s -> %d (%s) request_id=%s"
		args := []interface{}{c.Request.Method, path, status, time.Since(start), c.GetString(requestIDKey)}
		switch {
		case len(c.Errors) > 0:
			logger.Errorf(line+" errors=%s", append(args, c.Errors.String())...)
		case status >= http.StatusInternalServerError:
			logger.Errorf(line, args...)
		case strings.HasSuffix(path, "/health") || strings.HasSuffix(path, "/events") || path == "/metrics":
			logger.Debugf(line, args...)
		default:
			logger.Infof(line, args...)
		}
	}
}

// CORSMiddleware answers preflight requests and sets CORS headers for allowed origins.
func CORSMiddleware(origins []string) gin.HandlerFunc {
	methods := strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ", ")
	headers := strings.Join([]string{"Origin", "Content-Type", "Accept", "Cache-Control", requestIDHeader}, ", ")
	maxAge := strconv.Itoa(int(corsMaxAge.Seconds()))

	return func(c *gin.Context) {
		allowed := allowedOrigin(c.GetHeader("Origin"), origins)
		if allowed == "" {
			c.Next()
			return
		}
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", allowed)
		h.Set("Access-Control-Allow-Methods", methods)
		h.Set("Access-Control-Allow-Headers", headers)
		h.Set("Access-Control-Expose-Headers", requestIDHeader)
		h.Set("Access-Control-Max-Age", maxAge)
		if allowed != "*" {
			h.Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// allowedOrigin returns the value for Access-Control-Allow-Origin, or "" when
// origin is not allowed.
func allowedOrigin(origin string, origins []string) string {
	if origin == "" {
		return ""
	}
	for _, o := range origins {
		if o == "*" {
			return "*"
		}
		if strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}
