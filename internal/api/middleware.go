package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Minimalist03/fediversaopuzzle/internal/services"
)

const RequestIDHeader = "X-Request-ID"

var corsAllowedHeaders = []string{
	"Content-Type",
	"Authorization",
	"X-Client-Info",
	"Apikey",
	services.SignatureHeader,
	"Stripe-Signature",
	RequestIDHeader,
}

// RequestID propagates X-Request-ID, generating one when absent. The id is
// the correlation id of error responses.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(services.ContextKeyRequestID, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// CORS allows browser callers from any origin. Preflight requests are
// answered with 200 and no body.
func CORS() gin.HandlerFunc {
	allowHeaders := strings.Join(corsAllowedHeaders, ", ")
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", allowHeaders)
		c.Header("Access-Control-Expose-Headers", RequestIDHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

// Logger logs one line per request.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", c.GetString(services.ContextKeyRequestID)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("Request failed", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Warn("Request rejected", fields...)
		default:
			logger.Info("Request handled", fields...)
		}
	}
}

// Recovery turns panics into a 500 carrying the request id.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("http")
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				correlationID := c.GetString(services.ContextKeyRequestID)
				logger.Error("Panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.String("correlation_id", correlationID),
					zap.Stack("stack"))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":          "Erro interno",
					"correlation_id": correlationID,
				})
			}
		}()
		c.Next()
	}
}

// RateLimit sheds load above rps with a token bucket shared by all callers.
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// RequireAPIKey accepts the key in the Apikey header or as a Bearer token.
// With no key configured every request is refused.
func RequireAPIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Chave de API não configurada"})
			return
		}

		presented := c.GetHeader("Apikey")
		if presented == "" {
			auth := c.GetHeader("Authorization")
			if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
				presented = strings.TrimSpace(auth[7:])
			}
		}

		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Não autorizado"})
			return
		}
		c.Next()
	}
}
