// Package httpapi is a thin Gin router exposing the task manager
// through an OpenAI chat-completion-compatible HTTP surface, plus
// instance and stats introspection. Grounded on the route-group +
// handler-struct convention of agent/api/router.go and
// agent/api/handlers.go, with request-ID/error/recovery middleware
// adapted from orchestrator/api/middleware.go.
package httpapi

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentforge/runtime/internal/common/apperrors"
	"github.com/agentforge/runtime/internal/common/logger"
)

// RequestID stamps every request with a correlation ID, echoed back
// on the X-Request-ID response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// RequestLogger logs each completed request with its correlation ID.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request completed",
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.GetString("request_id")),
		)
	}
}

// ErrorHandler converts any apperrors.AppError attached via c.Error
// into the response body; anything else becomes a generic 500.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		var appErr *apperrors.AppError
		if stderrors.As(err, &appErr) {
			c.JSON(appErr.HTTPStatus, gin.H{
				"error": gin.H{"code": appErr.Code, "message": appErr.Message},
			})
			return
		}

		log.Error("unhandled request error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"code": apperrors.ErrCodeInternalError, "message": "internal server error"},
		})
	}
}

// Recovery recovers panics inside handlers so one bad request cannot
// take the server down.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{"code": apperrors.ErrCodeInternalError, "message": "internal server error"},
				})
			}
		}()
		c.Next()
	}
}

// CORS allows browser-based clients (the streaming demo UI, in
// particular) to call this API from another origin.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Request-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
