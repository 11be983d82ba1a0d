package middleware

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/uniapi/internal/gateway"
	"github.com/nulzo/uniapi/pkg/api"
	"go.uber.org/zap"
)

// ErrorHandler renders the last error attached by a handler in the OpenAI
// error envelope. Responses already on the wire are left alone.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		if c.Writer.Written() {
			logger.Debug("Error after response started", zap.Error(err))
			return
		}

		if errors.Is(err, gateway.ErrClientGone) || errors.Is(err, context.Canceled) {
			c.AbortWithStatus(gateway.StatusClientClosed)
			return
		}

		var apiErr *api.APIError
		if errors.As(err, &apiErr) {
			if apiErr.Log != nil {
				logger.Error("Request failed",
					zap.Int("status", apiErr.Status),
					zap.String("type", apiErr.Type),
					zap.Error(apiErr.Log),
				)
			}
			c.AbortWithStatusJSON(apiErr.Status, apiErr)
			return
		}

		logger.Error("Unhandled error", zap.Error(err))
		c.AbortWithStatusJSON(500, api.InternalError("An unexpected error occurred.", err))
	}
}
