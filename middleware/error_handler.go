package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/pollq/common"
)

// ErrorHandler renders the last error attached to the context. Server-side
// failures are logged with their cause.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status := common.StatusOf(err)
		if status >= http.StatusInternalServerError {
			slog.Error("request failed",
				slog.String("method", c.Request.Method),
				slog.String("path", c.FullPath()),
				slog.String("error", err.Error()),
				slog.Any("cause", errors.Unwrap(err)),
			)
		}

		var apiErr common.APIError
		if errors.As(err, &apiErr) {
			response := gin.H{"error": apiErr.Message}
			if apiErr.Fields != nil {
				response["fields"] = apiErr.Fields
			}
			c.JSON(status, response)
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
