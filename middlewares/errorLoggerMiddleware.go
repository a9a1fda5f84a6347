package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/shopping_tracker/utils"
	"github.com/sirupsen/logrus"
)

// ErrorLoggerMiddleware logs only requests that recorded errors
func ErrorLoggerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			requestId, _ := utils.GetRequestIdFromContext(c.Request.Context())
			logger.WithFields(logrus.Fields{
				"module":    "middlewares",
				"path":      c.Request.URL.Path,
				"status":    c.Writer.Status(),
				"requestId": requestId,
			}).Error(c.Errors.String())
		}
	}
}
