package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/shopping_tracker/utils"
)

const (
	RequestIdHeader     = "x-request-id"
	CorrelationIdHeader = "x-correlation-id"
)

// RequestIdMiddleware generates an id once per request and attaches it to
// the context and the response. A caller supplied id is kept. The correlation
// id defaults to the request id.
func RequestIdMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIdHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		cid := c.GetHeader(CorrelationIdHeader)
		if cid == "" {
			cid = rid
		}
		c.Header(RequestIdHeader, rid)
		ctx := utils.SetRequestIdInContext(c.Request.Context(), rid)
		ctx = utils.SetCorrelationIdInContext(ctx, cid)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
