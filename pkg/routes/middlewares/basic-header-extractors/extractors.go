package headerextractors

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jakehl/goid"
	"github.com/trustbroker/trustbroker/pkg/helpers"
)

func updateContextWithRequestID(ctx *gin.Context, headers http.Header) {
	reqID := headers.Get("x-request-id")
	if reqID == "" {
		reqID = fmt.Sprintf("req.%s", goid.NewV4UUID())
	}
	ctx.Set(helpers.CtxRequestID, reqID)
}

func updateContextWithSource(ctx *gin.Context, headers http.Header) {
	sourceHeader := headers.Get("x-request-source")
	if sourceHeader != "" {
		ctx.Set(helpers.CtxSource, sourceHeader)
	}
}

func RequestMetadataToContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		updateContextWithRequestID(c, c.Request.Header)
		updateContextWithSource(c, c.Request.Header)
		c.Next()
	}
}
