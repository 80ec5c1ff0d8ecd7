package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pledgehub/pledgehub/internal/types"
)

// RequestID tags every request with an id, reusing a caller-supplied one.
func RequestID() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.GetHeader(types.RequestIDHeader)

		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}

		ctx.Set(types.ContextRequestIDKey, id)
		ctx.Header(types.RequestIDHeader, id)
		ctx.Next()
	}
}
