package utils

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/pledgehub/pledgehub/internal/middleware"
	"github.com/pledgehub/pledgehub/internal/types"
)

// ErrNoUser means the request did not pass through the auth middleware.
var ErrNoUser = errors.New("user not authenticated")

// GetCurrentUser returns the user middleware.Authenticator stored on ctx.
func GetCurrentUser(ctx *gin.Context) (middleware.AuthenticatedUser, error) {
	value, _ := ctx.Get(types.ContextUserKey)
	user, ok := value.(middleware.AuthenticatedUser)

	if !ok || user.ID == 0 {
		return middleware.AuthenticatedUser{}, ErrNoUser
	}

	return user, nil
}

func GetCurrentUserID(ctx *gin.Context) (uint, error) {
	user, err := GetCurrentUser(ctx)
	return user.ID, err
}

func GetRequestID(ctx *gin.Context) string {
	return ctx.GetString(types.ContextRequestIDKey)
}
