package middleware

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pledgehub/pledgehub/internal/auth"
	"github.com/pledgehub/pledgehub/internal/models"
	"github.com/pledgehub/pledgehub/internal/types"
	"gorm.io/gorm"
)

type AuthenticatedUser struct {
	ID         uint   `json:"id"`
	ExternalID string `json:"externalId"`
	Name       string `json:"name"`
	Email      string `json:"email"`
}

// Authenticator resolves identity provider tokens to local users, creating
// the user row on first sight.
type Authenticator struct {
	verifier   *auth.Verifier
	db         *gorm.DB
	cookieName string
}

func NewAuthenticator(verifier *auth.Verifier, db *gorm.DB, cookieName string) *Authenticator {
	if cookieName == "" {
		cookieName = "token"
	}

	return &Authenticator{verifier: verifier, db: db, cookieName: cookieName}
}

// Required aborts with 401 unless the request carries a valid token.
func (a *Authenticator) Required() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenString, err := a.extractToken(ctx)

		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		claims, err := a.verifier.Verify(tokenString)

		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		user, err := a.resolveUser(ctx, claims)

		if err != nil {
			log.Printf("auth: failed to resolve user %s: %v", claims.Subject, err)
			ctx.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
			return
		}

		ctx.Set(types.ContextUserKey, AuthenticatedUser{
			ID:         user.ID,
			ExternalID: user.ExternalID,
			Name:       user.Name,
			Email:      user.Email,
		})
		ctx.Next()
	}
}

// extractToken reads the bearer header, then the auth cookie, then the
// token query parameter. EventSource clients cannot set headers.
func (a *Authenticator) extractToken(ctx *gin.Context) (string, error) {
	if authHeader := ctx.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)

		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", errors.New("Authorization header format must be Bearer {token}")
		}

		return parts[1], nil
	}

	if cookie, err := ctx.Cookie(a.cookieName); err == nil && cookie != "" {
		return cookie, nil
	}

	if token := ctx.Query("token"); token != "" {
		return token, nil
	}

	return "", errors.New("Authorization token is required")
}

func (a *Authenticator) resolveUser(ctx *gin.Context, claims *auth.Claims) (*models.User, error) {
	tx := a.db.WithContext(ctx.Request.Context())

	var user models.User

	err := tx.Where(models.User{ExternalID: claims.Subject}).
		Attrs(models.User{Email: claims.Email, Name: claims.Name}).
		FirstOrCreate(&user).Error

	if err != nil {
		// A concurrent first request may have inserted the row.
		if retryErr := tx.Where("external_id = ?", claims.Subject).First(&user).Error; retryErr != nil {
			return nil, err
		}
	}

	updates := map[string]interface{}{}
	if claims.Email != "" && claims.Email != user.Email {
		updates["email"] = claims.Email
	}
	if claims.Name != "" && claims.Name != user.Name {
		updates["name"] = claims.Name
	}

	if len(updates) > 0 {
		if err := tx.Model(&user).Updates(updates).Error; err != nil {
			return nil, err
		}
	}

	return &user, nil
}
