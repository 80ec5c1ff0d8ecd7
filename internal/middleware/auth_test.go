package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pledgehub/pledgehub/internal/auth"
	"github.com/pledgehub/pledgehub/internal/models"
	"github.com/pledgehub/pledgehub/internal/testutil"
	"github.com/pledgehub/pledgehub/internal/types"
)

func newAuthRouter(t *testing.T) (*gin.Engine, *auth.Verifier, *Authenticator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb := testutil.NewDB(t)
	verifier := auth.NewVerifier("test-secret", "")
	authenticator := NewAuthenticator(verifier, gdb, "token")

	router := gin.New()
	router.GET("/me", authenticator.Required(), func(ctx *gin.Context) {
		user := ctx.MustGet(types.ContextUserKey).(AuthenticatedUser)
		ctx.JSON(http.StatusOK, user)
	})

	return router, verifier, authenticator
}

func TestRequiredTokenSources(t *testing.T) {
	router, verifier, _ := newAuthRouter(t)
	token, _ := verifier.Issue("idp|ada", "ada@example.com", "Ada", time.Hour)

	requests := map[string]*http.Request{
		"header": func() *http.Request {
			r := httptest.NewRequest("GET", "/me", nil)
			r.Header.Set("Authorization", "Bearer "+token)
			return r
		}(),
		"cookie": func() *http.Request {
			r := httptest.NewRequest("GET", "/me", nil)
			r.AddCookie(&http.Cookie{Name: "token", Value: token})
			return r
		}(),
		"query": httptest.NewRequest("GET", "/me?token="+token, nil),
	}

	for name, req := range requests {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("Expected 200, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestRequiredRejects(t *testing.T) {
	router, _, _ := newAuthRouter(t)

	for name, header := range map[string]string{
		"missing":   "",
		"malformed": "Token abc",
		"invalid":   "Bearer abc",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("Expected 401, got %d", w.Code)
			}
		})
	}
}

func TestRequiredUpsertsUser(t *testing.T) {
	router, verifier, authenticator := newAuthRouter(t)

	send := func(name string) {
		token, _ := verifier.Issue("idp|ada", "ada@example.com", name, time.Hour)
		req := httptest.NewRequest("GET", "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
	}

	send("Ada")
	send("Ada Lovelace")

	var users []models.User
	authenticator.db.Find(&users)
	if len(users) != 1 {
		t.Fatalf("Expected one user, got %d", len(users))
	}
	if users[0].Name != "Ada Lovelace" {
		t.Errorf("Expected the name to be refreshed, got %q", users[0].Name)
	}
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(ctx *gin.Context) {
		ctx.String(http.StatusOK, ctx.GetString(types.ContextRequestIDKey))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Header().Get(types.RequestIDHeader) == "" || w.Body.String() != w.Header().Get(types.RequestIDHeader) {
		t.Errorf("Expected a generated request id, got header %q body %q", w.Header().Get(types.RequestIDHeader), w.Body.String())
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(types.RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get(types.RequestIDHeader); got != "abc-123" {
		t.Errorf("Expected the caller id to be kept, got %q", got)
	}
}
