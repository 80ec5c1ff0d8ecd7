package utils

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newContext(target string, params gin.Params) *gin.Context {
	gin.SetMode(gin.TestMode)

	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	ctx.Request = httptest.NewRequest("GET", target, nil)
	ctx.Params = params

	return ctx
}

func TestGetPagination(t *testing.T) {
	tests := []struct {
		target   string
		page     int
		pageSize int
	}{
		{"/x", 1, DefaultPageSize},
		{"/x?page=3&pageSize=10", 3, 10},
		{"/x?page=0&pageSize=-4", 1, DefaultPageSize},
		{"/x?page=abc&pageSize=1000", 1, MaxPageSize},
		{"/x?page=9223372036854775807&pageSize=100", MaxPage, MaxPageSize},
	}

	for _, tt := range tests {
		page, pageSize := GetPagination(newContext(tt.target, nil))
		if page != tt.page || pageSize != tt.pageSize {
			t.Errorf("%s: expected %d/%d, got %d/%d", tt.target, tt.page, tt.pageSize, page, pageSize)
		}
	}
}

func TestGetProjectID(t *testing.T) {
	id, err := GetProjectID(newContext("/", gin.Params{{Key: "project_id", Value: "42"}}))
	if err != nil || id != 42 {
		t.Errorf("Expected 42, got %d (%v)", id, err)
	}

	for _, raw := range []string{"", "0", "-1", "abc"} {
		if _, err := GetProjectID(newContext("/", gin.Params{{Key: "project_id", Value: raw}})); err == nil {
			t.Errorf("Expected an error for %q", raw)
		}
	}
}
