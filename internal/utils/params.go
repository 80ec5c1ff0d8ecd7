package utils

import (
	"errors"
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	// MaxPage keeps (page-1)*pageSize inside an int32 offset.
	MaxPage = math.MaxInt32 / MaxPageSize
)

func GetProjectID(ctx *gin.Context) (uint, error) {
	return getIDParam(ctx, "project_id", "Project")
}

func GetCommentID(ctx *gin.Context) (uint, error) {
	return getIDParam(ctx, "comment_id", "Comment")
}

func getIDParam(ctx *gin.Context, param, label string) (uint, error) {
	raw := ctx.Param(param)

	if raw == "" {
		return 0, errors.New(label + " ID not found")
	}

	id, err := strconv.ParseUint(raw, 10, 32)

	if err != nil || id == 0 {
		return 0, errors.New("Invalid " + label + " ID")
	}

	return uint(id), nil
}

// GetPagination reads ?page= and ?pageSize=, clamping both to sane bounds.
func GetPagination(ctx *gin.Context) (page, pageSize int) {
	page, err := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}

	pageSize, err = strconv.Atoi(ctx.DefaultQuery("pageSize", strconv.Itoa(DefaultPageSize)))
	if err != nil || pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	return page, pageSize
}
