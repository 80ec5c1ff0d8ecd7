package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pledgehub/pledgehub/internal/models"
	"github.com/pledgehub/pledgehub/internal/services"
	"github.com/pledgehub/pledgehub/internal/utils"
	"gorm.io/gorm"
)

type CreateCommentRequest struct {
	Content string `json:"content" binding:"required,min=1,max=2000"`
}

type CommentResponse struct {
	ID         uint      `json:"id"`
	ProjectID  uint      `json:"projectId"`
	AuthorID   uint      `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toCommentResponse(c models.Comment) CommentResponse {
	return CommentResponse{
		ID:         c.ID,
		ProjectID:  c.ProjectID,
		AuthorID:   c.AuthorID,
		AuthorName: c.Author.Name,
		Content:    c.Content,
		CreatedAt:  c.CreatedAt,
	}
}

func (h *Handler) ListComments(ctx *gin.Context) {
	projectID, err := utils.GetProjectID(ctx)

	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	if _, err := h.publicProject(ctx, projectID); err != nil {
		respondError(ctx, err)
		return
	}

	page, pageSize := utils.GetPagination(ctx)
	tx := h.db.WithContext(ctx.Request.Context())

	var total int64

	if err := tx.Model(&models.Comment{}).Where("project_id = ?", projectID).Count(&total).Error; err != nil {
		respondError(ctx, err)
		return
	}

	var comments []models.Comment

	err = tx.Preload("Author").
		Where("project_id = ?", projectID).
		Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&comments).Error

	if err != nil {
		respondError(ctx, err)
		return
	}

	response := PageResponse[CommentResponse]{Page: page, PageSize: pageSize, Total: total, Items: make([]CommentResponse, 0, len(comments))}

	for _, comment := range comments {
		response.Items = append(response.Items, toCommentResponse(comment))
	}

	ctx.JSON(http.StatusOK, response)
}

func (h *Handler) CreateComment(ctx *gin.Context) {
	var body CreateCommentRequest

	if !bindJSON(ctx, &body) {
		return
	}

	user, err := utils.GetCurrentUser(ctx)

	if err != nil {
		ctx.JSON(http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
		return
	}

	projectID, err := utils.GetProjectID(ctx)

	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	project, err := h.findProject(ctx, projectID)

	if err != nil {
		respondError(ctx, err)
		return
	}

	if project.Status == models.ProjectStatusDraft && project.OwnerID != user.ID {
		respondError(ctx, services.ErrNotFound)
		return
	}

	comment := models.Comment{
		ProjectID: project.ID,
		AuthorID:  user.ID,
		Content:   body.Content,
	}

	if err := h.db.WithContext(ctx.Request.Context()).Create(&comment).Error; err != nil {
		respondError(ctx, err)
		return
	}

	comment.Author = models.User{Name: user.Name}

	ctx.JSON(http.StatusCreated, toCommentResponse(comment))
}

// DeleteComment lets the author or the project owner remove a comment.
func (h *Handler) DeleteComment(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)

	if !ok {
		return
	}

	commentID, err := utils.GetCommentID(ctx)

	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	var comment models.Comment

	err = h.db.WithContext(ctx.Request.Context()).Preload("Project", func(db *gorm.DB) *gorm.DB {
		return db.Unscoped()
	}).First(&comment, commentID).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		respondError(ctx, services.ErrNotFound)
		return
	}

	if err != nil {
		respondError(ctx, err)
		return
	}

	if comment.AuthorID != userID && comment.Project.OwnerID != userID {
		respondError(ctx, services.ErrForbidden)
		return
	}

	if err := h.db.WithContext(ctx.Request.Context()).Delete(&comment).Error; err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Comment deleted successfully"})
}
