package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pledgehub/pledgehub/internal/models"
	"github.com/pledgehub/pledgehub/internal/services"
	"github.com/pledgehub/pledgehub/internal/utils"
	"gorm.io/gorm"
)

type CreateProjectRequest struct {
	Title                string     `json:"title" binding:"required,max=200"`
	Description          string     `json:"description" binding:"max=10000"`
	GoalCents            int64      `json:"goalCents" binding:"required,gt=0"`
	CategoryID           *uint      `json:"categoryId"`
	Deadline             *time.Time `json:"deadline"`
	FundingType          string     `json:"fundingType" binding:"omitempty,oneof=ONE_TIME RECURRING"`
	MinContributionCents *int64     `json:"minContributionCents" binding:"omitempty,gt=0"`
	DiscordWebhook       string     `json:"discordWebhook" binding:"omitempty,url"`
	SlackWebhook         string     `json:"slackWebhook" binding:"omitempty,url"`
}

type UpdateProjectRequest struct {
	Title                *string    `json:"title" binding:"omitempty,min=1,max=200"`
	Description          *string    `json:"description" binding:"omitempty,max=10000"`
	GoalCents            *int64     `json:"goalCents" binding:"omitempty,gt=0"`
	CategoryID           *uint      `json:"categoryId"`
	Deadline             *time.Time `json:"deadline"`
	FundingType          *string    `json:"fundingType" binding:"omitempty,oneof=ONE_TIME RECURRING"`
	MinContributionCents *int64     `json:"minContributionCents" binding:"omitempty,gt=0"`
	DiscordWebhook       *string    `json:"discordWebhook" binding:"omitempty,url"`
	SlackWebhook         *string    `json:"slackWebhook" binding:"omitempty,url"`
}

type ProjectResponse struct {
	ID                   uint       `json:"id"`
	OwnerID              uint       `json:"ownerId"`
	CategoryID           *uint      `json:"categoryId,omitempty"`
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	GoalCents            int64      `json:"goalCents"`
	RaisedCents          int64      `json:"raisedCents"`
	SupporterCount       int64      `json:"supporterCount"`
	FundedPercent        string     `json:"fundedPercent"`
	Deadline             *time.Time `json:"deadline,omitempty"`
	Status               string     `json:"status"`
	FundingType          string     `json:"fundingType"`
	MinContributionCents *int64     `json:"minContributionCents,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
}

// OwnerProjectResponse adds the fields only an owner may see.
type OwnerProjectResponse struct {
	ProjectResponse
	DiscordWebhook string `json:"discordWebhook,omitempty"`
	SlackWebhook   string `json:"slackWebhook,omitempty"`
}

func toProjectResponse(p models.Project) ProjectResponse {
	return ProjectResponse{
		ID:                   p.ID,
		OwnerID:              p.OwnerID,
		CategoryID:           p.CategoryID,
		Title:                p.Title,
		Description:          p.Description,
		GoalCents:            p.GoalCents,
		RaisedCents:          p.RaisedCents,
		SupporterCount:       p.SupporterCount,
		FundedPercent:        services.FundedPercent(p.RaisedCents, p.GoalCents),
		Deadline:             p.Deadline,
		Status:               p.Status,
		FundingType:          p.FundingType,
		MinContributionCents: p.MinContributionCents,
		CreatedAt:            p.CreatedAt,
	}
}

func toOwnerProjectResponse(p models.Project) OwnerProjectResponse {
	return OwnerProjectResponse{
		ProjectResponse: toProjectResponse(p),
		DiscordWebhook:  p.DiscordWebhook,
		SlackWebhook:    p.SlackWebhook,
	}
}

func (h *Handler) findProject(ctx *gin.Context, projectID uint) (*models.Project, error) {
	var project models.Project

	err := h.db.WithContext(ctx.Request.Context()).First(&project, projectID).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("project %d: %w", projectID, services.ErrNotFound)
	}

	if err != nil {
		return nil, err
	}

	return &project, nil
}

// publicProject is findProject for the unauthenticated read routes, where
// drafts do not exist.
func (h *Handler) publicProject(ctx *gin.Context, projectID uint) (*models.Project, error) {
	project, err := h.findProject(ctx, projectID)

	if err != nil {
		return nil, err
	}

	if project.Status == models.ProjectStatusDraft {
		return nil, fmt.Errorf("project %d: %w", projectID, services.ErrNotFound)
	}

	return project, nil
}

// ownedProject loads the :project_id project and checks the caller owns it.
// It writes the error response itself and returns nil on failure.
func (h *Handler) ownedProject(ctx *gin.Context) *models.Project {
	userID, ok := currentUserID(ctx)

	if !ok {
		return nil
	}

	projectID, err := utils.GetProjectID(ctx)

	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return nil
	}

	project, err := h.findProject(ctx, projectID)

	if err != nil {
		respondError(ctx, err)
		return nil
	}

	if project.OwnerID != userID {
		respondError(ctx, services.ErrForbidden)
		return nil
	}

	return project
}

func (h *Handler) categoryExists(c context.Context, id *uint) (bool, error) {
	if id == nil {
		return true, nil
	}

	var count int64
	err := h.db.WithContext(c).Model(&models.Category{}).Where("id = ? AND active = ?", *id, true).Count(&count).Error

	return count > 0, err
}

func (h *Handler) CreateProject(ctx *gin.Context) {
	var body CreateProjectRequest

	if !bindJSON(ctx, &body) {
		return
	}

	userID, ok := currentUserID(ctx)

	if !ok {
		return
	}

	if exists, err := h.categoryExists(ctx.Request.Context(), body.CategoryID); err != nil || !exists {
		if err != nil {
			respondError(ctx, err)
			return
		}
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Unknown category", Fields: []FieldError{{Field: "categoryId", Rule: "exists"}}})
		return
	}

	fundingType := body.FundingType
	if fundingType == "" {
		fundingType = models.FundingTypeOneTime
	}

	project := models.Project{
		OwnerID:              userID,
		CategoryID:           body.CategoryID,
		Title:                body.Title,
		Description:          body.Description,
		GoalCents:            body.GoalCents,
		Deadline:             body.Deadline,
		Status:               models.ProjectStatusDraft,
		FundingType:          fundingType,
		MinContributionCents: body.MinContributionCents,
		DiscordWebhook:       body.DiscordWebhook,
		SlackWebhook:         body.SlackWebhook,
	}

	if err := h.db.WithContext(ctx.Request.Context()).Create(&project).Error; err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, toOwnerProjectResponse(project))
}

// ListProjects returns published projects, newest first, optionally filtered by ?category=.
func (h *Handler) ListProjects(ctx *gin.Context) {
	page, pageSize := utils.GetPagination(ctx)

	query := h.db.WithContext(ctx.Request.Context()).
		Model(&models.Project{}).
		Where("status = ?", models.ProjectStatusPublished)

	if raw := ctx.Query("category"); raw != "" {
		categoryID, err := strconv.ParseUint(raw, 10, 32)

		if err != nil {
			ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid category"})
			return
		}

		query = query.Where("category_id = ?", categoryID)
	}

	var total int64

	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		respondError(ctx, err)
		return
	}

	var projects []models.Project

	err := query.Session(&gorm.Session{}).
		Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&projects).Error

	if err != nil {
		respondError(ctx, err)
		return
	}

	response := PageResponse[ProjectResponse]{Page: page, PageSize: pageSize, Total: total, Items: make([]ProjectResponse, 0, len(projects))}

	for _, project := range projects {
		response.Items = append(response.Items, toProjectResponse(project))
	}

	ctx.JSON(http.StatusOK, response)
}

// GetProject shows a published or archived project. Drafts are only visible
// to their owner through /api/me/projects.
func (h *Handler) GetProject(ctx *gin.Context) {
	projectID, err := utils.GetProjectID(ctx)

	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	project, err := h.publicProject(ctx, projectID)

	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, toProjectResponse(*project))
}

func (h *Handler) UpdateProject(ctx *gin.Context) {
	var body UpdateProjectRequest

	if !bindJSON(ctx, &body) {
		return
	}

	project := h.ownedProject(ctx)

	if project == nil {
		return
	}

	if project.Status == models.ProjectStatusArchived {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Archived projects cannot be edited"})
		return
	}

	if exists, err := h.categoryExists(ctx.Request.Context(), body.CategoryID); err != nil || !exists {
		if err != nil {
			respondError(ctx, err)
			return
		}
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Unknown category", Fields: []FieldError{{Field: "categoryId", Rule: "exists"}}})
		return
	}

	updates := map[string]interface{}{}

	if body.Title != nil {
		updates["title"] = *body.Title
	}
	if body.Description != nil {
		updates["description"] = *body.Description
	}
	if body.GoalCents != nil {
		updates["goal_cents"] = *body.GoalCents
	}
	if body.CategoryID != nil {
		updates["category_id"] = *body.CategoryID
	}
	if body.Deadline != nil {
		updates["deadline"] = *body.Deadline
	}
	if body.MinContributionCents != nil {
		updates["min_contribution_cents"] = *body.MinContributionCents
	}
	if body.DiscordWebhook != nil {
		updates["discord_webhook"] = *body.DiscordWebhook
	}
	if body.SlackWebhook != nil {
		updates["slack_webhook"] = *body.SlackWebhook
	}
	if body.FundingType != nil {
		// Checkout mode follows the funding type, so it is fixed once contributions can arrive.
		if project.Status != models.ProjectStatusDraft && *body.FundingType != project.FundingType {
			ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Funding type can only change while the project is a draft"})
			return
		}
		updates["funding_type"] = *body.FundingType
	}

	if len(updates) > 0 {
		if err := h.db.WithContext(ctx.Request.Context()).Model(project).Updates(updates).Error; err != nil {
			respondError(ctx, err)
			return
		}
	}

	updated, err := h.findProject(ctx, project.ID)

	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, toOwnerProjectResponse(*updated))
}

// PublishProject opens a draft for contributions. The owner must have a
// verified payout account first.
func (h *Handler) PublishProject(ctx *gin.Context) {
	project := h.ownedProject(ctx)

	if project == nil {
		return
	}

	if project.Status != models.ProjectStatusDraft {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Only draft projects can be published"})
		return
	}

	var owner models.User

	if err := h.db.WithContext(ctx.Request.Context()).First(&owner, project.OwnerID).Error; err != nil {
		respondError(ctx, err)
		return
	}

	if !owner.HasVerifiedPayouts() {
		respondError(ctx, services.ErrPayoutsUnverified)
		return
	}

	if project.Deadline != nil && !project.Deadline.After(time.Now()) {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Deadline must be in the future", Fields: []FieldError{{Field: "deadline", Rule: "future"}}})
		return
	}

	h.setStatus(ctx, project, models.ProjectStatusDraft, models.ProjectStatusPublished)
}

func (h *Handler) ArchiveProject(ctx *gin.Context) {
	project := h.ownedProject(ctx)

	if project == nil {
		return
	}

	if project.Status == models.ProjectStatusArchived {
		ctx.JSON(http.StatusOK, toOwnerProjectResponse(*project))
		return
	}

	h.setStatus(ctx, project, project.Status, models.ProjectStatusArchived)
}

func (h *Handler) setStatus(ctx *gin.Context, project *models.Project, from, to string) {
	res := h.db.WithContext(ctx.Request.Context()).
		Model(&models.Project{}).
		Where("id = ? AND status = ?", project.ID, from).
		Update("status", to)

	if res.Error != nil {
		respondError(ctx, res.Error)
		return
	}

	if res.RowsAffected == 0 {
		ctx.JSON(http.StatusConflict, ErrorResponse{Error: "Project status changed, retry"})
		return
	}

	project.Status = to
	ctx.JSON(http.StatusOK, toOwnerProjectResponse(*project))
}

// DeleteProject soft-deletes; contributions and their totals are kept.
func (h *Handler) DeleteProject(ctx *gin.Context) {
	project := h.ownedProject(ctx)

	if project == nil {
		return
	}

	if err := h.db.WithContext(ctx.Request.Context()).Delete(project).Error; err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Project deleted successfully"})
}

func (h *Handler) GetProjectStats(ctx *gin.Context) {
	project := h.ownedProject(ctx)

	if project == nil {
		return
	}

	validation, err := h.stats.Validate(ctx.Request.Context(), project.ID)

	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, validation)
}

func (h *Handler) RecomputeProjectStats(ctx *gin.Context) {
	project := h.ownedProject(ctx)

	if project == nil {
		return
	}

	totals, err := h.stats.RecomputeProject(ctx.Request.Context(), project.ID)

	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, totals)
}

// ListMyProjects returns every live project the caller owns, drafts included.
func (h *Handler) ListMyProjects(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)

	if !ok {
		return
	}

	var projects []models.Project

	if err := h.db.WithContext(ctx.Request.Context()).Where("owner_id = ?", userID).Order("created_at DESC").Find(&projects).Error; err != nil {
		respondError(ctx, err)
		return
	}

	response := make([]OwnerProjectResponse, 0, len(projects))

	for _, project := range projects {
		response = append(response, toOwnerProjectResponse(project))
	}

	ctx.JSON(http.StatusOK, response)
}
