// Package handlers exposes the HTTP API over gin.
package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/pledgehub/pledgehub/internal/config"
	"github.com/pledgehub/pledgehub/internal/payments"
	"github.com/pledgehub/pledgehub/internal/realtime"
	"github.com/pledgehub/pledgehub/internal/services"
	"github.com/pledgehub/pledgehub/internal/store"
	"github.com/pledgehub/pledgehub/internal/utils"
	"gorm.io/gorm"
)

// Deps are the collaborators a Handler is wired with.
type Deps struct {
	Config     *config.Config
	DB         *gorm.DB
	Hub        *realtime.Hub
	Verifier   *payments.WebhookVerifier
	Reconciler *services.Reconciler
	Checkout   *services.CheckoutService
	Payouts    *services.PayoutService
	Stats      *services.StatsAggregator
}

type Handler struct {
	cfg           *config.Config
	db            *gorm.DB
	hub           *realtime.Hub
	verifier      *payments.WebhookVerifier
	reconciler    *services.Reconciler
	checkout      *services.CheckoutService
	payouts       *services.PayoutService
	stats         *services.StatsAggregator
	contributions *store.ContributionStore
}

func New(deps Deps) *Handler {
	return &Handler{
		cfg:           deps.Config,
		db:            deps.DB,
		hub:           deps.Hub,
		verifier:      deps.Verifier,
		reconciler:    deps.Reconciler,
		checkout:      deps.Checkout,
		payouts:       deps.Payouts,
		stats:         deps.Stats,
		contributions: store.NewContributionStore(deps.DB),
	}
}

type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

type ErrorResponse struct {
	Error  string       `json:"error"`
	Fields []FieldError `json:"fields,omitempty"`
}

type PageResponse[T any] struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
	Items    []T   `json:"items"`
}

// bindJSON binds the body into v, writing a 400 and returning false on failure.
func bindJSON(ctx *gin.Context, v interface{}) bool {
	if err := ctx.ShouldBindJSON(v); err != nil {
		respondValidation(ctx, err)
		return false
	}

	return true
}

func respondValidation(ctx *gin.Context, err error) {
	var verrs validator.ValidationErrors

	if !errors.As(err, &verrs) {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request"})
		return
	}

	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: jsonFieldName(fe), Rule: fe.Tag()})
	}

	ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Fields: fields})
}

// jsonFieldName lowercases the first rune of the struct field, which matches
// the camelCase json tags of the request types.
func jsonFieldName(fe validator.FieldError) string {
	name := fe.Field()
	if name == "" {
		return name
	}
	return strings.ToLower(name[:1]) + name[1:]
}

// respondError maps service errors onto HTTP statuses.
func respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrProjectNotOpen),
		errors.Is(err, services.ErrProjectClosed),
		errors.Is(err, services.ErrBelowMinimum),
		errors.Is(err, services.ErrPayoutsUnverified):
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: publicMessage(err)})
	case errors.Is(err, services.ErrForbidden):
		ctx.JSON(http.StatusForbidden, ErrorResponse{Error: "You do not have access to this resource"})
	case errors.Is(err, services.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		ctx.JSON(http.StatusNotFound, ErrorResponse{Error: "Resource not found"})
	case errors.Is(err, services.ErrPayoutAccountInvalid), errors.Is(err, payments.ErrAccountInvalid):
		ctx.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: services.ErrPayoutAccountInvalid.Error()})
	default:
		log.Printf("request %s failed: %v", utils.GetRequestID(ctx), err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
	}
}

// publicMessage strips internal wrapping down to the sentinel text.
func publicMessage(err error) string {
	for _, sentinel := range []error{
		services.ErrProjectNotOpen,
		services.ErrProjectClosed,
		services.ErrBelowMinimum,
		services.ErrPayoutsUnverified,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}

	return err.Error()
}

// currentUserID writes a 401 and returns false when no user is attached.
func currentUserID(ctx *gin.Context) (uint, bool) {
	userID, err := utils.GetCurrentUserID(ctx)

	if err != nil {
		ctx.JSON(http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
		return 0, false
	}

	return userID, true
}
