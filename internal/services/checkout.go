package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pledgehub/pledgehub/internal/models"
	"github.com/pledgehub/pledgehub/internal/payments"
	"gorm.io/gorm"
)

type CheckoutInput struct {
	ProjectID        uint
	ContributorID    *uint
	ContributorEmail string
	AmountCents      int64
	SuccessURL       string
	CancelURL        string
}

type CheckoutResult struct {
	CheckoutURL    string `json:"checkoutUrl"`
	ContributionID uint   `json:"contributionId"`
}

// CheckoutService opens hosted checkout sessions for contributions.
type CheckoutService struct {
	db       *gorm.DB
	gateway  payments.Gateway
	currency string
	now      func() time.Time
}

func NewCheckoutService(db *gorm.DB, gateway payments.Gateway, currency string) *CheckoutService {
	if currency == "" {
		currency = "usd"
	}

	return &CheckoutService{db: db, gateway: gateway, currency: currency, now: time.Now}
}

func (s *CheckoutService) Initiate(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	if in.AmountCents <= 0 {
		return nil, fmt.Errorf("amount must be positive: %w", ErrInvalidInput)
	}

	var project models.Project
	err := s.db.WithContext(ctx).Preload("Owner").First(&project, in.ProjectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("project %d: %w", in.ProjectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load project %d: %w", in.ProjectID, err)
	}

	if project.Deadline != nil && !s.now().Before(*project.Deadline) {
		return nil, fmt.Errorf("project %d: %w", project.ID, ErrProjectClosed)
	}
	if !project.AcceptsContributions(s.now()) {
		return nil, fmt.Errorf("project %d: %w", project.ID, ErrProjectNotOpen)
	}
	if !project.Owner.HasVerifiedPayouts() {
		return nil, fmt.Errorf("project %d: %w", project.ID, ErrPayoutsUnverified)
	}
	if project.MinContributionCents != nil && in.AmountCents < *project.MinContributionCents {
		return nil, fmt.Errorf("minimum is %s: %w", FormatAmount(*project.MinContributionCents, s.currency), ErrBelowMinimum)
	}

	contribution := models.Contribution{
		ProjectID:     project.ID,
		ContributorID: in.ContributorID,
		AmountCents:   in.AmountCents,
		Currency:      s.currency,
		Status:        models.ContributionPending,
	}

	if err := s.db.WithContext(ctx).Create(&contribution).Error; err != nil {
		return nil, fmt.Errorf("create contribution: %w", err)
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutSessionRequest{
		ContributionID:  contribution.ID,
		ProjectID:       project.ID,
		ContributorID:   in.ContributorID,
		ProjectTitle:    project.Title,
		AmountCents:     in.AmountCents,
		Currency:        s.currency,
		Recurring:       project.FundingType == models.FundingTypeRecurring,
		DestinationAcct: project.Owner.StripeAccountID,
		SuccessURL:      in.SuccessURL,
		CancelURL:       in.CancelURL,
		CustomerEmail:   in.ContributorEmail,
	})
	if err != nil {
		return nil, s.checkoutFailed(ctx, &contribution, &project.Owner, err)
	}

	err = s.db.WithContext(ctx).
		Model(&contribution).
		Update("stripe_checkout_session_id", session.ID).Error
	if err != nil {
		return nil, fmt.Errorf("store session %s on contribution %d: %w", session.ID, contribution.ID, err)
	}

	log.Printf("checkout: contribution %d opened session %s for project %d", contribution.ID, session.ID, project.ID)

	return &CheckoutResult{CheckoutURL: session.URL, ContributionID: contribution.ID}, nil
}

func (s *CheckoutService) checkoutFailed(ctx context.Context, c *models.Contribution, owner *models.User, gatewayErr error) error {
	err := s.db.WithContext(ctx).
		Model(&models.Contribution{}).
		Where("id = ? AND status = ?", c.ID, models.ContributionPending).
		Update("status", models.ContributionFailed).Error
	if err != nil {
		log.Printf("checkout: could not mark contribution %d failed: %v", c.ID, err)
	}

	if errors.Is(gatewayErr, payments.ErrAccountInvalid) {
		if err := clearPayoutAccount(ctx, s.db, owner.ID); err != nil {
			log.Printf("checkout: could not clear payout account of user %d: %v", owner.ID, err)
		}
		return fmt.Errorf("%w: %v", ErrPayoutAccountInvalid, gatewayErr)
	}

	return fmt.Errorf("create checkout session for contribution %d: %w", c.ID, gatewayErr)
}
