package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/pledgehub/pledgehub/internal/models"
	"github.com/pledgehub/pledgehub/internal/payments"
	"gorm.io/gorm"
)

type PayoutStatus struct {
	AccountID      string `json:"accountId"`
	PayoutsEnabled bool   `json:"payoutsEnabled"`
}

// PayoutService manages the connected accounts project owners are paid through.
type PayoutService struct {
	db      *gorm.DB
	gateway payments.Gateway
}

func NewPayoutService(db *gorm.DB, gateway payments.Gateway) *PayoutService {
	return &PayoutService{db: db, gateway: gateway}
}

// Onboard returns a hosted onboarding link, creating the user's connected
// account first when they have none.
func (s *PayoutService) Onboard(ctx context.Context, userID uint, returnURL, refreshURL string) (string, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return "", err
	}

	if user.StripeAccountID == "" {
		accountID, err := s.gateway.CreateConnectedAccount(ctx, user.Email)
		if err != nil {
			return "", fmt.Errorf("create connected account for user %d: %w", userID, err)
		}

		err = s.db.WithContext(ctx).
			Model(user).
			Updates(map[string]interface{}{"stripe_account_id": accountID, "payouts_enabled": false}).Error
		if err != nil {
			return "", fmt.Errorf("store account %s on user %d: %w", accountID, userID, err)
		}

		user.StripeAccountID = accountID
		log.Printf("payouts: created connected account %s for user %d", accountID, userID)
	}

	url, err := s.gateway.CreateOnboardingLink(ctx, user.StripeAccountID, refreshURL, returnURL)
	if errors.Is(err, payments.ErrAccountInvalid) {
		if clearErr := clearPayoutAccount(ctx, s.db, userID); clearErr != nil {
			log.Printf("payouts: could not clear payout account of user %d: %v", userID, clearErr)
		}
		return "", fmt.Errorf("%w: %v", ErrPayoutAccountInvalid, err)
	}
	if err != nil {
		return "", fmt.Errorf("create onboarding link for user %d: %w", userID, err)
	}

	return url, nil
}

// Refresh pulls the account's current state from Stripe.
func (s *PayoutService) Refresh(ctx context.Context, userID uint) (*PayoutStatus, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.StripeAccountID == "" {
		return &PayoutStatus{}, nil
	}

	status, err := s.gateway.GetAccountStatus(ctx, user.StripeAccountID)
	if errors.Is(err, payments.ErrAccountInvalid) {
		if clearErr := clearPayoutAccount(ctx, s.db, userID); clearErr != nil {
			log.Printf("payouts: could not clear payout account of user %d: %v", userID, clearErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrPayoutAccountInvalid, err)
	}
	if err != nil {
		return nil, fmt.Errorf("read account %s: %w", user.StripeAccountID, err)
	}

	if _, err := s.ApplyAccountStatus(ctx, user.StripeAccountID, status.Verified()); err != nil {
		return nil, err
	}

	return &PayoutStatus{AccountID: user.StripeAccountID, PayoutsEnabled: status.Verified()}, nil
}

// ApplyAccountStatus stores the verification flag of a connected account and
// reports whether any user owns it.
func (s *PayoutService) ApplyAccountStatus(ctx context.Context, accountID string, verified bool) (bool, error) {
	if accountID == "" {
		return false, nil
	}

	res := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("stripe_account_id = ?", accountID).
		Update("payouts_enabled", verified)
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}

func (s *PayoutService) loadUser(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User

	err := s.db.WithContext(ctx).First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// clearPayoutAccount forgets a connected account Stripe no longer accepts, so
// the owner is sent through onboarding again.
func clearPayoutAccount(ctx context.Context, db *gorm.DB, userID uint) error {
	return db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{"stripe_account_id": "", "payouts_enabled": false}).Error
}
