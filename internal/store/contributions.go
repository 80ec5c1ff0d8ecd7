// Package store holds the persistence logic the reconciliation flow depends on.
//
// Contribution mutations are conditional UPDATE statements keyed by id and
// current status, so concurrent webhook deliveries converge without
// application-level locking.
package store

import (
	"context"
	"errors"

	"github.com/pledgehub/pledgehub/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CorrelationKeys are the identifiers a gateway event can carry back to us.
type CorrelationKeys struct {
	ContributionID  uint   // Our id, echoed through checkout metadata
	SessionID       string // Checkout session id
	PaymentIntentID string // Payment intent id
}

func (k CorrelationKeys) Empty() bool {
	return k.ContributionID == 0 && k.SessionID == "" && k.PaymentIntentID == ""
}

// ContributionLookup finds a single contribution by one key. Implementations
// return (nil, nil) when nothing matches.
type ContributionLookup interface {
	ByID(ctx context.Context, id uint) (*models.Contribution, error)
	BySessionID(ctx context.Context, sessionID string) (*models.Contribution, error)
	ByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Contribution, error)
}

// MatchCorrelation applies the matching policy: contribution id first, then
// checkout session id, then payment intent id. The first hit wins.
func MatchCorrelation(ctx context.Context, lookup ContributionLookup, keys CorrelationKeys) (*models.Contribution, error) {
	if keys.Empty() {
		return nil, nil
	}

	if keys.ContributionID != 0 {
		c, err := lookup.ByID(ctx, keys.ContributionID)
		if err != nil || c != nil {
			return c, err
		}
	}

	if keys.SessionID != "" {
		c, err := lookup.BySessionID(ctx, keys.SessionID)
		if err != nil || c != nil {
			return c, err
		}
	}

	if keys.PaymentIntentID != "" {
		return lookup.ByPaymentIntentID(ctx, keys.PaymentIntentID)
	}

	return nil, nil
}

// Settlement carries gateway-reported values to write alongside a status
// change. Zero fields are left untouched.
type Settlement struct {
	AmountCents     int64
	Currency        string
	SessionID       string
	PaymentIntentID string
}

func (s Settlement) columns() map[string]interface{} {
	cols := make(map[string]interface{})

	if s.AmountCents > 0 {
		cols["amount_cents"] = s.AmountCents
	}
	if s.Currency != "" {
		cols["currency"] = s.Currency
	}
	if s.SessionID != "" {
		cols["stripe_checkout_session_id"] = s.SessionID
	}
	if s.PaymentIntentID != "" {
		cols["stripe_payment_intent_id"] = s.PaymentIntentID
	}

	return cols
}

// TransitionResult describes what a Transition call did.
type TransitionResult struct {
	Changed bool // The status moved from an allowed source to the target
	InState bool // The row is in the target status after the call
}

type ContributionStore struct {
	db *gorm.DB
}

func NewContributionStore(db *gorm.DB) *ContributionStore {
	return &ContributionStore{db: db}
}

func (s *ContributionStore) ByID(ctx context.Context, id uint) (*models.Contribution, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *ContributionStore) BySessionID(ctx context.Context, sessionID string) (*models.Contribution, error) {
	return s.first(ctx, "stripe_checkout_session_id = ?", sessionID)
}

func (s *ContributionStore) ByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Contribution, error) {
	return s.first(ctx, "stripe_payment_intent_id = ?", paymentIntentID)
}

func (s *ContributionStore) FindByCorrelation(ctx context.Context, keys CorrelationKeys) (*models.Contribution, error) {
	return MatchCorrelation(ctx, s, keys)
}

func (s *ContributionStore) first(ctx context.Context, query string, arg interface{}) (*models.Contribution, error) {
	var c models.Contribution

	err := s.db.WithContext(ctx).Where(query, arg).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &c, nil
}

// Transition moves contribution id to target if its current status allows
// it. When the row is already in target the settlement values are refreshed
// without reporting a change, which keeps redelivered events idempotent.
func (s *ContributionStore) Transition(ctx context.Context, id uint, target string, settle Settlement) (TransitionResult, error) {
	var result TransitionResult

	sources := models.AllowedSources(target)
	if len(sources) == 0 {
		return result, errors.New("invalid target status " + target)
	}

	tx := s.db.WithContext(ctx)

	changes := settle.columns()
	changes["status"] = target

	res := tx.Model(&models.Contribution{}).
		Where("id = ? AND status IN ?", id, sources).
		Updates(changes)
	if res.Error != nil {
		return result, res.Error
	}

	if res.RowsAffected > 0 {
		result.Changed = true
		result.InState = true
		return result, nil
	}

	refresh := settle.columns()
	if len(refresh) == 0 {
		var count int64
		if err := tx.Model(&models.Contribution{}).Where("id = ? AND status = ?", id, target).Count(&count).Error; err != nil {
			return result, err
		}
		result.InState = count > 0
		return result, nil
	}

	res = tx.Model(&models.Contribution{}).
		Where("id = ? AND status = ?", id, target).
		Updates(refresh)
	if res.Error != nil {
		return result, res.Error
	}

	result.InState = res.RowsAffected > 0
	return result, nil
}

// CreateIfAbsent inserts c unless a row with the same unique session or
// payment intent id already exists. It reports whether a row was written.
func (s *ContributionStore) CreateIfAbsent(ctx context.Context, c *models.Contribution) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(c)
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}

// ListByProject returns one page of a project's contributions, newest first.
func (s *ContributionStore) ListByProject(ctx context.Context, projectID uint, page, pageSize int) ([]models.Contribution, int64, error) {
	var (
		items []models.Contribution
		total int64
	)

	tx := s.db.WithContext(ctx)

	if err := tx.Model(&models.Contribution{}).Where("project_id = ?", projectID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := tx.Where("project_id = ?", projectID).Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&items).Error
	if err != nil {
		return nil, 0, err
	}

	return items, total, nil
}
