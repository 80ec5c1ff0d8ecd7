package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/pledgehub/pledgehub/internal/models"
	"gorm.io/gorm"
)

type Totals struct {
	RaisedCents    int64 `json:"raisedCents"`
	SupporterCount int64 `json:"supporterCount"`
}

type Validation struct {
	ProjectID  uint   `json:"projectId"`
	Cached     Totals `json:"cached"`
	Actual     Totals `json:"actual"`
	Consistent bool   `json:"consistent"`
}

type BatchSummary struct {
	Recomputed int `json:"recomputed"`
	Failed     int `json:"failed"`
}

// StatsAggregator keeps Project.RaisedCents and Project.SupporterCount equal
// to the aggregate over the project's SUCCEEDED contributions.
type StatsAggregator struct {
	db        *gorm.DB
	batchSize int
}

func NewStatsAggregator(db *gorm.DB, batchSize int) *StatsAggregator {
	if batchSize <= 0 {
		batchSize = 50
	}

	return &StatsAggregator{db: db, batchSize: batchSize}
}

// Compute reads the authoritative totals without writing anything.
func (s *StatsAggregator) Compute(ctx context.Context, projectID uint) (Totals, error) {
	var totals Totals

	err := s.db.WithContext(ctx).
		Model(&models.Contribution{}).
		Select("COALESCE(SUM(amount_cents), 0) AS raised_cents, COUNT(DISTINCT contributor_id) AS supporter_count").
		Where("project_id = ? AND status = ?", projectID, models.ContributionSucceeded).
		Scan(&totals).Error

	return totals, err
}

// RecomputeProject writes fresh totals onto the project, soft-deleted or not.
func (s *StatsAggregator) RecomputeProject(ctx context.Context, projectID uint) (Totals, error) {
	totals, err := s.Compute(ctx, projectID)
	if err != nil {
		return totals, fmt.Errorf("compute totals for project %d: %w", projectID, err)
	}

	res := s.db.WithContext(ctx).
		Unscoped().
		Model(&models.Project{}).
		Where("id = ?", projectID).
		Updates(map[string]interface{}{
			"raised_cents":    totals.RaisedCents,
			"supporter_count": totals.SupporterCount,
		})
	if res.Error != nil {
		return totals, fmt.Errorf("store totals for project %d: %w", projectID, res.Error)
	}
	if res.RowsAffected == 0 {
		return totals, fmt.Errorf("project %d: %w", projectID, ErrNotFound)
	}

	return totals, nil
}

// RecomputeAll walks every live project in batches. A failing project is
// logged and counted; the walk carries on.
func (s *StatsAggregator) RecomputeAll(ctx context.Context) (BatchSummary, error) {
	var (
		summary BatchSummary
		batch   []models.Project
	)

	res := s.db.WithContext(ctx).
		Select("id").
		FindInBatches(&batch, s.batchSize, func(tx *gorm.DB, n int) error {
			for _, project := range batch {
				if err := ctx.Err(); err != nil {
					return err
				}

				if _, err := s.RecomputeProject(ctx, project.ID); err != nil {
					log.Printf("stats: recompute failed for project %d: %v", project.ID, err)
					summary.Failed++
					continue
				}

				summary.Recomputed++
			}
			return nil
		})

	if res.Error != nil {
		return summary, fmt.Errorf("recompute all projects: %w", res.Error)
	}

	log.Printf("stats: recomputed %d projects (%d failed)", summary.Recomputed, summary.Failed)
	return summary, nil
}

// Validate compares cached totals with a fresh computation.
func (s *StatsAggregator) Validate(ctx context.Context, projectID uint) (*Validation, error) {
	var project models.Project

	err := s.db.WithContext(ctx).Unscoped().First(&project, projectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("project %d: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	actual, err := s.Compute(ctx, projectID)
	if err != nil {
		return nil, err
	}

	cached := Totals{RaisedCents: project.RaisedCents, SupporterCount: project.SupporterCount}

	return &Validation{
		ProjectID:  projectID,
		Cached:     cached,
		Actual:     actual,
		Consistent: cached == actual,
	}, nil
}
