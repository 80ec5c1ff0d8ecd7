package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	ProjectStatusDraft     = "DRAFT"
	ProjectStatusPublished = "PUBLISHED"
	ProjectStatusArchived  = "ARCHIVED"

	FundingTypeOneTime   = "ONE_TIME"
	FundingTypeRecurring = "RECURRING"
)

type Project struct {
	gorm.Model

	OwnerID              uint   `gorm:"not null;index"`
	CategoryID           *uint  `gorm:"index"`
	Title                string `gorm:"not null"`
	Description          string
	GoalCents            int64 `gorm:"not null"`
	RaisedCents          int64 `gorm:"not null;default:0"` // Cached, see services.StatsAggregator
	SupporterCount       int64 `gorm:"not null;default:0"` // Cached, see services.StatsAggregator
	Deadline             *time.Time
	Status               string `gorm:"not null;default:'DRAFT';index"`
	FundingType          string `gorm:"not null;default:'ONE_TIME'"`
	MinContributionCents *int64
	DiscordWebhook       string
	SlackWebhook         string

	// Relationships
	Owner         User           `gorm:"foreignKey:OwnerID;constraint:OnUpdate:Cascade,OnDelete:CASCADE"`
	Category      *Category      `gorm:"foreignKey:CategoryID;constraint:OnUpdate:Cascade,OnDelete:SET NULL"`
	Contributions []Contribution `gorm:"foreignKey:ProjectID;constraint:OnUpdate:Cascade,OnDelete:RESTRICT"`
	Comments      []Comment      `gorm:"foreignKey:ProjectID;constraint:OnUpdate:Cascade,OnDelete:CASCADE"`
}

// AcceptsContributions reports whether checkout may be started at the given time.
func (p Project) AcceptsContributions(now time.Time) bool {
	if p.DeletedAt.Valid || p.Status != ProjectStatusPublished {
		return false
	}

	return p.Deadline == nil || now.Before(*p.Deadline)
}
