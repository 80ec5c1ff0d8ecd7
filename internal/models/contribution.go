package models

import "gorm.io/gorm"

const (
	ContributionPending   = "PENDING"
	ContributionSucceeded = "SUCCEEDED"
	ContributionFailed    = "FAILED"
	ContributionRefunded  = "REFUNDED"
)

// Contribution is a financial record and is never deleted, soft or otherwise.
type Contribution struct {
	gorm.Model

	ProjectID               uint    `gorm:"not null;index"`
	ContributorID           *uint   `gorm:"index"` // Nil for anonymous or externally created payments
	AmountCents             int64   `gorm:"not null"`
	Currency                string  `gorm:"not null;default:'usd'"`
	Status                  string  `gorm:"not null;index"`
	StripeCheckoutSessionID *string `gorm:"uniqueIndex"`
	StripePaymentIntentID   *string `gorm:"uniqueIndex"`

	// Relationships
	Project     Project `gorm:"foreignKey:ProjectID;constraint:OnUpdate:Cascade,OnDelete:RESTRICT" json:"-"`
	Contributor *User   `gorm:"foreignKey:ContributorID;constraint:OnUpdate:Cascade,OnDelete:SET NULL" json:"-"`
}

// transitionsFrom lists, per target status, the statuses a contribution may
// move out of. A contribution already in the target status is a refresh, not
// a transition.
var transitionsFrom = map[string][]string{
	ContributionSucceeded: {ContributionPending, ContributionFailed},
	ContributionFailed:    {ContributionPending},
	ContributionRefunded:  {ContributionPending, ContributionFailed, ContributionSucceeded},
}

// AllowedSources returns the statuses from which a move to target is a real
// state change. PENDING is never a valid target.
func AllowedSources(target string) []string {
	return transitionsFrom[target]
}

// AffectsTotals reports whether reaching status changes project aggregates.
func AffectsTotals(status string) bool {
	return status == ContributionSucceeded || status == ContributionRefunded
}
