package models

import "gorm.io/gorm"

const (
	SubscriptionActive   = "ACTIVE"
	SubscriptionCanceled = "CANCELED"
)

type Subscription struct {
	gorm.Model

	ProjectID            uint   `gorm:"not null;index"`
	ContributorID        *uint  `gorm:"index"`
	StripeSubscriptionID string `gorm:"uniqueIndex;not null"`
	AmountCents          int64  `gorm:"not null"`
	Currency             string `gorm:"not null"`
	Status               string `gorm:"not null"`

	// Relationships
	Project Project `gorm:"foreignKey:ProjectID;constraint:OnUpdate:Cascade,OnDelete:RESTRICT" json:"-"`
}
