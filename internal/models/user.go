package models

import "gorm.io/gorm"

type User struct {
	gorm.Model

	ExternalID      string `gorm:"uniqueIndex;not null"` // Subject claim issued by the identity provider
	Email           string `gorm:"index"`
	Name            string
	StripeAccountID string `gorm:"index"` // Empty until the owner starts payout onboarding
	PayoutsEnabled  bool   `gorm:"not null;default:false"`

	// Relationships
	OwnedProjects []Project      `gorm:"foreignKey:OwnerID;constraint:OnUpdate:Cascade,OnDelete:CASCADE"`
	Contributions []Contribution `gorm:"foreignKey:ContributorID;constraint:OnUpdate:Cascade,OnDelete:SET NULL"`
	Comments      []Comment      `gorm:"foreignKey:AuthorID;constraint:OnUpdate:Cascade,OnDelete:CASCADE"`
}

// HasVerifiedPayouts reports whether the user can receive destination charges.
func (u User) HasVerifiedPayouts() bool {
	return u.StripeAccountID != "" && u.PayoutsEnabled
}
