package models

import "gorm.io/gorm"

type Comment struct {
	gorm.Model

	ProjectID uint   `gorm:"not null;index"`
	AuthorID  uint   `gorm:"not null;index"`
	Content   string `gorm:"not null"`

	// Relationships
	Project Project `gorm:"foreignKey:ProjectID;constraint:OnUpdate:Cascade,OnDelete:CASCADE" json:"-"`
	Author  User    `gorm:"foreignKey:AuthorID;constraint:OnUpdate:Cascade,OnDelete:CASCADE" json:"-"`
}
