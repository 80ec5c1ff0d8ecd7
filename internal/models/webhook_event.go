package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent journals verified gateway webhooks. ProviderEventID is the
// gateway's own event id, so redeliveries collapse onto one row.
type WebhookEvent struct {
	ID              uint           `gorm:"primaryKey"`
	Provider        string         `gorm:"not null;uniqueIndex:idx_webhook_provider_event,priority:1"`
	ProviderEventID string         `gorm:"not null;uniqueIndex:idx_webhook_provider_event,priority:2"`
	EventType       string         `gorm:"not null;index"`
	Payload         datatypes.JSON `gorm:"type:jsonb"`
	ProcessedAt     *time.Time
	ProcessingError string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
