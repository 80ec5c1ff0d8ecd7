package store

import (
	"context"
	"time"

	"github.com/pledgehub/pledgehub/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EventJournal struct {
	db *gorm.DB
}

func NewEventJournal(db *gorm.DB) *EventJournal {
	return &EventJournal{db: db}
}

// Record stores the event once per (provider, event id) and reports whether
// an earlier delivery was already processed to completion.
func (j *EventJournal) Record(ctx context.Context, provider, eventID, eventType string, payload []byte) (bool, error) {
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	event := models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       eventType,
		Payload:         datatypes.JSON(payload),
	}

	tx := j.db.WithContext(ctx)

	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&event).Error; err != nil {
		return false, err
	}

	var stored models.WebhookEvent
	if err := tx.Where("provider = ? AND provider_event_id = ?", provider, eventID).First(&stored).Error; err != nil {
		return false, err
	}

	return stored.ProcessedAt != nil, nil
}

// Finish marks the event as processed, or records why processing failed.
func (j *EventJournal) Finish(ctx context.Context, provider, eventID string, procErr error) error {
	updates := map[string]interface{}{}

	if procErr != nil {
		updates["processing_error"] = procErr.Error()
	} else {
		updates["processed_at"] = time.Now().UTC()
		updates["processing_error"] = ""
	}

	return j.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("provider = ? AND provider_event_id = ?", provider, eventID).
		Updates(updates).Error
}
