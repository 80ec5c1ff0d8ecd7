package db

import (
	"errors"
	"fmt"

	"github.com/pledgehub/pledgehub/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var DefaultCategories = []string{
	"Art",
	"Community",
	"Education",
	"Film & Video",
	"Games",
	"Music",
	"Publishing",
	"Technology",
}

func ConnectDatabase(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("database DSN is empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// Models lists every table owned by the service, in dependency order.
func Models() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Category{},
		&models.Project{},
		&models.Contribution{},
		&models.Subscription{},
		&models.Comment{},
		&models.WebhookEvent{},
	}
}

func MigrateDatabase(db *gorm.DB) error {
	for _, model := range Models() {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}

	return nil
}

// SeedCategories inserts the default categories, leaving existing rows untouched.
func SeedCategories(db *gorm.DB) error {
	categories := make([]models.Category, 0, len(DefaultCategories))

	for _, name := range DefaultCategories {
		categories = append(categories, models.Category{Name: name, Active: true})
	}

	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&categories).Error
}
