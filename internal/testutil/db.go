// Package testutil provides a throwaway database and fixtures for package tests.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/pledgehub/pledgehub/db"
	"github.com/pledgehub/pledgehub/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a migrated sqlite database in the test's temp dir.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")

	gdb, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	if err := db.MigrateDatabase(gdb); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return gdb
}

// CreateUser inserts a user with the given external id.
func CreateUser(t *testing.T, gdb *gorm.DB, externalID string) models.User {
	t.Helper()

	user := models.User{
		ExternalID: externalID,
		Email:      externalID + "@example.com",
		Name:       "User " + externalID,
	}

	if err := gdb.Create(&user).Error; err != nil {
		t.Fatalf("Failed to create user %s: %v", externalID, err)
	}

	return user
}

// CreateOwner inserts a user with a verified payout account.
func CreateOwner(t *testing.T, gdb *gorm.DB, externalID string) models.User {
	t.Helper()

	user := CreateUser(t, gdb, externalID)
	user.StripeAccountID = "acct_" + externalID
	user.PayoutsEnabled = true

	if err := gdb.Save(&user).Error; err != nil {
		t.Fatalf("Failed to verify payouts for %s: %v", externalID, err)
	}

	return user
}

// CreateProject inserts a published one-time project due in a week.
func CreateProject(t *testing.T, gdb *gorm.DB, owner models.User) models.Project {
	t.Helper()

	deadline := time.Now().Add(7 * 24 * time.Hour)
	project := models.Project{
		OwnerID:     owner.ID,
		Title:       "Community Garden",
		Description: "Raised beds for the neighbourhood",
		GoalCents:   100000,
		Deadline:    &deadline,
		Status:      models.ProjectStatusPublished,
		FundingType: models.FundingTypeOneTime,
	}

	if err := gdb.Create(&project).Error; err != nil {
		t.Fatalf("Failed to create project: %v", err)
	}

	return project
}

// CreateContribution inserts a contribution in the given status.
func CreateContribution(t *testing.T, gdb *gorm.DB, c models.Contribution) models.Contribution {
	t.Helper()

	if c.Currency == "" {
		c.Currency = "usd"
	}
	if c.Status == "" {
		c.Status = models.ContributionPending
	}

	if err := gdb.Create(&c).Error; err != nil {
		t.Fatalf("Failed to create contribution: %v", err)
	}

	return c
}

// ReloadProject reads the project back, including soft-deleted rows.
func ReloadProject(t *testing.T, gdb *gorm.DB, id uint) models.Project {
	t.Helper()

	var project models.Project
	if err := gdb.Unscoped().First(&project, id).Error; err != nil {
		t.Fatalf("Failed to reload project %d: %v", id, err)
	}

	return project
}

// ReloadContribution reads the contribution back.
func ReloadContribution(t *testing.T, gdb *gorm.DB, id uint) models.Contribution {
	t.Helper()

	var c models.Contribution
	if err := gdb.First(&c, id).Error; err != nil {
		t.Fatalf("Failed to reload contribution %d: %v", id, err)
	}

	return c
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
