package db

import (
	"fmt"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every gorm model in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&models.Admin{},
		&models.Dialog{},
		&models.Message{},
		&models.KnowledgeFile{},
		&models.KnowledgeChunk{},
		&models.AIInstruction{},
		&models.AuditLog{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedAdmins upserts bootstrap operators from configuration, keyed on
// external_id. Seeded operators are always active.
func SeedAdmins(db *gorm.DB, seeds []config.AdminSeed) error {
	for _, s := range seeds {
		admin := models.Admin{
			ExternalID:   s.ExternalID,
			FullName:     s.FullName,
			Username:     s.Username,
			Email:        s.Email,
			IsSuperadmin: s.Superadmin,
			IsActive:     true,
		}

		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"full_name", "username", "email", "is_superadmin", "is_active", "updated_at"}),
		}).Create(&admin)
		if result.Error != nil {
			return fmt.Errorf("db: seed admin %q: %w", s.ExternalID, result.Error)
		}
	}
	return nil
}
