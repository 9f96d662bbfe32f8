// Package audit appends AuditLog rows for state-changing actions.
package audit

import (
	"encoding/json"
	"fmt"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Params are the action-specific details stored with an entry.
type Params map[string]any

// Log appends an entry inside tx. adminID is nil for system actions.
func Log(tx *gorm.DB, adminID *uint, action string, params Params) error {
	if params == nil {
		params = Params{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("audit: marshal %s params: %w", action, err)
	}
	entry := models.AuditLog{
		AdminID: adminID,
		Action:  action,
		Params:  datatypes.JSON(data),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("audit: log %s: %w", action, err)
	}
	return nil
}

// Actor returns a pointer to the admin's ID, or nil for a nil admin.
func Actor(admin *models.Admin) *uint {
	if admin == nil {
		return nil
	}
	id := admin.ID
	return &id
}

// Recent returns the newest entries, optionally filtered by action.
func Recent(db *gorm.DB, action string, limit int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	q := db.Order("id DESC").Limit(limit)
	if action != "" {
		q = q.Where("action = ?", action)
	}
	var entries []models.AuditLog
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("audit: recent: %w", err)
	}
	return entries, nil
}
