// Package operator manages the admins who staff the operator console.
package operator

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/zulandar/switchboard/internal/audit"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// CreateInput describes a new operator.
type CreateInput struct {
	ExternalID   string `json:"external_id"`
	FullName     string `json:"full_name"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	IsSuperadmin bool   `json:"is_superadmin"`
}

// UpdateInput is a partial update; nil fields are left unchanged.
type UpdateInput struct {
	FullName     *string `json:"full_name"`
	Username     *string `json:"username"`
	Email        *string `json:"email"`
	IsSuperadmin *bool   `json:"is_superadmin"`
	IsActive     *bool   `json:"is_active"`
}

func requireSuperadmin(actor *models.Admin) error {
	if actor == nil || !actor.IsSuperadmin {
		return fmt.Errorf("operator: superadmin required: %w", models.ErrForbidden)
	}
	return nil
}

// List returns operators ordered by id. Inactive operators are included
// only when includeInactive is set.
func List(gdb *gorm.DB, includeInactive bool) ([]models.Admin, error) {
	q := gdb.Order("id")
	if !includeInactive {
		q = q.Where("is_active = ?", true)
	}
	var admins []models.Admin
	if err := q.Find(&admins).Error; err != nil {
		return nil, fmt.Errorf("operator: list: %w", err)
	}
	return admins, nil
}

// Create adds an active operator. A duplicate external id is a validation
// error.
func Create(gdb *gorm.DB, actor *models.Admin, in CreateInput) (*models.Admin, error) {
	if err := requireSuperadmin(actor); err != nil {
		return nil, err
	}
	in.ExternalID = strings.TrimSpace(in.ExternalID)
	in.FullName = strings.TrimSpace(in.FullName)
	if in.ExternalID == "" {
		return nil, models.Invalid("external_id is required")
	}
	if in.FullName == "" {
		return nil, models.Invalid("full_name is required")
	}

	admin := &models.Admin{
		ExternalID:   in.ExternalID,
		FullName:     in.FullName,
		Username:     strings.TrimSpace(in.Username),
		Email:        strings.TrimSpace(in.Email),
		IsSuperadmin: in.IsSuperadmin,
		IsActive:     true,
	}
	err := gdb.Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Admin{}).Where("external_id = ?", admin.ExternalID).Count(&n).Error; err != nil {
			return fmt.Errorf("operator: check external id: %w", err)
		}
		if n > 0 {
			return models.Invalid(fmt.Sprintf("admin with external_id %s already exists", admin.ExternalID))
		}
		if err := tx.Create(admin).Error; err != nil {
			return fmt.Errorf("operator: create: %w", err)
		}
		return audit.Log(tx, audit.Actor(actor), models.ActionAdminCreated, audit.Params{
			"admin_id":      admin.ID,
			"external_id":   admin.ExternalID,
			"is_superadmin": admin.IsSuperadmin,
		})
	})
	if err != nil {
		return nil, err
	}
	return admin, nil
}

// Update applies the non-nil fields of in to operator id.
func Update(gdb *gorm.DB, actor *models.Admin, id uint, in UpdateInput) (*models.Admin, error) {
	if err := requireSuperadmin(actor); err != nil {
		return nil, err
	}

	changes := map[string]any{}
	if in.FullName != nil {
		name := strings.TrimSpace(*in.FullName)
		if name == "" {
			return nil, models.Invalid("full_name cannot be empty")
		}
		changes["full_name"] = name
	}
	if in.Username != nil {
		changes["username"] = strings.TrimSpace(*in.Username)
	}
	if in.Email != nil {
		changes["email"] = strings.TrimSpace(*in.Email)
	}
	if in.IsSuperadmin != nil {
		changes["is_superadmin"] = *in.IsSuperadmin
	}
	if in.IsActive != nil {
		changes["is_active"] = *in.IsActive
	}

	var admin models.Admin
	err := gdb.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&admin, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("operator: admin %d: %w", id, models.ErrNotFound)
			}
			return fmt.Errorf("operator: load %d: %w", id, err)
		}
		if len(changes) == 0 {
			return nil
		}
		if err := tx.Model(&admin).Updates(changes).Error; err != nil {
			return fmt.Errorf("operator: update %d: %w", id, err)
		}
		fields := make([]string, 0, len(changes))
		for k := range changes {
			fields = append(fields, k)
		}
		sort.Strings(fields)
		if err := audit.Log(tx, audit.Actor(actor), models.ActionAdminUpdated, audit.Params{
			"admin_id": admin.ID,
			"fields":   fields,
		}); err != nil {
			return err
		}
		return tx.First(&admin, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &admin, nil
}

// Resolve returns the active operator with the given id.
func Resolve(gdb *gorm.DB, id uint) (*models.Admin, error) {
	var admin models.Admin
	err := gdb.Where("id = ? AND is_active = ?", id, true).First(&admin).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("operator: admin %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("operator: resolve %d: %w", id, err)
	}
	return &admin, nil
}

// Seed upserts the bootstrap operators from configuration and returns how
// many were applied.
func Seed(gdb *gorm.DB, seeds []config.AdminSeed) (int, error) {
	for i, s := range seeds {
		if strings.TrimSpace(s.ExternalID) == "" || strings.TrimSpace(s.FullName) == "" {
			return 0, models.Invalid(fmt.Sprintf("admins[%d]: external_id and full_name are required", i))
		}
	}
	if err := db.SeedAdmins(gdb, seeds); err != nil {
		return 0, err
	}
	return len(seeds), nil
}
