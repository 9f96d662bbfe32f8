// Package instructions stores the versioned system prompt for the AI
// responder.
package instructions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/switchboard/internal/audit"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// DefaultText is used when no instruction record is active.
const DefaultText = "Ты — помощник службы поддержки. Отвечай вежливо и по делу."

// Current returns the active record with the latest updated_at, or nil when
// none exists.
func Current(db *gorm.DB) (*models.AIInstruction, error) {
	var ins models.AIInstruction
	err := db.Where("is_active = ?", true).Order("updated_at DESC, id DESC").First(&ins).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("instructions: current: %w", err)
	}
	return &ins, nil
}

// CurrentText returns the active instruction text, or DefaultText.
func CurrentText(db *gorm.DB) (string, error) {
	ins, err := Current(db)
	if err != nil {
		return "", err
	}
	if ins == nil {
		return DefaultText, nil
	}
	return ins.Text, nil
}

// Update deactivates every record and stores text as the new active one.
func Update(db *gorm.DB, actor *models.Admin, text string) (*models.AIInstruction, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, models.Invalid("instructions text is empty")
	}

	ins := &models.AIInstruction{Text: text, IsActive: true}
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.AIInstruction{}).Where("is_active = ?", true).
			Update("is_active", false).Error; err != nil {
			return fmt.Errorf("instructions: deactivate: %w", err)
		}
		if err := tx.Create(ins).Error; err != nil {
			return fmt.Errorf("instructions: create: %w", err)
		}
		return audit.Log(tx, audit.Actor(actor), models.ActionUpdateAIInstructions, audit.Params{
			"instruction_id": ins.ID,
			"length":         len([]rune(text)),
		})
	})
	if err != nil {
		return nil, err
	}
	return ins, nil
}

// History returns every record, newest first.
func History(db *gorm.DB, limit int) ([]models.AIInstruction, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []models.AIInstruction
	if err := db.Order("updated_at DESC, id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("instructions: history: %w", err)
	}
	return out, nil
}
