package models

import "time"

// AIInstruction is a versioned system prompt. Exactly one record is active
// after every update; older ones are kept for history.
type AIInstruction struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Text      string `gorm:"type:text;not null"`
	IsActive  bool   `gorm:"not null;index"`
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}
