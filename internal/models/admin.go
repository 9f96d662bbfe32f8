package models

import "time"

// Admin is a human operator who can take over dialogs.
//
// IsActive carries a database default of true, so gorm omits a false value
// on Create. Deactivate with a follow-up update.
type Admin struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	ExternalID   string `gorm:"size:64;not null;uniqueIndex"`
	FullName     string `gorm:"size:255;not null"`
	Username     string `gorm:"size:255"`
	Email        string `gorm:"size:255"`
	IsSuperadmin bool   `gorm:"not null"`
	IsActive     bool   `gorm:"not null;default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
