package models

import (
	"time"

	"gorm.io/datatypes"
)

// Audit actions.
const (
	ActionDialogUnlocked       = "dialog_unlocked"
	ActionDialogAssigned       = "dialog_assigned"
	ActionDialogSwitchedAuto   = "dialog_switched_auto"
	ActionDialogStatusChanged  = "dialog_status_changed"
	ActionAdminMessageSent     = "admin_message_sent"
	ActionAIMessageSent        = "ai_message_sent"
	ActionUploadKnowledgeFile  = "upload_knowledge_file"
	ActionDeleteKnowledgeFile  = "delete_knowledge_file"
	ActionUpdateAIInstructions = "update_ai_instructions"
	ActionAdminCreated         = "admin_created"
	ActionAdminUpdated         = "admin_updated"
)

// AuditLog is an append-only record of a state-changing action. AdminID is
// nil for system actions such as lazy lock expiry.
type AuditLog struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	AdminID   *uint  `gorm:"index"`
	Action    string `gorm:"size:64;not null;index"`
	Params    datatypes.JSON
	CreatedAt time.Time `gorm:"index"`
}
