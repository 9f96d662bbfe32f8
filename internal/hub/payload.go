package hub

import (
	"encoding/json"
	"time"

	"github.com/zulandar/switchboard/internal/models"
)

// Event names.
const (
	EventMessageCreated        = "message.created"
	EventDialogUpdated         = "dialog.updated"
	EventKnowledgeFileUploaded = "knowledge.file_uploaded"
	EventKnowledgeFileDeleted  = "knowledge.file_deleted"
	EventStatsSnapshot         = "stats.snapshot"
	EventOperatorCreated       = "operator.created"
	EventOperatorUpdated       = "operator.updated"
)

// MessagePayload is the wire form of a message.
type MessagePayload struct {
	ID          uint            `json:"id"`
	DialogID    uint            `json:"dialog_id"`
	Role        models.Role     `json:"role"`
	SenderID    string          `json:"sender_id"`
	SenderName  string          `json:"sender_name"`
	Content     string          `json:"content"`
	Attachments json.RawMessage `json:"attachments"`
	MessageType string          `json:"message_type"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewMessagePayload converts m to its wire form.
func NewMessagePayload(m *models.Message) MessagePayload {
	attachments := json.RawMessage(m.Attachments)
	if len(attachments) == 0 {
		attachments = json.RawMessage("[]")
	}
	return MessagePayload{
		ID:          m.ID,
		DialogID:    m.DialogID,
		Role:        m.Role,
		SenderID:    m.SenderID,
		SenderName:  m.SenderName,
		Content:     m.Content,
		Attachments: attachments,
		MessageType: m.MessageType,
		CreatedAt:   m.CreatedAt,
	}
}

// MessageCreatedEvent announces a persisted message.
type MessageCreatedEvent struct {
	Event    string         `json:"event"`
	DialogID uint           `json:"dialog_id"`
	Message  MessagePayload `json:"message"`
}

// MessageCreated builds the message.created event for m.
func MessageCreated(m *models.Message) MessageCreatedEvent {
	return MessageCreatedEvent{Event: EventMessageCreated, DialogID: m.DialogID, Message: NewMessagePayload(m)}
}

// DialogUpdatedEvent announces a change to a dialog's state.
type DialogUpdatedEvent struct {
	Event               string              `json:"event"`
	DialogID            uint                `json:"dialog_id"`
	Status              models.DialogStatus `json:"status"`
	AssignedAdminID     *uint               `json:"assigned_admin_id"`
	UnreadMessagesCount int                 `json:"unread_messages_count"`
	LockedByAdminID     *uint               `json:"locked_by_admin_id"`
	IsLocked            bool                `json:"is_locked"`
	LockedUntil         *time.Time          `json:"locked_until"`
	LastMessageAt       *time.Time          `json:"last_message_at"`
}

// DialogUpdated builds the dialog.updated event for d.
func DialogUpdated(d *models.Dialog) DialogUpdatedEvent {
	return DialogUpdatedEvent{
		Event:               EventDialogUpdated,
		DialogID:            d.ID,
		Status:              d.Status,
		AssignedAdminID:     d.AssignedAdminID,
		UnreadMessagesCount: d.UnreadMessagesCount,
		LockedByAdminID:     d.LockedByAdminID,
		IsLocked:            d.IsLocked,
		LockedUntil:         d.LockedUntil,
		LastMessageAt:       d.LastMessageAt,
	}
}

// KnowledgeFilePayload is the wire form of a knowledge file.
type KnowledgeFilePayload struct {
	ID               uint      `json:"id"`
	FilenameOriginal string    `json:"filename_original"`
	SizeBytes        int64     `json:"size_bytes"`
	TotalChunks      int       `json:"total_chunks"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewKnowledgeFilePayload converts f to its wire form.
func NewKnowledgeFilePayload(f *models.KnowledgeFile) KnowledgeFilePayload {
	return KnowledgeFilePayload{
		ID:               f.ID,
		FilenameOriginal: f.FilenameOriginal,
		SizeBytes:        f.SizeBytes,
		TotalChunks:      f.TotalChunks,
		CreatedAt:        f.CreatedAt,
	}
}

// KnowledgeFileEvent announces an uploaded or deleted knowledge file.
type KnowledgeFileEvent struct {
	Event string               `json:"event"`
	File  KnowledgeFilePayload `json:"file"`
}

// KnowledgeFileUploaded builds the knowledge.file_uploaded event for f.
func KnowledgeFileUploaded(f *models.KnowledgeFile) KnowledgeFileEvent {
	return KnowledgeFileEvent{Event: EventKnowledgeFileUploaded, File: NewKnowledgeFilePayload(f)}
}

// KnowledgeFileDeleted builds the knowledge.file_deleted event for f.
func KnowledgeFileDeleted(f *models.KnowledgeFile) KnowledgeFileEvent {
	return KnowledgeFileEvent{Event: EventKnowledgeFileDeleted, File: NewKnowledgeFilePayload(f)}
}

// StatsSnapshotEvent carries a periodic statistics snapshot.
type StatsSnapshotEvent struct {
	Event string    `json:"event"`
	At    time.Time `json:"at"`
	Stats any       `json:"stats"`
}

// StatsSnapshot wraps stats in a stats.snapshot event.
func StatsSnapshot(at time.Time, stats any) StatsSnapshotEvent {
	return StatsSnapshotEvent{Event: EventStatsSnapshot, At: at, Stats: stats}
}

// OperatorPayload is the wire form of an operator account.
type OperatorPayload struct {
	ID           uint   `json:"id"`
	ExternalID   string `json:"external_id"`
	FullName     string `json:"full_name"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	IsSuperadmin bool   `json:"is_superadmin"`
	IsActive     bool   `json:"is_active"`
}

// NewOperatorPayload converts a to its wire form.
func NewOperatorPayload(a *models.Admin) OperatorPayload {
	return OperatorPayload{
		ID:           a.ID,
		ExternalID:   a.ExternalID,
		FullName:     a.FullName,
		Username:     a.Username,
		Email:        a.Email,
		IsSuperadmin: a.IsSuperadmin,
		IsActive:     a.IsActive,
	}
}

// OperatorEvent announces a created or changed operator account.
type OperatorEvent struct {
	Event    string          `json:"event"`
	Operator OperatorPayload `json:"operator"`
}

// OperatorCreated builds the operator.created event for a.
func OperatorCreated(a *models.Admin) OperatorEvent {
	return OperatorEvent{Event: EventOperatorCreated, Operator: NewOperatorPayload(a)}
}

// OperatorUpdated builds the operator.updated event for a.
func OperatorUpdated(a *models.Admin) OperatorEvent {
	return OperatorEvent{Event: EventOperatorUpdated, Operator: NewOperatorPayload(a)}
}
