package api

import (
	"time"

	"github.com/zulandar/switchboard/internal/dialog"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/models"
)

type dialogView struct {
	ID                  uint                 `json:"id"`
	Platform            string               `json:"platform"`
	ExternalUserID      string               `json:"external_user_id"`
	Status              models.DialogStatus  `json:"status"`
	AssignedAdminID     *uint                `json:"assigned_admin_id"`
	AssignedAdmin       *hub.OperatorPayload `json:"assigned_admin,omitempty"`
	IsLocked            bool                 `json:"is_locked"`
	LockedByAdminID     *uint                `json:"locked_by_admin_id"`
	LockedUntil         *time.Time           `json:"locked_until"`
	LastMessageAt       *time.Time           `json:"last_message_at"`
	UnreadMessagesCount int                  `json:"unread_messages_count"`
	WaitingTimeSeconds  *int64               `json:"waiting_time_seconds"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

func newDialogView(d *models.Dialog, now time.Time) dialogView {
	v := dialogView{
		ID:                  d.ID,
		Platform:            d.Platform,
		ExternalUserID:      d.ExternalUserID,
		Status:              d.Status,
		AssignedAdminID:     d.AssignedAdminID,
		IsLocked:            d.IsLocked,
		LockedByAdminID:     d.LockedByAdminID,
		LockedUntil:         d.LockedUntil,
		LastMessageAt:       d.LastMessageAt,
		UnreadMessagesCount: d.UnreadMessagesCount,
		WaitingTimeSeconds:  dialog.WaitingTime(d.LastMessageAt, now),
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
	if d.AssignedAdmin != nil {
		p := hub.NewOperatorPayload(d.AssignedAdmin)
		v.AssignedAdmin = &p
	}
	return v
}

type dialogDetailView struct {
	dialogView
	Messages []messageView `json:"messages"`
}

type messageView struct {
	hub.MessagePayload
	IsFallback                bool `json:"is_fallback"`
	UsedRAG                   bool `json:"used_rag"`
	AIReplyDuringOperatorWait bool `json:"ai_reply_during_operator_wait"`
}

func newMessageView(m *models.Message) messageView {
	return messageView{
		MessagePayload:            hub.NewMessagePayload(m),
		IsFallback:                m.IsFallback,
		UsedRAG:                   m.UsedRAG,
		AIReplyDuringOperatorWait: m.AIReplyDuringOperatorWait,
	}
}

type fileView struct {
	hub.KnowledgeFilePayload
	MimeType string `json:"mime_type"`
}

func newFileView(f *models.KnowledgeFile) fileView {
	return fileView{KnowledgeFilePayload: hub.NewKnowledgeFilePayload(f), MimeType: f.MimeType}
}

type instructionView struct {
	ID        uint       `json:"id,omitempty"`
	Text      string     `json:"text"`
	IsDefault bool       `json:"is_default"`
	UpdatedAt *time.Time `json:"updated_at"`
}
