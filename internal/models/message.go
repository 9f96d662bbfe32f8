package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAI    Role = "ai"
	RoleAdmin Role = "admin"
)

// Message is a single immutable entry in a dialog.
type Message struct {
	ID                        uint   `gorm:"primaryKey;autoIncrement"`
	DialogID                  uint   `gorm:"not null;index:idx_message_dialog_created,priority:1"`
	Role                      Role   `gorm:"size:8;not null"`
	SenderID                  string `gorm:"size:64"`
	SenderName                string `gorm:"size:255"`
	Content                   string `gorm:"type:text;not null"`
	Attachments               datatypes.JSON
	MessageType               string `gorm:"size:32;not null"`
	Metadata                  datatypes.JSON
	IsFallback                bool      `gorm:"not null"`
	UsedRAG                   bool      `gorm:"column:used_rag;not null"`
	AIReplyDuringOperatorWait bool      `gorm:"not null"`
	CreatedAt                 time.Time `gorm:"index:idx_message_dialog_created,priority:2"`
}

// MessageMetadata records which knowledge chunks grounded an AI reply.
type MessageMetadata struct {
	ChunkIDs  []uint    `json:"chunk_ids"`
	Relevance []float64 `json:"relevance"`
}

// NewMessage returns a text message with its JSON columns initialized.
func NewMessage(dialogID uint, role Role, content string) *Message {
	return &Message{
		DialogID:    dialogID,
		Role:        role,
		Content:     content,
		MessageType: "text",
		Attachments: datatypes.JSON("[]"),
		Metadata:    datatypes.JSON("{}"),
	}
}

// SetMetadata stores meta as the message's JSON metadata.
func (m *Message) SetMetadata(meta MessageMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	m.Metadata = datatypes.JSON(data)
	return nil
}

// DecodeMetadata parses the JSON metadata. An empty column decodes to the
// zero value.
func (m *Message) DecodeMetadata() (MessageMetadata, error) {
	var meta MessageMetadata
	if len(m.Metadata) == 0 {
		return meta, nil
	}
	err := json.Unmarshal(m.Metadata, &meta)
	return meta, err
}
