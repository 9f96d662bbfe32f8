package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestDialog_Fields(t *testing.T) {
	typ := reflect.TypeOf(Dialog{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "Platform", "index:idx_dialog_user")
	assertGormTag(t, typ, "ExternalUserID", "index:idx_dialog_user")
	assertGormTag(t, typ, "Status", "index")
	assertGormTag(t, typ, "AssignedAdmin", "OnDelete:SET NULL")
	assertGormTag(t, typ, "LockedByAdmin", "OnDelete:SET NULL")
	assertGormTag(t, typ, "Messages", "OnDelete:CASCADE")

	assertFieldType(t, typ, "Status", "models.DialogStatus")
	assertFieldType(t, typ, "AssignedAdminID", "*uint")
	assertFieldType(t, typ, "LockedByAdminID", "*uint")
	assertFieldType(t, typ, "LockedUntil", "*time.Time")
	assertFieldType(t, typ, "LastMessageAt", "*time.Time")
}

func TestMessage_Fields(t *testing.T) {
	typ := reflect.TypeOf(Message{})

	assertGormTag(t, typ, "DialogID", "index:idx_message_dialog_created")
	assertGormTag(t, typ, "CreatedAt", "index:idx_message_dialog_created")
	assertGormTag(t, typ, "Content", "type:text")
	assertGormTag(t, typ, "UsedRAG", "column:used_rag")
	assertFieldType(t, typ, "Role", "models.Role")
	assertFieldType(t, typ, "Metadata", "datatypes.JSON")
}

func TestAdmin_Fields(t *testing.T) {
	typ := reflect.TypeOf(Admin{})

	assertGormTag(t, typ, "ExternalID", "uniqueIndex")
	assertGormTag(t, typ, "IsActive", "default:true")
}

func TestKnowledge_Fields(t *testing.T) {
	assertGormTag(t, reflect.TypeOf(KnowledgeFile{}), "Chunks", "OnDelete:CASCADE")
	assertGormTag(t, reflect.TypeOf(KnowledgeChunk{}), "FileID", "not null")
	assertFieldType(t, reflect.TypeOf(KnowledgeChunk{}), "Embedding", "datatypes.JSON")
}

func TestDialogStatus_Valid(t *testing.T) {
	for _, s := range []DialogStatus{StatusAuto, StatusWaitOperator, StatusWaitUser} {
		if !s.Valid() {
			t.Errorf("%q.Valid() = false, want true", s)
		}
	}
	for _, s := range []DialogStatus{"", "closed", "AUTO"} {
		if s.Valid() {
			t.Errorf("%q.Valid() = true, want false", s)
		}
	}
}

func TestDialog_LockHelpers(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var d Dialog

	if d.LockedByOther(1, now) {
		t.Error("unlocked dialog reported locked by other")
	}

	d.SetLock(1, now.Add(5*time.Minute))
	if !d.IsLocked || d.LockedByAdminID == nil || d.LockedUntil == nil {
		t.Fatalf("SetLock left incomplete lock: %+v", d)
	}
	if d.LockedByOther(1, now) {
		t.Error("holder reported as other")
	}
	if !d.LockedByOther(2, now) {
		t.Error("non-holder not reported as other")
	}
	if d.LockExpired(now) {
		t.Error("fresh lock reported expired")
	}

	later := now.Add(6 * time.Minute)
	if !d.LockExpired(later) {
		t.Error("lock not expired after deadline")
	}
	if d.LockedByOther(2, later) {
		t.Error("expired lock still blocks non-holder")
	}

	d.ClearLock()
	if d.IsLocked || d.LockedByAdminID != nil || d.LockedUntil != nil {
		t.Errorf("ClearLock left lock fields: %+v", d)
	}
}

func TestDialog_AssignedToOther(t *testing.T) {
	var d Dialog
	if d.AssignedToOther(1) {
		t.Error("unassigned dialog reported assigned to other")
	}
	id := uint(1)
	d.AssignedAdminID = &id
	if d.AssignedToOther(1) {
		t.Error("assignee reported as other")
	}
	if !d.AssignedToOther(2) {
		t.Error("other operator not detected")
	}
}

func TestNewMessage_Defaults(t *testing.T) {
	m := NewMessage(3, RoleUser, "hello")
	if m.DialogID != 3 || m.Role != RoleUser || m.Content != "hello" {
		t.Errorf("NewMessage = %+v", m)
	}
	if m.MessageType != "text" {
		t.Errorf("MessageType = %q, want text", m.MessageType)
	}
	if string(m.Attachments) != "[]" || string(m.Metadata) != "{}" {
		t.Errorf("JSON columns = %s / %s, want [] / {}", m.Attachments, m.Metadata)
	}
}

func TestMessage_Metadata(t *testing.T) {
	m := NewMessage(1, RoleAI, "reply")
	meta := MessageMetadata{ChunkIDs: []uint{4, 9}, Relevance: []float64{0.8, 0.4}}
	if err := m.SetMetadata(meta); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if !strings.Contains(string(m.Metadata), `"chunk_ids":[4,9]`) {
		t.Errorf("Metadata = %s, want chunk_ids [4,9]", m.Metadata)
	}
	got, err := m.DecodeMetadata()
	if err != nil {
		t.Fatalf("DecodeMetadata: %v", err)
	}
	if len(got.ChunkIDs) != 2 || got.Relevance[1] != 0.4 {
		t.Errorf("DecodeMetadata = %+v", got)
	}

	var empty Message
	if got, err := empty.DecodeMetadata(); err != nil || got.ChunkIDs != nil {
		t.Errorf("empty DecodeMetadata = %+v, %v", got, err)
	}
}

func TestKnowledgeChunk_Embedding(t *testing.T) {
	var c KnowledgeChunk
	if err := c.SetEmbedding(nil); err != nil {
		t.Fatalf("SetEmbedding(nil): %v", err)
	}
	if string(c.Embedding) != "null" {
		t.Errorf("Embedding = %s, want null", c.Embedding)
	}
	vec, err := c.Vector()
	if err != nil || vec != nil {
		t.Errorf("Vector() = %v, %v, want nil, nil", vec, err)
	}

	if err := c.SetEmbedding([]float64{0.5, -0.25}); err != nil {
		t.Fatalf("SetEmbedding: %v", err)
	}
	vec, err = c.Vector()
	if err != nil {
		t.Fatalf("Vector: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 || vec[1] != -0.25 {
		t.Errorf("Vector() = %v, want [0.5 -0.25]", vec)
	}
}

func TestValidationError(t *testing.T) {
	err := fmt.Errorf("dialog: send: %w", Invalid("content is empty"))
	if !IsValidation(err) {
		t.Error("IsValidation = false for wrapped ValidationError")
	}
	if IsValidation(ErrConflict) {
		t.Error("IsValidation = true for ErrConflict")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Reason != "content is empty" {
		t.Errorf("errors.As reason = %v", ve)
	}
}
