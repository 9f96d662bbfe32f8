// Package stats summarizes dialog, message and knowledge activity for the
// operator dashboard.
package stats

import (
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// Window is the span covered by the recent-activity counters.
const Window = 24 * time.Hour

// DialogCounts breaks dialogs down by status.
type DialogCounts struct {
	Total        int64 `json:"total"`
	Auto         int64 `json:"auto"`
	WaitOperator int64 `json:"wait_operator"`
	WaitUser     int64 `json:"wait_user"`
}

// MessageCounts breaks recent messages down by role.
type MessageCounts struct {
	User  int64 `json:"user"`
	AI    int64 `json:"ai"`
	Admin int64 `json:"admin"`
}

// Snapshot is a point-in-time overview.
type Snapshot struct {
	GeneratedAt         time.Time     `json:"generated_at"`
	Dialogs             DialogCounts  `json:"dialogs"`
	UnreadTotal         int64         `json:"unread_total"`
	Locked              int64         `json:"locked"`
	Messages24h         MessageCounts `json:"messages_24h"`
	AIFallbackRatio     float64       `json:"ai_fallback_ratio"`
	AIRepliesDuringWait int64         `json:"ai_replies_during_wait"`
	KnowledgeFiles      int64         `json:"knowledge_files"`
	KnowledgeChunks     int64         `json:"knowledge_chunks"`
}

type groupCount struct {
	Name string
	N    int64
}

// Overview computes a Snapshot as of now.
func Overview(db *gorm.DB, now time.Time) (*Snapshot, error) {
	now = now.UTC()
	s := &Snapshot{GeneratedAt: now}

	var byStatus []groupCount
	if err := db.Model(&models.Dialog{}).
		Select("status AS name, COUNT(*) AS n").
		Group("status").
		Scan(&byStatus).Error; err != nil {
		return nil, fmt.Errorf("stats: dialogs by status: %w", err)
	}
	for _, g := range byStatus {
		s.Dialogs.Total += g.N
		switch models.DialogStatus(g.Name) {
		case models.StatusAuto:
			s.Dialogs.Auto = g.N
		case models.StatusWaitOperator:
			s.Dialogs.WaitOperator = g.N
		case models.StatusWaitUser:
			s.Dialogs.WaitUser = g.N
		}
	}

	if err := db.Model(&models.Dialog{}).
		Select("COALESCE(SUM(unread_messages_count), 0)").
		Scan(&s.UnreadTotal).Error; err != nil {
		return nil, fmt.Errorf("stats: unread: %w", err)
	}

	// Expired locks still on disk are not counted; they clear lazily.
	var locks []models.Dialog
	if err := db.Select("id", "is_locked", "locked_until").
		Where("is_locked = ?", true).
		Find(&locks).Error; err != nil {
		return nil, fmt.Errorf("stats: locks: %w", err)
	}
	for i := range locks {
		if !locks[i].LockExpired(now) {
			s.Locked++
		}
	}

	since := now.Add(-Window)
	var byRole []groupCount
	if err := db.Model(&models.Message{}).
		Select("role AS name, COUNT(*) AS n").
		Where("created_at >= ?", since).
		Group("role").
		Scan(&byRole).Error; err != nil {
		return nil, fmt.Errorf("stats: messages by role: %w", err)
	}
	for _, g := range byRole {
		switch models.Role(g.Name) {
		case models.RoleUser:
			s.Messages24h.User = g.N
		case models.RoleAI:
			s.Messages24h.AI = g.N
		case models.RoleAdmin:
			s.Messages24h.Admin = g.N
		}
	}

	if s.Messages24h.AI > 0 {
		var fallbacks int64
		if err := db.Model(&models.Message{}).
			Where("role = ? AND is_fallback = ? AND created_at >= ?", models.RoleAI, true, since).
			Count(&fallbacks).Error; err != nil {
			return nil, fmt.Errorf("stats: fallbacks: %w", err)
		}
		s.AIFallbackRatio = float64(fallbacks) / float64(s.Messages24h.AI)
	}

	if err := db.Model(&models.Message{}).
		Where("role = ? AND ai_reply_during_operator_wait = ? AND created_at >= ?", models.RoleAI, true, since).
		Count(&s.AIRepliesDuringWait).Error; err != nil {
		return nil, fmt.Errorf("stats: replies during wait: %w", err)
	}

	if err := db.Model(&models.KnowledgeFile{}).Count(&s.KnowledgeFiles).Error; err != nil {
		return nil, fmt.Errorf("stats: knowledge files: %w", err)
	}
	if err := db.Model(&models.KnowledgeChunk{}).Count(&s.KnowledgeChunks).Error; err != nil {
		return nil, fmt.Errorf("stats: knowledge chunks: %w", err)
	}
	return s, nil
}
