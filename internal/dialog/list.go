package dialog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// Paging bounds for List.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// ListOpts filters and pages a dialog listing.
type ListOpts struct {
	Page            int
	PerPage         int
	Status          models.DialogStatus
	AssignedAdminID *uint
	Search          string
}

// Item is a listed dialog with its waiting time. WaitingTimeSeconds is nil
// for a dialog that has no messages yet.
type Item struct {
	Dialog             models.Dialog
	WaitingTimeSeconds *int64
}

// Page is one page of a dialog listing.
type Page struct {
	Items   []Item
	Total   int64
	Page    int
	PerPage int
	HasNext bool
}

// WaitingTime returns whole seconds since last, never negative, or nil when
// last is nil.
func WaitingTime(last *time.Time, now time.Time) *int64 {
	if last == nil {
		return nil
	}
	secs := int64(now.Sub(*last) / time.Second)
	if secs < 0 {
		secs = 0
	}
	return &secs
}

// List returns dialogs ordered by most recent activity. Expired locks are
// cleared first.
func (e *Engine) List(ctx context.Context, opts ListOpts) (*Page, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	switch {
	case opts.PerPage <= 0:
		opts.PerPage = DefaultPerPage
	case opts.PerPage > MaxPerPage:
		opts.PerPage = MaxPerPage
	}
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, models.Invalid(fmt.Sprintf("unknown status %q", opts.Status))
	}

	now := e.Now()
	page := &Page{Page: opts.Page, PerPage: opts.PerPage}
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := expireLocks(tx, now); err != nil {
			return err
		}

		q := tx.Model(&models.Dialog{})
		if opts.Status != "" {
			q = q.Where("status = ?", opts.Status)
		}
		if opts.AssignedAdminID != nil {
			q = q.Where("assigned_admin_id = ?", *opts.AssignedAdminID)
		}
		if term := strings.TrimSpace(opts.Search); term != "" {
			q = q.Where("EXISTS (SELECT 1 FROM messages WHERE messages.dialog_id = dialogs.id AND "+
				db.ContainsInsensitive(tx, "messages.content")+")", db.ContainsPattern(term))
		}
		q = q.Session(&gorm.Session{})

		if err := q.Count(&page.Total).Error; err != nil {
			return fmt.Errorf("dialog: count: %w", err)
		}
		var dialogs []models.Dialog
		if err := q.Preload("AssignedAdmin").
			Order("last_message_at DESC").Order("id DESC").
			Offset((opts.Page - 1) * opts.PerPage).Limit(opts.PerPage).
			Find(&dialogs).Error; err != nil {
			return fmt.Errorf("dialog: list: %w", err)
		}
		page.Items = make([]Item, len(dialogs))
		for i, d := range dialogs {
			page.Items[i] = Item{Dialog: d, WaitingTimeSeconds: WaitingTime(d.LastMessageAt, now)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	page.HasNext = int64(page.Page*page.PerPage) < page.Total
	return page, nil
}
