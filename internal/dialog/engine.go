// Package dialog implements the dialog lifecycle: the handoff state machine
// between the AI responder and human operators, and the optimistic
// operator locks that keep two operators off the same conversation.
//
// Lock expiry is lazy. Every read, assign or send first clears an expired
// lock inside its own transaction; there is no background sweeper.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/switchboard/internal/audit"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultLockTimeout is how long an operator holds a dialog after acting on it.
const DefaultLockTimeout = 5 * time.Minute

// stateColumns are the dialog columns the engine mutates.
var stateColumns = []string{
	"status",
	"assigned_admin_id",
	"is_locked",
	"locked_by_admin_id",
	"locked_until",
	"last_message_at",
	"unread_messages_count",
}

// Outbound delivers operator replies to the customer's chat.
type Outbound interface {
	Deliver(ctx context.Context, chatID, text string) error
}

// Options configures an Engine.
type Options struct {
	DB          *gorm.DB
	Hub         *hub.Hub
	Outbound    Outbound
	LockTimeout time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
}

// Engine runs dialog operations.
type Engine struct {
	db          *gorm.DB
	hub         *hub.Hub
	outbound    Outbound
	lockTimeout time.Duration
	clock       func() time.Time
	logger      *slog.Logger
}

// NewEngine validates opts and returns an Engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("dialog: db is required")
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		db:          opts.DB,
		hub:         opts.Hub,
		outbound:    opts.Outbound,
		lockTimeout: opts.LockTimeout,
		clock:       opts.Now,
		logger:      opts.Logger,
	}, nil
}

// Now returns the engine clock in UTC.
func (e *Engine) Now() time.Time { return e.clock().UTC() }

// LockTimeout returns the configured lock duration.
func (e *Engine) LockTimeout() time.Duration { return e.lockTimeout }

// selectForUpdate loads a dialog row, taking a row lock where the dialect
// supports one.
func selectForUpdate(tx *gorm.DB, id uint) (*models.Dialog, error) {
	var d models.Dialog
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&d, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("dialog: %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("dialog: load %d: %w", id, err)
	}
	return &d, nil
}

func lockConflict(d *models.Dialog) error {
	var holder uint
	if d.LockedByAdminID != nil {
		holder = *d.LockedByAdminID
	}
	return fmt.Errorf("dialog: %d locked by admin %d: %w", d.ID, holder, models.ErrConflict)
}

// SaveState writes the mutable state columns of d.
func SaveState(tx *gorm.DB, d *models.Dialog) error {
	if err := tx.Model(d).Select(stateColumns).Updates(d).Error; err != nil {
		return fmt.Errorf("dialog: save %d: %w", d.ID, err)
	}
	return nil
}

// ExpireLock clears d's lock if it has run out, recording a system
// dialog_unlocked entry. It reports whether the lock was cleared.
func ExpireLock(tx *gorm.DB, d *models.Dialog, now time.Time) (bool, error) {
	if !d.LockExpired(now) {
		return false, nil
	}
	holder := d.LockedByAdminID
	d.ClearLock()
	if err := SaveState(tx, d); err != nil {
		return false, err
	}
	err := audit.Log(tx, nil, models.ActionDialogUnlocked, audit.Params{
		"dialog_id":          d.ID,
		"reason":             "expired",
		"locked_by_admin_id": holder,
	})
	return err == nil, err
}

// expireLocks runs ExpireLock over every locked dialog.
func expireLocks(tx *gorm.DB, now time.Time) (int, error) {
	var locked []models.Dialog
	if err := tx.Where("is_locked = ?", true).Find(&locked).Error; err != nil {
		return 0, fmt.Errorf("dialog: load locked: %w", err)
	}
	n := 0
	for i := range locked {
		cleared, err := ExpireLock(tx, &locked[i], now)
		if err != nil {
			return n, err
		}
		if cleared {
			n++
		}
	}
	return n, nil
}

// Get returns a dialog with its assigned admin and its messages in order.
func (e *Engine) Get(ctx context.Context, id uint) (*models.Dialog, error) {
	now := e.Now()
	var out models.Dialog
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := selectForUpdate(tx, id)
		if err != nil {
			return err
		}
		if _, err := ExpireLock(tx, d, now); err != nil {
			return err
		}
		return tx.Preload("AssignedAdmin").
			Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
			First(&out, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Assign gives the dialog and its lock to target, or to actor when target
// is nil. Only a superadmin may assign to someone else or override another
// operator's live lock.
func (e *Engine) Assign(ctx context.Context, actor *models.Admin, id uint, target *uint) (*models.Dialog, error) {
	if actor == nil {
		return nil, fmt.Errorf("dialog: assign: %w", models.ErrForbidden)
	}
	now := e.Now()
	var d *models.Dialog
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if d, err = selectForUpdate(tx, id); err != nil {
			return err
		}
		if _, err := ExpireLock(tx, d, now); err != nil {
			return err
		}
		if d.LockedByOther(actor.ID, now) && !actor.IsSuperadmin {
			return lockConflict(d)
		}

		targetID := actor.ID
		if target != nil {
			targetID = *target
		}
		if targetID != actor.ID && !actor.IsSuperadmin {
			return fmt.Errorf("dialog: only a superadmin may reassign: %w", models.ErrForbidden)
		}
		var assignee models.Admin
		err = tx.Where("id = ? AND is_active = ?", targetID, true).First(&assignee).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("dialog: admin %d: %w", targetID, models.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("dialog: load admin %d: %w", targetID, err)
		}

		d.AssignedAdminID = &assignee.ID
		d.SetLock(assignee.ID, now.Add(e.lockTimeout))
		if err := SaveState(tx, d); err != nil {
			return err
		}
		return audit.Log(tx, audit.Actor(actor), models.ActionDialogAssigned, audit.Params{
			"dialog_id":         d.ID,
			"assigned_admin_id": assignee.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("dialog: assigned", "dialog_id", d.ID, "admin_id", *d.AssignedAdminID, "actor_id", actor.ID)
	e.hub.Publish(hub.ChannelDialogs, hub.DialogUpdated(d))
	return d, nil
}

// SwitchAuto hands the dialog back to the AI, dropping the assignment and
// any lock regardless of who holds it.
func (e *Engine) SwitchAuto(ctx context.Context, actor *models.Admin, id uint) (*models.Dialog, error) {
	if actor == nil {
		return nil, fmt.Errorf("dialog: switch auto: %w", models.ErrForbidden)
	}
	var d *models.Dialog
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if d, err = selectForUpdate(tx, id); err != nil {
			return err
		}
		from := d.Status
		d.Status = models.StatusAuto
		d.AssignedAdminID = nil
		d.ClearLock()
		if err := SaveState(tx, d); err != nil {
			return err
		}

		who := audit.Actor(actor)
		if err := audit.Log(tx, who, models.ActionDialogSwitchedAuto, audit.Params{"dialog_id": d.ID}); err != nil {
			return err
		}
		if err := audit.Log(tx, who, models.ActionDialogUnlocked, audit.Params{"dialog_id": d.ID}); err != nil {
			return err
		}
		return audit.Log(tx, who, models.ActionDialogStatusChanged, audit.Params{
			"dialog_id": d.ID,
			"from":      from,
			"status":    d.Status,
		})
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("dialog: switched to auto", "dialog_id", d.ID, "actor_id", actor.ID)
	e.hub.Publish(hub.ChannelDialogs, hub.DialogUpdated(d))
	return d, nil
}

// SendOperatorMessage stores an operator reply, moves the dialog to
// wait_user and gives the sender the lock and the assignment. Delivery to
// the customer happens after commit and never fails the call.
func (e *Engine) SendOperatorMessage(ctx context.Context, actor *models.Admin, id uint, content string) (*models.Message, *models.Dialog, error) {
	if actor == nil {
		return nil, nil, fmt.Errorf("dialog: send: %w", models.ErrForbidden)
	}
	if strings.TrimSpace(content) == "" {
		return nil, nil, models.Invalid("message content is empty")
	}

	now := e.Now()
	var (
		d   *models.Dialog
		msg *models.Message
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if d, err = selectForUpdate(tx, id); err != nil {
			return err
		}
		if _, err := ExpireLock(tx, d, now); err != nil {
			return err
		}
		if d.LockedByOther(actor.ID, now) && !actor.IsSuperadmin {
			return lockConflict(d)
		}
		if d.AssignedToOther(actor.ID) && !actor.IsSuperadmin {
			return fmt.Errorf("dialog: %d assigned to admin %d: %w", id, *d.AssignedAdminID, models.ErrForbidden)
		}

		msg = models.NewMessage(d.ID, models.RoleAdmin, content)
		msg.SenderID = strconv.FormatUint(uint64(actor.ID), 10)
		msg.SenderName = actor.FullName
		msg.CreatedAt = now
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("dialog: create message: %w", err)
		}

		from := d.Status
		assignee := actor.ID
		d.AssignedAdminID = &assignee
		d.SetLock(actor.ID, now.Add(e.lockTimeout))
		d.Status = models.StatusWaitUser
		d.LastMessageAt = &now
		d.UnreadMessagesCount = 0
		if err := SaveState(tx, d); err != nil {
			return err
		}

		who := audit.Actor(actor)
		if err := audit.Log(tx, who, models.ActionAdminMessageSent, audit.Params{
			"dialog_id":  d.ID,
			"message_id": msg.ID,
		}); err != nil {
			return err
		}
		return audit.Log(tx, who, models.ActionDialogStatusChanged, audit.Params{
			"dialog_id": d.ID,
			"from":      from,
			"status":    d.Status,
		})
	})
	if err != nil {
		return nil, nil, err
	}

	e.deliver(ctx, d, msg.Content)
	e.hub.Publish(hub.ChannelMessages, hub.MessageCreated(msg))
	e.hub.Publish(hub.ChannelDialogs, hub.DialogUpdated(d))
	return msg, d, nil
}

// deliver sends text to the dialog's customer, logging any failure.
func (e *Engine) deliver(ctx context.Context, d *models.Dialog, text string) {
	if e.outbound == nil || d.ExternalUserID == "" {
		return
	}
	if err := e.outbound.Deliver(ctx, d.ExternalUserID, text); err != nil {
		e.logger.Warn("dialog: outbound delivery failed", "dialog_id", d.ID, "error", err)
	}
}

// FindOrCreate returns the customer's most recent dialog on platform, with
// an expired lock cleared, or creates a new one in auto. It runs inside the
// caller's transaction.
func (e *Engine) FindOrCreate(tx *gorm.DB, platform, externalUserID string) (*models.Dialog, bool, error) {
	var d models.Dialog
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("platform = ? AND external_user_id = ?", platform, externalUserID).
		Order("id DESC").First(&d).Error
	switch {
	case err == nil:
		if _, err := ExpireLock(tx, &d, e.Now()); err != nil {
			return nil, false, err
		}
		return &d, false, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		d = models.Dialog{Platform: platform, ExternalUserID: externalUserID, Status: models.StatusAuto}
		if err := tx.Create(&d).Error; err != nil {
			return nil, false, fmt.Errorf("dialog: create for %s/%s: %w", platform, externalUserID, err)
		}
		return &d, true, nil
	default:
		return nil, false, fmt.Errorf("dialog: find %s/%s: %w", platform, externalUserID, err)
	}
}
