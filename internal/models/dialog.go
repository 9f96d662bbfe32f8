package models

import "time"

// DialogStatus is the handoff state of a dialog.
type DialogStatus string

const (
	// StatusAuto means the AI responder answers inbound messages.
	StatusAuto DialogStatus = "auto"
	// StatusWaitOperator means the customer is waiting for a human.
	StatusWaitOperator DialogStatus = "wait_operator"
	// StatusWaitUser means an operator replied and the customer has not.
	StatusWaitUser DialogStatus = "wait_user"
)

// Valid reports whether s is one of the known statuses.
func (s DialogStatus) Valid() bool {
	switch s {
	case StatusAuto, StatusWaitOperator, StatusWaitUser:
		return true
	}
	return false
}

// Dialog is one conversation with one external customer.
type Dialog struct {
	ID                  uint         `gorm:"primaryKey;autoIncrement"`
	Platform            string       `gorm:"size:16;not null;index:idx_dialog_user,priority:1"`
	ExternalUserID      string       `gorm:"size:64;not null;index:idx_dialog_user,priority:2"`
	Status              DialogStatus `gorm:"size:16;not null;index"`
	AssignedAdminID     *uint        `gorm:"index"`
	AssignedAdmin       *Admin       `gorm:"foreignKey:AssignedAdminID;constraint:OnDelete:SET NULL"`
	IsLocked            bool         `gorm:"not null;index"`
	LockedByAdminID     *uint
	LockedByAdmin       *Admin `gorm:"foreignKey:LockedByAdminID;constraint:OnDelete:SET NULL"`
	LockedUntil         *time.Time
	LastMessageAt       *time.Time `gorm:"index"`
	UnreadMessagesCount int        `gorm:"not null"`
	Messages            []Message  `gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// LockExpired reports whether the dialog holds a lock whose deadline is
// before now.
func (d *Dialog) LockExpired(now time.Time) bool {
	return d.IsLocked && d.LockedUntil != nil && d.LockedUntil.Before(now)
}

// LockedByOther reports whether a live lock is held by someone other than
// adminID.
func (d *Dialog) LockedByOther(adminID uint, now time.Time) bool {
	if !d.IsLocked || d.LockExpired(now) {
		return false
	}
	return d.LockedByAdminID == nil || *d.LockedByAdminID != adminID
}

// AssignedToOther reports whether the dialog is assigned to an operator
// other than adminID.
func (d *Dialog) AssignedToOther(adminID uint) bool {
	return d.AssignedAdminID != nil && *d.AssignedAdminID != adminID
}

// ClearLock drops the lock fields in memory.
func (d *Dialog) ClearLock() {
	d.IsLocked = false
	d.LockedByAdminID = nil
	d.LockedUntil = nil
}

// SetLock gives the lock to adminID until the given deadline.
func (d *Dialog) SetLock(adminID uint, until time.Time) {
	id := adminID
	d.IsLocked = true
	d.LockedByAdminID = &id
	d.LockedUntil = &until
}
