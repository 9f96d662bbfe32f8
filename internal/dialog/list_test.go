package dialog

import (
	"context"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/models"
)

func TestWaitingTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := WaitingTime(nil, now); got != nil {
		t.Errorf("WaitingTime(nil) = %d, want nil", *got)
	}
	past := now.Add(-90 * time.Second)
	if got := WaitingTime(&past, now); got == nil || *got != 90 {
		t.Errorf("WaitingTime(-90s) = %v, want 90", got)
	}
	future := now.Add(time.Minute)
	if got := WaitingTime(&future, now); got == nil || *got != 0 {
		t.Errorf("WaitingTime(future) = %v, want 0", got)
	}
}

func TestList_PagingAndOrder(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	for i := 0; i < 5; i++ {
		at := now.Add(-time.Duration(i) * time.Minute)
		d := &models.Dialog{Platform: "telegram", ExternalUserID: string(rune('a' + i)), Status: models.StatusAuto, LastMessageAt: &at}
		if err := f.db.Create(d).Error; err != nil {
			t.Fatalf("create dialog: %v", err)
		}
	}

	page, err := f.engine.List(context.Background(), ListOpts{Page: 1, PerPage: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 5 || len(page.Items) != 2 || !page.HasNext {
		t.Fatalf("page = total %d items %d next %v", page.Total, len(page.Items), page.HasNext)
	}
	if page.Items[0].Dialog.ExternalUserID != "a" || page.Items[1].Dialog.ExternalUserID != "b" {
		t.Errorf("order = %q, %q, want a, b", page.Items[0].Dialog.ExternalUserID, page.Items[1].Dialog.ExternalUserID)
	}
	if w := page.Items[1].WaitingTimeSeconds; w == nil || *w != 60 {
		t.Errorf("WaitingTimeSeconds = %v, want 60", w)
	}

	last, err := f.engine.List(context.Background(), ListOpts{Page: 3, PerPage: 2})
	if err != nil {
		t.Fatalf("List page 3: %v", err)
	}
	if len(last.Items) != 1 || last.HasNext {
		t.Errorf("last page = %d items, next %v", len(last.Items), last.HasNext)
	}
}

func TestList_ClampsPaging(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		in      ListOpts
		page    int
		perPage int
	}{
		{ListOpts{}, 1, DefaultPerPage},
		{ListOpts{Page: -3, PerPage: 500}, 1, MaxPerPage},
		{ListOpts{Page: 2, PerPage: 1}, 2, 1},
	}
	for _, tt := range tests {
		page, err := f.engine.List(context.Background(), tt.in)
		if err != nil {
			t.Fatalf("List(%+v): %v", tt.in, err)
		}
		if page.Page != tt.page || page.PerPage != tt.perPage {
			t.Errorf("List(%+v) = page %d per %d, want %d/%d", tt.in, page.Page, page.PerPage, tt.page, tt.perPage)
		}
	}
}

func TestList_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	waiting := f.newDialog(t, models.StatusWaitOperator)
	auto := &models.Dialog{Platform: "telegram", ExternalUserID: "6002", Status: models.StatusAuto}
	f.db.Create(auto)
	f.db.Create(models.NewMessage(auto.ID, models.RoleUser, "I want a REFUND please"))
	f.db.Create(models.NewMessage(waiting.ID, models.RoleUser, "where is my parcel"))

	if _, err := f.engine.Assign(ctx, f.op1, waiting.ID, nil); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	byStatus, err := f.engine.List(ctx, ListOpts{Status: models.StatusWaitOperator})
	if err != nil {
		t.Fatalf("List status: %v", err)
	}
	if byStatus.Total != 1 || byStatus.Items[0].Dialog.ID != waiting.ID {
		t.Errorf("status filter = %+v", byStatus)
	}

	byAdmin, err := f.engine.List(ctx, ListOpts{AssignedAdminID: &f.op1.ID})
	if err != nil {
		t.Fatalf("List admin: %v", err)
	}
	if byAdmin.Total != 1 || byAdmin.Items[0].Dialog.AssignedAdmin == nil {
		t.Errorf("admin filter = %+v", byAdmin)
	}

	bySearch, err := f.engine.List(ctx, ListOpts{Search: "refund"})
	if err != nil {
		t.Fatalf("List search: %v", err)
	}
	if bySearch.Total != 1 || bySearch.Items[0].Dialog.ID != auto.ID {
		t.Errorf("search filter = %+v", bySearch)
	}

	if _, err := f.engine.List(ctx, ListOpts{Status: "closed"}); !models.IsValidation(err) {
		t.Errorf("unknown status error = %v, want validation error", err)
	}
}

func TestList_SearchTreatsWildcardsLiterally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	under := &models.Dialog{Platform: "telegram", ExternalUserID: "7001", Status: models.StatusAuto}
	plain := &models.Dialog{Platform: "telegram", ExternalUserID: "7002", Status: models.StatusAuto}
	f.db.Create(under)
	f.db.Create(plain)
	f.db.Create(models.NewMessage(under.ID, models.RoleUser, "my order_id is 42"))
	f.db.Create(models.NewMessage(plain.ID, models.RoleUser, "my orderXid is 43"))

	tests := []struct {
		search string
		want   []uint
	}{
		{search: "order_id", want: []uint{under.ID}},
		{search: "_", want: []uint{under.ID}},
		{search: "%", want: nil},
		{search: "order", want: []uint{plain.ID, under.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.search, func(t *testing.T) {
			page, err := f.engine.List(ctx, ListOpts{Search: tt.search})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if int(page.Total) != len(tt.want) {
				t.Fatalf("Total = %d, want %d", page.Total, len(tt.want))
			}
			got := map[uint]bool{}
			for _, it := range page.Items {
				got[it.Dialog.ID] = true
			}
			for _, id := range tt.want {
				if !got[id] {
					t.Errorf("dialog %d missing from results", id)
				}
			}
		})
	}
}

func TestList_ClearsExpiredLocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.newDialog(t, models.StatusWaitOperator)
	b := &models.Dialog{Platform: "telegram", ExternalUserID: "6003", Status: models.StatusWaitOperator}
	f.db.Create(b)

	if _, err := f.engine.Assign(ctx, f.op1, a.ID, nil); err != nil {
		t.Fatalf("Assign a: %v", err)
	}
	f.clock.Advance(DefaultLockTimeout + time.Minute)
	if _, err := f.engine.Assign(ctx, f.op2, b.ID, nil); err != nil {
		t.Fatalf("Assign b: %v", err)
	}

	page, err := f.engine.List(ctx, ListOpts{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, item := range page.Items {
		assertLockInvariant(t, item.Dialog)
		switch item.Dialog.ID {
		case a.ID:
			if item.Dialog.IsLocked {
				t.Error("expired lock on a not cleared by List")
			}
		case b.ID:
			if !item.Dialog.IsLocked {
				t.Error("live lock on b cleared by List")
			}
		}
	}
	if n := auditCount(t, f.db, models.ActionDialogUnlocked); n != 1 {
		t.Errorf("dialog_unlocked entries = %d, want 1", n)
	}
}
