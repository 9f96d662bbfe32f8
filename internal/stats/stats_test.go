package stats

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gormDB, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	return gormDB
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, gormDB *gorm.DB) {
	t.Helper()
	admin := models.Admin{ExternalID: "1", FullName: "Op"}
	if err := gormDB.Create(&admin).Error; err != nil {
		t.Fatalf("create admin: %v", err)
	}

	dialogs := []models.Dialog{
		{Platform: "telegram", ExternalUserID: "1", Status: models.StatusAuto},
		{Platform: "telegram", ExternalUserID: "2", Status: models.StatusWaitOperator, UnreadMessagesCount: 3},
		{Platform: "telegram", ExternalUserID: "3", Status: models.StatusWaitOperator, UnreadMessagesCount: 1},
		{Platform: "telegram", ExternalUserID: "4", Status: models.StatusWaitUser},
	}
	dialogs[1].SetLock(admin.ID, now.Add(5*time.Minute))
	dialogs[2].SetLock(admin.ID, now.Add(-time.Minute))
	for i := range dialogs {
		if err := gormDB.Create(&dialogs[i]).Error; err != nil {
			t.Fatalf("create dialog: %v", err)
		}
	}

	msg := func(role models.Role, at time.Time, fallback, duringWait bool) {
		m := models.NewMessage(dialogs[0].ID, role, "text")
		m.CreatedAt = at
		m.IsFallback = fallback
		m.AIReplyDuringOperatorWait = duringWait
		if err := gormDB.Create(m).Error; err != nil {
			t.Fatalf("create message: %v", err)
		}
	}
	msg(models.RoleUser, now.Add(-time.Hour), false, false)
	msg(models.RoleUser, now.Add(-2*time.Hour), false, false)
	msg(models.RoleUser, now.Add(-48*time.Hour), false, false)
	msg(models.RoleAI, now.Add(-time.Hour), true, false)
	msg(models.RoleAI, now.Add(-time.Hour), false, true)
	msg(models.RoleAI, now.Add(-30*time.Hour), true, false)
	msg(models.RoleAdmin, now.Add(-time.Minute), false, false)

	file := models.KnowledgeFile{FilenameOriginal: "faq.txt", StoredPath: "/tmp/faq.txt", SizeBytes: 10, TotalChunks: 2}
	if err := gormDB.Create(&file).Error; err != nil {
		t.Fatalf("create file: %v", err)
	}
	for i := 0; i < 2; i++ {
		c := models.KnowledgeChunk{FileID: file.ID, ChunkIndex: i, Text: "chunk"}
		if err := c.SetEmbedding(nil); err != nil {
			t.Fatalf("SetEmbedding: %v", err)
		}
		if err := gormDB.Create(&c).Error; err != nil {
			t.Fatalf("create chunk: %v", err)
		}
	}
}

func TestOverview(t *testing.T) {
	gormDB := testDB(t)
	seed(t, gormDB)

	s, err := Overview(gormDB, now)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}

	want := DialogCounts{Total: 4, Auto: 1, WaitOperator: 2, WaitUser: 1}
	if s.Dialogs != want {
		t.Errorf("Dialogs = %+v, want %+v", s.Dialogs, want)
	}
	if s.UnreadTotal != 4 {
		t.Errorf("UnreadTotal = %d, want 4", s.UnreadTotal)
	}
	if s.Locked != 1 {
		t.Errorf("Locked = %d, want 1 (expired lock excluded)", s.Locked)
	}
	wantMsgs := MessageCounts{User: 2, AI: 2, Admin: 1}
	if s.Messages24h != wantMsgs {
		t.Errorf("Messages24h = %+v, want %+v", s.Messages24h, wantMsgs)
	}
	if s.AIFallbackRatio != 0.5 {
		t.Errorf("AIFallbackRatio = %v, want 0.5", s.AIFallbackRatio)
	}
	if s.AIRepliesDuringWait != 1 {
		t.Errorf("AIRepliesDuringWait = %d, want 1", s.AIRepliesDuringWait)
	}
	if s.KnowledgeFiles != 1 || s.KnowledgeChunks != 2 {
		t.Errorf("knowledge = %d files / %d chunks, want 1 / 2", s.KnowledgeFiles, s.KnowledgeChunks)
	}
	if !s.GeneratedAt.Equal(now) {
		t.Errorf("GeneratedAt = %v, want %v", s.GeneratedAt, now)
	}
}

func TestOverview_Empty(t *testing.T) {
	s, err := Overview(testDB(t), now)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if s.Dialogs.Total != 0 || s.UnreadTotal != 0 || s.AIFallbackRatio != 0 {
		t.Errorf("empty Overview = %+v", s)
	}
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{expr: "*/5 * * * *"},
		{expr: "0 9 * * 1-5"},
		{expr: "* * * * * *", wantErr: true},
		{expr: "not a cron", wantErr: true},
		{expr: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := ParseSchedule(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseSchedule(%q) err = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestNewScheduler_Validation(t *testing.T) {
	if _, err := NewScheduler(SchedulerOpts{}); err == nil {
		t.Error("expected error without db")
	}
	if _, err := NewScheduler(SchedulerOpts{DB: testDB(t), Schedule: "bogus"}); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if _, err := NewScheduler(SchedulerOpts{DB: testDB(t)}); err != nil {
		t.Errorf("default schedule: %v", err)
	}
}

type recorder struct {
	mu  sync.Mutex
	got [][]byte
}

func (r *recorder) Send(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, payload)
	return nil
}

func TestScheduler_TickPublishesSnapshot(t *testing.T) {
	gormDB := testDB(t)
	seed(t, gormDB)
	h := hub.New(nil)
	rec := &recorder{}
	h.Subscribe(hub.ChannelSystem, rec)

	s, err := NewScheduler(SchedulerOpts{DB: gormDB, Hub: h, Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if n := s.Tick(); n != 1 {
		t.Fatalf("Tick delivered = %d, want 1", n)
	}

	var ev struct {
		Event string   `json:"event"`
		Stats Snapshot `json:"stats"`
	}
	if err := json.Unmarshal(rec.got[0], &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Event != hub.EventStatsSnapshot {
		t.Errorf("event = %q, want %q", ev.Event, hub.EventStatsSnapshot)
	}
	if ev.Stats.Dialogs.Total != 4 {
		t.Errorf("stats.dialogs.total = %d, want 4", ev.Stats.Dialogs.Total)
	}
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	s, err := NewScheduler(SchedulerOpts{DB: testDB(t)})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
