package hub

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/models"
)

type recorder struct {
	mu   sync.Mutex
	got  [][]byte
	fail bool
}

func (r *recorder) Send(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("closed")
	}
	r.got = append(r.got, payload)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestPublish_DeliversToChannelOnly(t *testing.T) {
	h := New(nil)
	dialogs := &recorder{}
	messages := &recorder{}
	h.Subscribe(ChannelDialogs, dialogs)
	h.Subscribe(ChannelMessages, messages)

	if n := h.Publish(ChannelDialogs, map[string]string{"event": "x"}); n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	if dialogs.count() != 1 {
		t.Errorf("dialogs got %d, want 1", dialogs.count())
	}
	if messages.count() != 0 {
		t.Errorf("messages got %d, want 0", messages.count())
	}
	if string(dialogs.got[0]) != `{"event":"x"}` {
		t.Errorf("payload = %s", dialogs.got[0])
	}
}

func TestPublish_DropsFailingSubscriber(t *testing.T) {
	h := New(nil)
	good := &recorder{}
	bad := &recorder{fail: true}
	h.Subscribe(ChannelSystem, good)
	h.Subscribe(ChannelSystem, bad)

	h.Publish(ChannelSystem, "ping")
	if got := h.Count(ChannelSystem); got != 1 {
		t.Errorf("Count = %d, want 1 after failure", got)
	}
	h.Publish(ChannelSystem, "ping")
	if good.count() != 2 {
		t.Errorf("good got %d, want 2", good.count())
	}
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	h := New(nil)
	r := &recorder{}
	unsubscribe := h.Subscribe(ChannelOperators, r)
	if h.Count(ChannelOperators) != 1 {
		t.Fatalf("Count = %d, want 1", h.Count(ChannelOperators))
	}
	unsubscribe()
	unsubscribe()
	if h.Count(ChannelOperators) != 0 {
		t.Errorf("Count = %d, want 0", h.Count(ChannelOperators))
	}
	if n := h.Publish(ChannelOperators, "x"); n != 0 {
		t.Errorf("delivered = %d after unsubscribe", n)
	}
}

func TestPublish_NilHub(t *testing.T) {
	var h *Hub
	if n := h.Publish(ChannelDialogs, "x"); n != 0 {
		t.Errorf("nil hub delivered %d", n)
	}
}

func TestPublish_Concurrent(t *testing.T) {
	h := New(nil)
	r := &recorder{}
	h.Subscribe(ChannelMessages, r)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.Publish(ChannelMessages, "m")
		}()
		go func() {
			defer wg.Done()
			other := &recorder{}
			h.Subscribe(ChannelMessages, other)()
		}()
	}
	wg.Wait()
	if r.count() != 20 {
		t.Errorf("got %d, want 20", r.count())
	}
}

func TestSubscriberFunc(t *testing.T) {
	h := New(nil)
	var got string
	fn := SubscriberFunc(func(p []byte) error { got = string(p); return nil })
	h.Subscribe(ChannelSystem, &fn)
	h.Publish(ChannelSystem, 7)
	if got != "7" {
		t.Errorf("got %q, want 7", got)
	}
}

func TestValidChannel(t *testing.T) {
	for _, c := range Channels {
		if !ValidChannel(c) {
			t.Errorf("ValidChannel(%q) = false", c)
		}
	}
	if ValidChannel("admin") {
		t.Error("ValidChannel(admin) = true")
	}
}

func TestDialogUpdated_Shape(t *testing.T) {
	admin := uint(3)
	d := &models.Dialog{ID: 9, Status: models.StatusWaitUser, AssignedAdminID: &admin, UnreadMessagesCount: 0}
	data, err := json.Marshal(DialogUpdated(d))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(data)
	for _, want := range []string{
		`"event":"dialog.updated"`,
		`"dialog_id":9`,
		`"status":"wait_user"`,
		`"assigned_admin_id":3`,
		`"locked_by_admin_id":null`,
		`"locked_until":null`,
		`"last_message_at":null`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("payload %s missing %s", s, want)
		}
	}
}

func TestMessageCreated_Shape(t *testing.T) {
	m := models.NewMessage(4, models.RoleAI, "ответ")
	m.ID = 11
	m.CreatedAt = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	data, err := json.Marshal(MessageCreated(m))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(data)
	for _, want := range []string{
		`"event":"message.created"`,
		`"dialog_id":4`,
		`"role":"ai"`,
		`"attachments":[]`,
		`"message_type":"text"`,
		`"created_at":"2026-03-01T10:00:00Z"`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("payload %s missing %s", s, want)
		}
	}
}

func TestKnowledgeFileEvents(t *testing.T) {
	f := &models.KnowledgeFile{ID: 2, FilenameOriginal: "faq.md", SizeBytes: 100, TotalChunks: 3}
	if ev := KnowledgeFileUploaded(f); ev.Event != EventKnowledgeFileUploaded || ev.File.TotalChunks != 3 {
		t.Errorf("uploaded = %+v", ev)
	}
	if ev := KnowledgeFileDeleted(f); ev.Event != EventKnowledgeFileDeleted || ev.File.FilenameOriginal != "faq.md" {
		t.Errorf("deleted = %+v", ev)
	}
}

func TestOperatorEvents(t *testing.T) {
	a := &models.Admin{ID: 5, ExternalID: "77", FullName: "Eve", IsActive: true}
	if ev := OperatorCreated(a); ev.Event != EventOperatorCreated || ev.Operator.ExternalID != "77" {
		t.Errorf("created = %+v", ev)
	}
	ev := OperatorUpdated(a)
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"event":"operator.updated"`) || !strings.Contains(string(data), `"is_active":true`) {
		t.Errorf("payload = %s", data)
	}
}
