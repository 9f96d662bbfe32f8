package responder

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/instructions"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/provider"
	"github.com/zulandar/switchboard/internal/rag"
	"gorm.io/gorm"
)

type fakeRanker struct {
	matches []rag.Match
	err     error
	calls   int
	opts    rag.Options
}

func (f *fakeRanker) Rank(_ context.Context, _ *gorm.DB, _ string, opts rag.Options) ([]rag.Match, error) {
	f.calls++
	f.opts = opts
	return f.matches, f.err
}

type fakeCompleter struct {
	reply string
	err   error
	got   []*schema.Message
}

func (f *fakeCompleter) Complete(_ context.Context, messages []*schema.Message) (string, error) {
	f.got = messages
	return f.reply, f.err
}

func match(id uint, text string, score float64) rag.Match {
	return rag.Match{Chunk: models.KnowledgeChunk{ID: id, Text: text}, Score: score}
}

// eighty is an 80-rune chunk.
var eighty = strings.Repeat("д", 79) + "."

func newResponder(t *testing.T, ranker Ranker, completer provider.Completer) *Responder {
	t.Helper()
	r, err := New(Options{Ranker: ranker, Completer: completer, MinRelevance: 0.3, TopK: 5, HistoryLimit: 15})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	gormDB, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	return gormDB
}

func TestNew_RequiresRanker(t *testing.T) {
	if _, err := New(Options{}); err == nil || !strings.Contains(err.Error(), "ranker is required") {
		t.Errorf("error = %v, want ranker is required", err)
	}
}

func TestReply_ConfidentAnswer(t *testing.T) {
	gormDB := openDB(t)
	ranker := &fakeRanker{matches: []rag.Match{match(1, eighty, 0.6)}}
	completer := &fakeCompleter{reply: "  Курьер приедет завтра.  "}
	r := newResponder(t, ranker, completer)

	res, err := r.Reply(context.Background(), gormDB, Request{Text: "когда доставка?"})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if res.IsFallback || !res.UsedRAG {
		t.Errorf("IsFallback = %v, UsedRAG = %v, want false, true", res.IsFallback, res.UsedRAG)
	}
	if res.Text != "Курьер приедет завтра." {
		t.Errorf("Text = %q", res.Text)
	}
	if res.MaxScore != 0.6 {
		t.Errorf("MaxScore = %v, want 0.6", res.MaxScore)
	}
	if ranker.opts.Limit != 5 || ranker.opts.MinRelevance != 0.3 {
		t.Errorf("rank opts = %+v", ranker.opts)
	}

	got := completer.got
	if len(got) != 3 {
		t.Fatalf("prompt messages = %d, want 3", len(got))
	}
	if got[0].Role != schema.System || got[0].Content != instructions.DefaultText {
		t.Errorf("system message = %+v", got[0])
	}
	if got[1].Role != schema.System || !strings.HasPrefix(got[1].Content, contextPreamble) || !strings.Contains(got[1].Content, eighty) {
		t.Errorf("context message = %+v", got[1])
	}
	if got[2].Role != schema.User || got[2].Content != "когда доставка?" {
		t.Errorf("user message = %+v", got[2])
	}
}

func TestReply_InsufficientContext(t *testing.T) {
	tests := []struct {
		name        string
		matches     []rag.Match
		wantUsedRAG bool
	}{
		{name: "no matches", matches: nil, wantUsedRAG: false},
		{name: "low score", matches: []rag.Match{match(1, eighty, 0.2)}, wantUsedRAG: true},
		{name: "short chunks", matches: []rag.Match{match(1, "Да.", 0.9), match(2, strings.Repeat("к", 50), 0.8)}, wantUsedRAG: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := &fakeCompleter{reply: "should not be called"}
			r := newResponder(t, &fakeRanker{matches: tt.matches}, completer)
			res, err := r.Reply(context.Background(), openDB(t), Request{Text: "вопрос"})
			if err != nil {
				t.Fatalf("Reply: %v", err)
			}
			if !res.IsFallback || res.Text != FallbackText {
				t.Errorf("Result = %+v, want fallback", res)
			}
			if res.UsedRAG != tt.wantUsedRAG {
				t.Errorf("UsedRAG = %v, want %v", res.UsedRAG, tt.wantUsedRAG)
			}
			if completer.got != nil {
				t.Error("completer called despite insufficient context")
			}
		})
	}
}

func TestReply_LocalReplyWhenCompleterFails(t *testing.T) {
	for _, err := range []error{provider.ErrNotConfigured, &provider.Error{Provider: "openai", Op: "generate", Err: errors.New("timeout")}} {
		r := newResponder(t, &fakeRanker{matches: []rag.Match{match(1, "  "+eighty+"\n", 0.7)}}, &fakeCompleter{err: err})
		res, rerr := r.Reply(context.Background(), openDB(t), Request{Text: "вопрос"})
		if rerr != nil {
			t.Fatalf("Reply: %v", rerr)
		}
		if res.IsFallback || !res.UsedRAG {
			t.Errorf("IsFallback = %v, UsedRAG = %v", res.IsFallback, res.UsedRAG)
		}
		if res.Text != localPrefix+eighty {
			t.Errorf("Text = %q, want local reply", res.Text)
		}
	}
}

func TestReply_EmptyCompletionFallsBack(t *testing.T) {
	r := newResponder(t, &fakeRanker{matches: []rag.Match{match(1, eighty, 0.7)}}, &fakeCompleter{reply: "   "})
	res, err := r.Reply(context.Background(), openDB(t), Request{Text: "вопрос"})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if !res.IsFallback || !res.UsedRAG || res.Text != FallbackText {
		t.Errorf("Result = %+v, want fallback with UsedRAG", res)
	}
}

func TestReply_RankErrorFallsBack(t *testing.T) {
	r := newResponder(t, &fakeRanker{err: errors.New("db gone")}, &fakeCompleter{reply: "x"})
	res, err := r.Reply(context.Background(), openDB(t), Request{Text: "вопрос"})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if !res.IsFallback || res.UsedRAG {
		t.Errorf("Result = %+v, want fallback without RAG", res)
	}
}

func TestReply_PrecomputedSkipsRanking(t *testing.T) {
	ranker := &fakeRanker{}
	r := newResponder(t, ranker, &fakeCompleter{reply: "ok"})
	res, err := r.Reply(context.Background(), openDB(t), Request{
		Text:        "вопрос",
		Matches:     []rag.Match{match(3, eighty, 0.55)},
		Precomputed: true,
	})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if ranker.calls != 0 {
		t.Errorf("ranker called %d times", ranker.calls)
	}
	if res.IsFallback || res.MaxScore != 0.55 {
		t.Errorf("Result = %+v", res)
	}
}

func TestReply_HistoryAndInstructions(t *testing.T) {
	gormDB := openDB(t)
	if _, err := instructions.Update(gormDB, nil, "Будь краток."); err != nil {
		t.Fatalf("instructions.Update: %v", err)
	}
	dialog := &models.Dialog{Platform: "telegram", ExternalUserID: "42", Status: models.StatusAuto}
	if err := gormDB.Create(dialog).Error; err != nil {
		t.Fatalf("create dialog: %v", err)
	}
	for _, m := range []*models.Message{
		models.NewMessage(dialog.ID, models.RoleUser, "первый вопрос"),
		models.NewMessage(dialog.ID, models.RoleAI, "ответ бота"),
		models.NewMessage(dialog.ID, models.RoleAdmin, "ответ оператора"),
	} {
		if err := gormDB.Create(m).Error; err != nil {
			t.Fatalf("create message: %v", err)
		}
	}
	current := models.NewMessage(dialog.ID, models.RoleUser, "новый вопрос")
	if err := gormDB.Create(current).Error; err != nil {
		t.Fatalf("create current: %v", err)
	}

	completer := &fakeCompleter{reply: "ok"}
	r := newResponder(t, &fakeRanker{matches: []rag.Match{match(1, eighty, 0.9)}}, completer)
	if _, err := r.Reply(context.Background(), gormDB, Request{Dialog: dialog, Text: current.Content, CurrentMessageID: current.ID}); err != nil {
		t.Fatalf("Reply: %v", err)
	}

	got := completer.got
	want := []struct {
		role    schema.RoleType
		content string
	}{
		{schema.System, "Будь краток."},
		{schema.System, ""},
		{schema.User, "первый вопрос"},
		{schema.Assistant, "ответ бота"},
		{schema.Assistant, "ответ оператора"},
		{schema.User, "новый вопрос"},
	}
	if len(got) != len(want) {
		t.Fatalf("prompt messages = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Role != w.role {
			t.Errorf("message %d role = %q, want %q", i, got[i].Role, w.role)
		}
		if w.content != "" && got[i].Content != w.content {
			t.Errorf("message %d content = %q, want %q", i, got[i].Content, w.content)
		}
	}
}

func TestReply_HistoryLimit(t *testing.T) {
	gormDB := openDB(t)
	dialog := &models.Dialog{Platform: "telegram", ExternalUserID: "7", Status: models.StatusAuto}
	gormDB.Create(dialog)
	for i := 0; i < 20; i++ {
		gormDB.Create(models.NewMessage(dialog.ID, models.RoleUser, "m"))
	}

	completer := &fakeCompleter{reply: "ok"}
	r, err := New(Options{Ranker: &fakeRanker{matches: []rag.Match{match(1, eighty, 0.9)}}, Completer: completer, HistoryLimit: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r.Reply(context.Background(), gormDB, Request{Dialog: dialog, Text: "q"}); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	// system + context + 4 history + user
	if len(completer.got) != 7 {
		t.Errorf("prompt messages = %d, want 7", len(completer.got))
	}
}
