package app

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"quizbot/internal/config"
	"quizbot/internal/dispatch"
	"quizbot/internal/eventbus"
	"quizbot/internal/storage"
	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"
)

const questionsCSV = `id,question_text,choices,correct_choice,tip_short
1,What is 2+2?,3|4|5,4,basic math
2,Capital of Iran?,Tehran|Shiraz,Tehran,
3,Broken?,yes|no,maybe,
`

type fakeAdapter struct {
	mu    sync.Mutex
	out   chan<- kit.Update
	polls chan kit.QuizPoll
	texts chan string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{polls: make(chan kit.QuizPoll, 64), texts: make(chan string, 64)}
}

func (f *fakeAdapter) Start(_ context.Context, out chan<- kit.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	select {
	case f.texts <- text:
	default:
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeAdapter) SendQuiz(_ context.Context, to kit.ChatTarget, p kit.QuizPoll) (kit.MessageRef, error) {
	select {
	case f.polls <- p:
	default:
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 2}, nil
}

func (f *fakeAdapter) say(chatID int64, text string) {
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	out <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chatID, FromID: 1, Text: text}}
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func writeConfig(t *testing.T, dir string, cfg map[string]any) *config.ConfigManager {
	t.Helper()
	b, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	m := config.NewConfigManager(writeFile(t, dir, "config.json", string(b)))
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestAppDeliversToDefaultChats(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	qpath := writeFile(t, dir, "questions.csv", questionsCSV)
	cfgm := writeConfig(t, dir, map[string]any{
		"telegram": map[string]any{"default_chat_ids": []int64{-100}},
		"logging":  map[string]any{"level": "error"},
		"quiz":     map[string]any{"path": qpath, "schedule": map[string]any{"cron": "* * * * * *"}},
		"storage":  map[string]any{"driver": "file", "path": filepath.Join(dir, "store")},
	})

	fa := newFakeAdapter()
	a, err := New(context.Background(), cfgm, WithAdapter(fa))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case p := <-fa.polls:
		if p.Question != "What is 2+2?" && p.Question != "Capital of Iran?" {
			t.Fatalf("unexpected poll %+v", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no quiz delivered to the default chat")
	}

	fa.say(-100, "/quizstatus")
	deadline := time.After(5 * time.Second)
	for found := false; !found; {
		select {
		case text := <-fa.texts:
			found = strings.Contains(text, "Quiz schedule")
		case <-deadline:
			t.Fatal("no status reply")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, ok := a.Registry().Lookup(kit.ChatTarget{ChatID: -100}); ok {
		t.Fatal("job still active after Stop")
	}

	f, err := os.Open(filepath.Join(dir, "store.deliveries.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var rec storage.DeliveryRecord
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		t.Fatal("no delivery recorded")
	}
	if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if !rec.OK || rec.ChatID != -100 {
		t.Fatalf("record = %+v", rec)
	}
}

func TestNewRequiresValidQuestions(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	qpath := writeFile(t, dir, "questions.csv", "id,question_text,choices,correct_choice\n1,Q,a|b,c\n")
	cfgm := writeConfig(t, dir, map[string]any{
		"logging": map[string]any{"level": "error"},
		"quiz":    map[string]any{"path": qpath},
	})
	if _, err := New(context.Background(), cfgm, WithAdapter(newFakeAdapter())); err == nil {
		t.Fatal("expected error for a question file without valid records")
	}
}

func TestLoadQuestionsFromSQLite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	qpath := writeFile(t, dir, "questions.csv", questionsCSV)
	cfg := &config.Config{
		Quiz:    config.QuizConfig{Source: "sqlite", Path: qpath},
		Storage: &config.StorageConfig{Driver: "sqlite", Path: filepath.Join(dir, "quiz.db")},
	}
	sc, _, err := mapStorageConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	st, err := storage.Open(sc, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	res, err := LoadQuestions(context.Background(), cfg, st, logx.Nop())
	if err != nil {
		t.Fatalf("LoadQuestions: %v", err)
	}
	if len(res.Questions) != 2 {
		t.Fatalf("loaded %d questions, want 2", len(res.Questions))
	}

	// The table keeps the imported questions without the file.
	cfg.Quiz.Path = ""
	res, err = LoadQuestions(context.Background(), cfg, st, logx.Nop())
	if err != nil || len(res.Questions) != 2 {
		t.Fatalf("reload from table: %d questions, %v", len(res.Questions), err)
	}

	if _, err := LoadQuestions(context.Background(), cfg, nil, logx.Nop()); err == nil {
		t.Fatal("sqlite source without a store should fail")
	}
}

func TestApplyConfigSwapsDefaultRule(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	qpath := writeFile(t, dir, "questions.csv", questionsCSV)
	cfgm := writeConfig(t, dir, map[string]any{
		"logging": map[string]any{"level": "error"},
		"quiz":    map[string]any{"path": qpath},
	})
	a, err := New(context.Background(), cfgm, WithAdapter(newFakeAdapter()))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Stop(context.Background(), StopAppStop)

	if got := a.DefaultRule().String(); got != "1 1 8-22 * * *" {
		t.Fatalf("default rule = %q", got)
	}

	oldCfg := cfgm.Get()
	newCfg := *oldCfg
	newCfg.Quiz.Schedule = config.ScheduleConfig{Cron: "0 30 9 * * mon-fri"}
	a.applyConfig(oldCfg, &newCfg)
	if got := a.DefaultRule().String(); got != "0 30 9 * * 1-5" {
		t.Fatalf("rule after reload = %q", got)
	}

	bad := newCfg
	bad.Quiz.Schedule = config.ScheduleConfig{Cron: "nonsense"}
	a.applyConfig(&newCfg, &bad)
	if got := a.DefaultRule().String(); got != "0 30 9 * * 1-5" {
		t.Fatalf("invalid schedule replaced the rule: %q", got)
	}
}

func TestReportStatusNotifiesTerminalEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	fa := newFakeAdapter()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		reportStatus(ctx, events, fa, logx.Nop())
	}()

	dest := kit.ChatTarget{ChatID: 7}
	bus.Publish(eventbus.Event{Type: dispatch.EventDelivered, Data: dispatch.JobEvent{Destination: dest}})
	bus.Publish(eventbus.Event{Type: dispatch.EventJobExhausted, Data: dispatch.JobEvent{Destination: dest}})

	select {
	case text := <-fa.texts:
		if !strings.Contains(text, "All questions have been asked") {
			t.Fatalf("notice = %q", text)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no notice for an exhausted job")
	}
	cancel()
	<-done

	select {
	case text := <-fa.texts:
		t.Fatalf("unexpected extra notice %q", text)
	default:
	}
}

func TestQuizRestartsAfterStopPolicyExhaustion(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	qpath := writeFile(t, dir, "questions.csv", "id,question_text,choices,correct_choice\n1,Only one?,yes|no,yes\n")
	cfgm := writeConfig(t, dir, map[string]any{
		"telegram": map[string]any{"default_chat_ids": []int64{-100}},
		"logging":  map[string]any{"level": "error"},
		"quiz": map[string]any{
			"path":           qpath,
			"exhaust_policy": "stop",
			"schedule":       map[string]any{"cron": "* * * * * *"},
		},
	})

	fa := newFakeAdapter()
	a, err := New(context.Background(), cfgm, WithAdapter(fa))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	}()

	waitPoll := func(what string) {
		t.Helper()
		select {
		case <-fa.polls:
		case <-time.After(5 * time.Second):
			t.Fatalf("no poll %s", what)
		}
	}
	waitText := func(contains string) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case text := <-fa.texts:
				if strings.Contains(text, contains) {
					return
				}
			case <-deadline:
				t.Fatalf("no message containing %q", contains)
			}
		}
	}

	waitPoll("before exhaustion")
	waitText("All questions have been asked")
	if _, ok := a.Registry().Lookup(kit.ChatTarget{ChatID: -100}); ok {
		t.Fatal("job still active after the pool ran out")
	}

	fa.say(-100, "/quiz")
	waitText("starting a new round")
	waitPoll("after /quiz")
}
