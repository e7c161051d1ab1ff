package commands

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"quizbot/internal/dispatch"
	"quizbot/internal/quiz"
	"quizbot/internal/schedule"
	"quizbot/internal/storage"
	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
	opt  *kit.SendOptions
}

type fakeSender struct {
	out chan sent
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.out <- sent{to: to, text: text, opt: opt}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: 1}, nil
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[dispatch.Destination]schedule.Rule
}

func (f *fakeJobs) Start(dest dispatch.Destination, rule schedule.Rule) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, had := f.jobs[dest]
	f.jobs[dest] = rule
	return had
}

func (f *fakeJobs) Stop(dest dispatch.Destination) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, had := f.jobs[dest]
	delete(f.jobs, dest)
	return had
}

func (f *fakeJobs) Lookup(dest dispatch.Destination) (dispatch.JobInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.jobs[dest]
	if !ok {
		return dispatch.JobInfo{}, false
	}
	return dispatch.JobInfo{Destination: dest, Rule: r.String(), Timezone: r.Timezone(), Fires: 3, Failures: 1}, true
}

type fakePool struct {
	mu        sync.Mutex
	exhausted bool
}

func (p *fakePool) Stats() quiz.PoolStats {
	return quiz.PoolStats{Total: 10, Remaining: 4, Cycle: 0, Policy: quiz.ExhaustReset}
}

func (p *fakePool) Rewind() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	was := p.exhausted
	p.exhausted = false
	return was
}

type memAudit struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (m *memAudit) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	m     *Manager
	pool  *fakePool
	out   chan sent
	jobs  *fakeJobs
	audit *memAudit
	in    chan kit.Update
}

var hourly = schedule.Rule{Second: schedule.Exact(1), Minute: schedule.Exact(59), Hour: schedule.Between(6, 23)}

func newFixture(t *testing.T, opt Options) *fixture {
	t.Helper()
	out := make(chan sent, 16)
	f := &fixture{
		out:   out,
		jobs:  &fakeJobs{jobs: map[dispatch.Destination]schedule.Rule{}},
		audit: &memAudit{},
		pool:  &fakePool{},
		in:    make(chan kit.Update, 16),
	}
	f.m = NewManager(&fakeSender{out: out}, logx.Nop(), opt)
	f.m.SetCommands(QuizCommands(QuizDeps{
		Jobs:  f.jobs,
		Pool:  f.pool,
		Rule:  func() schedule.Rule { return hourly },
		Audit: f.audit,
		Now:   func() time.Time { return time.Date(2024, 5, 10, 6, 0, 0, 0, time.UTC) },
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.m.Run(ctx, f.in)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

func (f *fixture) say(chat kit.ChatTarget, from int64, text string, group bool) {
	f.in <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: chat.ChatID, ThreadID: chat.ThreadID, FromID: from, Text: text, IsGroup: group,
	}}
}

func (f *fixture) expect(t *testing.T, contains string) sent {
	t.Helper()
	select {
	case s := <-f.out:
		if !strings.Contains(s.text, contains) {
			t.Fatalf("reply %q does not contain %q", s.text, contains)
		}
		return s
	case <-time.After(3 * time.Second):
		t.Fatalf("no reply containing %q", contains)
	}
	return sent{}
}

func (f *fixture) expectSilence(t *testing.T) {
	t.Helper()
	select {
	case s := <-f.out:
		t.Fatalf("unexpected reply %q", s.text)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestQuizStartStopFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	chat := kit.ChatTarget{ChatID: -1001, ThreadID: 5}

	f.say(chat, 1, "/quiz", true)
	s := f.expect(t, "Quiz started.")
	if s.to != chat {
		t.Fatalf("reply went to %v", s.to)
	}
	if !strings.Contains(s.text, "2024-05-10 06:59:01") {
		t.Fatalf("reply lacks next fire time: %q", s.text)
	}

	f.say(chat, 1, "/startquiz@QuizBot", true)
	f.expect(t, "restarted (previous schedule replaced)")

	f.say(chat, 1, "/quizstatus", true)
	s = f.expect(t, "sent: 3 (failed 1)")
	if s.opt == nil || s.opt.ParseMode != "HTML" || !strings.Contains(s.text, "4 of 10 left") {
		t.Fatalf("status reply = %q", s.text)
	}

	f.say(chat, 1, "/stopquiz", true)
	f.expect(t, "Quiz stopped.")
	f.say(chat, 1, "/stopquiz", true)
	f.expect(t, "No active quiz schedule")

	waitAudit(t, f.audit, []string{"quiz.start", "quiz.restart", "quiz.stop"})
}

func waitAudit(t *testing.T, a *memAudit, want []string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		got := a.actions()
		if strings.Join(got, ",") == strings.Join(want, ",") {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("audit actions = %v, want %v", got, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestQuizCustomSchedule(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	chat := kit.ChatTarget{ChatID: 9}

	f.say(chat, 1, "/quiz 0 30 12 * * *", false)
	f.expect(t, "Next question at 2024-05-10 12:30:00")

	f.say(chat, 1, "/quiz not a schedule", false)
	f.expect(t, "invalid schedule")

	f.say(chat, 1, "/quiz 0 0 0 30 2 *", false)
	f.expect(t, "never fires")

	f.say(chat, 1, "/quiz 0 0 9 1 * MON", false)
	f.expect(t, "restrict only one")
	info, _ := f.jobs.Lookup(chat)
	if info.Rule != "0 30 12 * * *" {
		t.Fatalf("rejected schedule replaced the job: %q", info.Rule)
	}
}

func TestQuizRewindsExhaustedPool(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	chat := kit.ChatTarget{ChatID: 11}

	f.say(chat, 1, "/quiz", false)
	s := f.expect(t, "Quiz started.")
	if strings.Contains(s.text, "new round") {
		t.Fatalf("fresh pool reported a new round: %q", s.text)
	}

	f.pool.mu.Lock()
	f.pool.exhausted = true
	f.pool.mu.Unlock()
	f.say(chat, 1, "/quiz", false)
	f.expect(t, "starting a new round")
	waitAudit(t, f.audit, []string{"quiz.start", "quiz.rewind", "quiz.restart"})
}

func TestOwnerOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{Owners: []int64{42}, OwnerOnly: true})
	chat := kit.ChatTarget{ChatID: 3}

	f.say(chat, 7, "/quiz", false)
	f.expect(t, "only bot owners")
	if _, ok := f.jobs.Lookup(chat); ok {
		t.Fatal("non-owner started a job")
	}

	// Status is open to everyone.
	f.say(chat, 7, "/quizstatus", false)
	f.expect(t, "No active quiz schedule")

	f.say(chat, 42, "/quiz", false)
	f.expect(t, "Quiz started.")

	f.m.SetAccess(nil, true)
	f.say(chat, 7, "/stopquiz", false)
	f.expect(t, "Quiz stopped.")
}

func TestRoutingEdgeCases(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{BotUsername: "@QuizBot"})
	group := kit.ChatTarget{ChatID: -5}

	f.say(group, 1, "hello there", true)
	f.expectSilence(t)

	f.say(group, 1, "/quiz@some_other_bot", true)
	f.expectSilence(t)

	f.say(group, 1, "/weather", true)
	f.expectSilence(t)

	f.say(group, 1, "/weather@quizbot", true)
	f.expect(t, "unknown command")

	f.say(kit.ChatTarget{ChatID: 5}, 1, "/weather", false)
	f.expect(t, "unknown command")

	f.say(group, 1, "/help@QuizBot", true)
	s := f.expect(t, "/quiz")
	for _, want := range []string{"/stopquiz", "/quizstatus", "/help", "/startquiz"} {
		if !strings.Contains(s.text, want) {
			t.Fatalf("help lacks %s: %q", want, s.text)
		}
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text      string
		name      string
		args      []string
		addressed string
		ok        bool
	}{
		{text: "/quiz", name: "quiz", ok: true},
		{text: "  /Quiz@My_Bot  0 */5 * * * * ", name: "quiz", args: []string{"0", "*/5", "*", "*", "*", "*"}, addressed: "my_bot", ok: true},
		{text: "quiz", ok: false},
		{text: "/", ok: false},
		{text: "/@bot", ok: false},
	}
	for _, tt := range tests {
		name, args, addressed, ok := parseCommand(tt.text)
		if ok != tt.ok || name != tt.name || addressed != tt.addressed || strings.Join(args, " ") != strings.Join(tt.args, " ") {
			t.Fatalf("parseCommand(%q) = %q %q %q %v", tt.text, name, args, addressed, ok)
		}
	}
}

func TestSanitizeCommand(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"quiz":            "quiz",
		"/Start-Quiz":     "start_quiz",
		"quiz  status":    "quiz_status",
		"__x__":           "x",
		"ünïcode":         "ncode",
		strings.Repeat("a", 40): strings.Repeat("a", 32),
	}
	for in, want := range tests {
		if got := sanitizeCommand(in); got != want {
			t.Fatalf("sanitizeCommand(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFailingHandlersReplyToChat(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	f.m.SetCommands([]Command{
		{Name: "boom", Handle: func(context.Context, *Request) error { panic("kaput") }},
		{Name: "slow", Timeout: 20 * time.Millisecond, Handle: func(ctx context.Context, _ *Request) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	})
	chat := kit.ChatTarget{ChatID: 9}

	f.say(chat, 1, "/boom", false)
	f.expect(t, "command failed")

	f.say(chat, 1, "/slow", false)
	f.expect(t, "command timed out")
}
