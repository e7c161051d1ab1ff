package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"quizbot/internal/quiz"
	"quizbot/internal/storage"
	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	polls []kit.QuizPoll
	err   error
}

func (f *fakeSender) SendQuiz(_ context.Context, to kit.ChatTarget, p kit.QuizPoll) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls = append(f.polls, p)
	if f.err != nil {
		return kit.MessageRef{}, f.err
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: len(f.polls)}, nil
}

type memRecorder struct {
	mu   sync.Mutex
	recs []storage.DeliveryRecord
}

func (m *memRecorder) AppendDelivery(_ context.Context, r storage.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, r)
	return nil
}

var capital = quiz.Question{
	ID:          "cap-fr",
	Text:        "Capital of France?",
	Choices:     []string{"Rome", "Paris", "Oslo"},
	Correct:     1,
	Explanation: "Paris has been the capital since 987.",
}

func TestDeliverSendsQuizPoll(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	rec := &memRecorder{}
	d := New(Config{Anonymous: true}, sender, rec, logx.Nop())

	dest := kit.ChatTarget{ChatID: -100123, ThreadID: 8}
	ref, err := d.Deliver(context.Background(), dest, capital)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if ref.ChatID != dest.ChatID || ref.ThreadID != 8 || ref.MessageID != 1 {
		t.Fatalf("ref = %+v", ref)
	}
	p := sender.polls[0]
	if p.Question != capital.Text || p.CorrectOption != 1 || !p.Anonymous || len(p.Options) != 3 {
		t.Fatalf("poll = %+v", p)
	}
	if len(rec.recs) != 1 || !rec.recs[0].OK || rec.recs[0].QuestionID != "cap-fr" || rec.recs[0].ID == "" {
		t.Fatalf("records = %+v", rec.recs)
	}
}

func TestDeliverFailureIsWrappedAndRecorded(t *testing.T) {
	t.Parallel()
	sendErr := errors.New("telegram: bot was kicked from the group chat (403)")
	rec := &memRecorder{}
	d := New(Config{}, &fakeSender{err: sendErr}, rec, logx.Nop())

	_, err := d.Deliver(context.Background(), kit.ChatTarget{ChatID: 1}, capital)
	if !errors.Is(err, ErrDeliveryFailed) || !errors.Is(err, sendErr) {
		t.Fatalf("err = %v, want ErrDeliveryFailed wrapping the send error", err)
	}
	if len(rec.recs) != 1 || rec.recs[0].OK || !strings.Contains(rec.recs[0].Error, "kicked") {
		t.Fatalf("records = %+v", rec.recs)
	}
}

func TestDeliverRateLimitHonorsContext(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	d := New(Config{RatePerSec: 0.001, Burst: 1}, sender, nil, logx.Nop())

	if _, err := d.Deliver(context.Background(), kit.ChatTarget{ChatID: 1}, capital); err != nil {
		t.Fatalf("first Deliver: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Deliver(ctx, kit.ChatTarget{ChatID: 1}, capital); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("err = %v, want ErrDeliveryFailed", err)
	}
	if len(sender.polls) != 1 {
		t.Fatalf("sent %d polls, want 1", len(sender.polls))
	}
}

func TestToPollTruncates(t *testing.T) {
	t.Parallel()
	q := quiz.Question{
		ID:          "long",
		Text:        strings.Repeat("q", 400),
		Choices:     []string{strings.Repeat("ä", 150), "short"},
		Correct:     1,
		Explanation: strings.Repeat("e", 250),
	}
	p, err := ToPoll(q, false)
	if err != nil {
		t.Fatal(err)
	}
	checks := []struct {
		name  string
		s     string
		limit int
	}{
		{"question", p.Question, MaxQuestionLen},
		{"option", p.Options[0], MaxOptionLen},
		{"explanation", p.Explanation, MaxExplanationLen},
	}
	for _, c := range checks {
		if n := utf8.RuneCountInString(c.s); n != c.limit {
			t.Fatalf("%s has %d runes, want %d", c.name, n, c.limit)
		}
		if !strings.HasSuffix(c.s, "…") {
			t.Fatalf("%s not marked as cut", c.name)
		}
	}
	if p.Options[1] != "short" {
		t.Fatalf("short option changed: %q", p.Options[1])
	}
}

func TestToPollKeepsCorrectChoiceBeyondLimit(t *testing.T) {
	t.Parallel()
	choices := make([]string, 12)
	for i := range choices {
		choices[i] = string(rune('a' + i))
	}
	tests := []struct {
		correct     int
		wantOption  int
		wantCorrect string
	}{
		{correct: 0, wantOption: 0, wantCorrect: "a"},
		{correct: 9, wantOption: 9, wantCorrect: "j"},
		{correct: 11, wantOption: 9, wantCorrect: "l"},
	}
	for _, tt := range tests {
		p, err := ToPoll(quiz.Question{ID: "many", Text: "pick", Choices: choices, Correct: tt.correct}, false)
		if err != nil {
			t.Fatal(err)
		}
		if len(p.Options) != MaxOptions {
			t.Fatalf("correct=%d: %d options", tt.correct, len(p.Options))
		}
		if p.CorrectOption != tt.wantOption || p.Options[p.CorrectOption] != tt.wantCorrect {
			t.Fatalf("correct=%d: option %d = %q", tt.correct, p.CorrectOption, p.Options[p.CorrectOption])
		}
	}

	if _, err := ToPoll(quiz.Question{ID: "one", Text: "?", Choices: []string{"x"}}, false); err == nil {
		t.Fatal("single choice should be rejected")
	}
}
