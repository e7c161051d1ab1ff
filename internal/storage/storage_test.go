package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"quizbot/internal/quiz"
	logx "quizbot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver should fail")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path should fail")
	}
}

func TestFileStoreAppends(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "quizbot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	if err := st.AppendDelivery(ctx, DeliveryRecord{ID: "d1", ChatID: -100, QuestionID: "q1", MessageID: 5, OK: true}); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendDelivery(ctx, DeliveryRecord{ID: "d2", ChatID: -100, QuestionID: "q2", Error: "forbidden"}); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendAudit(ctx, AuditEntry{ActorID: 1, ChatID: -100, Action: "quiz.start"}); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	recs := readLines[DeliveryRecord](t, filepath.Join(dir, "quizbot.deliveries.jsonl"))
	if len(recs) != 2 || !recs[0].OK || recs[1].OK || recs[1].Error != "forbidden" {
		t.Fatalf("deliveries = %+v", recs)
	}
	if recs[0].At.IsZero() {
		t.Fatal("At was not defaulted")
	}
	audit := readLines[AuditEntry](t, filepath.Join(dir, "quizbot.audit.jsonl"))
	if len(audit) != 1 || audit[0].Action != "quiz.start" {
		t.Fatalf("audit = %+v", audit)
	}

	if err := st.AppendAudit(ctx, AuditEntry{}); err == nil {
		t.Fatal("append after Close should fail")
	}
}

func readLines[T any](t *testing.T, path string) []T {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var out []T
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		out = append(out, v)
	}
	return out
}

func openTestSQLite(t *testing.T) *sqliteStore {
	t.Helper()
	st, err := openSQLite(Config{Path: filepath.Join(t.TempDir(), "quiz.db"), BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("openSQLite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteDeliveriesAndAudit(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t)
	ctx := context.Background()

	for i, ok := range []bool{true, false, true} {
		r := DeliveryRecord{ChatID: 7, ThreadID: 2, QuestionID: "q", MessageID: i, OK: ok, TookMS: 12}
		if !ok {
			r.Error = "timeout"
		}
		if err := st.AppendDelivery(ctx, r); err != nil {
			t.Fatalf("AppendDelivery: %v", err)
		}
	}
	if err := st.AppendAudit(ctx, AuditEntry{ActorID: 3, ActorUsername: "op", ChatID: 7, Action: "quiz.stop"}); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}

	var total, failed int
	if err := st.db.QueryRow(`SELECT COUNT(*), SUM(CASE WHEN ok = 0 THEN 1 ELSE 0 END) FROM deliveries WHERE chat_id = 7`).Scan(&total, &failed); err != nil {
		t.Fatal(err)
	}
	if total != 3 || failed != 1 {
		t.Fatalf("total=%d failed=%d", total, failed)
	}
	var action string
	if err := st.db.QueryRow(`SELECT action FROM audit WHERE actor_id = 3`).Scan(&action); err != nil || action != "quiz.stop" {
		t.Fatalf("audit row = %q, %v", action, err)
	}
}

func TestSQLiteQuestionBank(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t)
	ctx := context.Background()

	if _, err := st.LoadQuestions(ctx); err == nil {
		t.Fatal("empty bank should fail to load")
	}

	qs := []quiz.Question{
		{ID: "a", Text: "2+2?", Choices: []string{"3", "4"}, Correct: 1, Explanation: "math"},
		{ID: "b", Text: "Capital of France?", Choices: []string{"Paris", "Rome", "Oslo"}, Correct: 0},
	}
	if err := st.PutQuestions(ctx, qs); err != nil {
		t.Fatalf("PutQuestions: %v", err)
	}
	// Upsert replaces by id.
	qs[1].Text = "Capital of France, again?"
	if err := st.PutQuestions(ctx, qs[1:]); err != nil {
		t.Fatalf("PutQuestions: %v", err)
	}
	// Rows written by hand can be broken.
	if _, err := st.db.Exec(`INSERT INTO questions(id, question, choices, correct_index) VALUES('c', 'bad', 'not json', 0), ('d', 'one', '["x"]', 0)`); err != nil {
		t.Fatal(err)
	}

	res, err := st.LoadQuestions(ctx)
	if err != nil {
		t.Fatalf("LoadQuestions: %v", err)
	}
	if len(res.Questions) != 2 || len(res.Skipped) != 2 {
		t.Fatalf("loaded %d, skipped %d", len(res.Questions), len(res.Skipped))
	}
	if got := res.Questions[1]; got.Text != "Capital of France, again?" || got.CorrectChoice() != "Paris" {
		t.Fatalf("question b = %+v", got)
	}
	if res.Questions[0].Explanation != "math" {
		t.Fatalf("explanation lost: %+v", res.Questions[0])
	}
}
