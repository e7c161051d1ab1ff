package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"quizbot/internal/quiz"
	logx "quizbot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, thread_id, action, detail, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorUsername), e.ChatID, e.ThreadID,
		e.Action, nullStr(e.Detail), nullStr(e.Error),
	)
	return err
}

func (s *sqliteStore) AppendDelivery(ctx context.Context, r DeliveryRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	ok := 0
	if r.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(id, at, chat_id, thread_id, question_id, message_id, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.ID, r.At.UTC().Format(time.RFC3339Nano), r.ChatID, r.ThreadID, r.QuestionID, r.MessageID,
		ok, nullStr(r.Error), r.TookMS,
	)
	return err
}

// PutQuestions upserts questions by ID.
func (s *sqliteStore) PutQuestions(ctx context.Context, qs []quiz.Question) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO questions(id, question, choices, correct_index, explanation) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET question=excluded.question, choices=excluded.choices,
		   correct_index=excluded.correct_index, explanation=excluded.explanation`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, q := range qs {
		choices, err := json.Marshal(q.Choices)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, q.ID, q.Text, string(choices), q.Correct, nullStr(q.Explanation)); err != nil {
			return fmt.Errorf("question %s: %w", q.ID, err)
		}
	}
	return tx.Commit()
}

// LoadQuestions reads the question bank. Rows that do not form a valid
// question are reported in Skipped, the same way file loaders report them.
func (s *sqliteStore) LoadQuestions(ctx context.Context) (quiz.LoadResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, question, choices, correct_index, COALESCE(explanation, '') FROM questions ORDER BY id`)
	if err != nil {
		return quiz.LoadResult{}, err
	}
	defer rows.Close()

	var raws []quiz.RawQuestion
	var bad []quiz.Skipped
	for rows.Next() {
		var (
			r       quiz.RawQuestion
			choices string
			idx     int
		)
		if err := rows.Scan(&r.ID, &r.Text, &choices, &idx, &r.Explanation); err != nil {
			return quiz.LoadResult{}, err
		}
		if err := json.Unmarshal([]byte(choices), &r.Choices); err != nil {
			bad = append(bad, quiz.Skipped{Ref: "row " + r.ID, Err: fmt.Errorf("%w: choices: %v", quiz.ErrInvalidRecord, err)})
			continue
		}
		r.CorrectIndex = &idx
		raws = append(raws, r)
	}
	if err := rows.Err(); err != nil {
		return quiz.LoadResult{}, err
	}

	res := quiz.FromRaw(raws, func(i int) string { return "row " + raws[i].ID })
	res.Skipped = append(bad, res.Skipped...)
	if len(res.Questions) == 0 {
		return res, errors.New("questions table holds no valid questions")
	}
	return res, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
