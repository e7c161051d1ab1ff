package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"quizbot/internal/config"
	"quizbot/internal/quiz"
	"quizbot/internal/storage"
	logx "quizbot/pkg/logx"
)

// LoadQuestions reads the configured question source. Skipped records are
// logged as warnings; the load fails only when nothing valid remains.
func LoadQuestions(ctx context.Context, cfg *config.Config, store storage.Store, log logx.Logger) (quiz.LoadResult, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	path := strings.TrimSpace(cfg.Quiz.Path)

	var (
		res quiz.LoadResult
		err error
	)
	switch src := cfg.QuizSource(); src {
	case "file":
		res, err = quiz.LoadFile(path)
		warnSkipped(log, path, res.Skipped)
	case "sqlite":
		qs, ok := store.(storage.QuestionStore)
		if !ok {
			return quiz.LoadResult{}, errors.New("quiz.source sqlite: storage does not hold questions")
		}
		if path != "" {
			n, ierr := ImportQuestions(ctx, path, qs, log)
			if ierr != nil {
				return quiz.LoadResult{}, ierr
			}
			log.Info("questions imported", logx.String("path", path), logx.Int("count", n))
		}
		res, err = qs.LoadQuestions(ctx)
		warnSkipped(log, "questions table", res.Skipped)
	default:
		return quiz.LoadResult{}, fmt.Errorf("quiz.source: unknown source %q", src)
	}
	return res, err
}

// ImportQuestions loads a question file into qs, upserting by ID.
func ImportQuestions(ctx context.Context, path string, qs storage.QuestionStore, log logx.Logger) (int, error) {
	res, err := quiz.LoadFile(path)
	warnSkipped(log, path, res.Skipped)
	if err != nil {
		return 0, err
	}
	if err := qs.PutQuestions(ctx, res.Questions); err != nil {
		return 0, fmt.Errorf("import %s: %w", path, err)
	}
	return len(res.Questions), nil
}

// NewPool loads questions and builds the pool with the configured policy.
func NewPool(ctx context.Context, cfg *config.Config, store storage.Store, log logx.Logger) (*quiz.Pool, error) {
	policy, err := quiz.ParseExhaustPolicy(cfg.Quiz.ExhaustPolicy)
	if err != nil {
		return nil, err
	}
	res, err := LoadQuestions(ctx, cfg, store, log)
	if err != nil {
		return nil, err
	}
	return quiz.NewPool(res.Questions, quiz.WithPolicy(policy))
}

func warnSkipped(log logx.Logger, source string, skipped []quiz.Skipped) {
	if log.IsZero() {
		return
	}
	for _, s := range skipped {
		log.Warn("question skipped", logx.String("source", source), logx.String("record", s.Ref), logx.Err(s.Err))
	}
}
