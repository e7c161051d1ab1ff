package storage

import (
	"context"
	"errors"
	"strings"

	"quizbot/internal/quiz"
	logx "quizbot/pkg/logx"
)

// Store is the persistence API used by delivery and commands.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	AppendDelivery(ctx context.Context, r DeliveryRecord) error
	Close() error
}

// QuestionStore is implemented by drivers that can hold the question bank.
type QuestionStore interface {
	PutQuestions(ctx context.Context, qs []quiz.Question) error
	LoadQuestions(ctx context.Context) (quiz.LoadResult, error)
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		st, err := openSQLite(cfg, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
