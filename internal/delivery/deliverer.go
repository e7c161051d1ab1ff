package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"quizbot/internal/quiz"
	"quizbot/internal/storage"
	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"
)

var ErrDeliveryFailed = errors.New("delivery failed")

// Sender posts quiz polls. The Telegram adapter implements it.
type Sender interface {
	SendQuiz(ctx context.Context, to kit.ChatTarget, p kit.QuizPoll) (kit.MessageRef, error)
}

// Recorder keeps a trail of delivery attempts. storage.Store implements it.
type Recorder interface {
	AppendDelivery(ctx context.Context, r storage.DeliveryRecord) error
}

type Config struct {
	// RatePerSec caps sends across all destinations. Zero disables the cap.
	RatePerSec float64
	Burst      int
	Anonymous  bool
}

// Deliverer turns questions into quiz polls and sends them. It never retries;
// a failed attempt is reported to the caller and recorded.
type Deliverer struct {
	cfg     Config
	sender  Sender
	rec     Recorder
	limiter *rate.Limiter
	log     logx.Logger
}

// New builds a Deliverer. rec may be nil.
func New(cfg Config, sender Sender, rec Recorder, log logx.Logger) *Deliverer {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Deliverer{cfg: cfg, sender: sender, rec: rec, log: log.With(logx.String("comp", "delivery"))}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = max(1, int(cfg.RatePerSec))
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return d
}

func (d *Deliverer) Deliver(ctx context.Context, dest kit.ChatTarget, q quiz.Question) (kit.MessageRef, error) {
	poll, err := ToPoll(q, d.cfg.Anonymous)
	if err != nil {
		return kit.MessageRef{}, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return kit.MessageRef{}, fmt.Errorf("%w: rate limit wait: %w", ErrDeliveryFailed, err)
		}
	}

	start := time.Now()
	ref, err := d.sender.SendQuiz(ctx, dest, poll)
	d.record(ctx, start, dest, q.ID, ref, err)
	if err != nil {
		return kit.MessageRef{}, fmt.Errorf("%w: question %s to %s: %w", ErrDeliveryFailed, q.ID, dest, err)
	}
	return ref, nil
}

func (d *Deliverer) record(ctx context.Context, start time.Time, dest kit.ChatTarget, qid string, ref kit.MessageRef, sendErr error) {
	if d.rec == nil {
		return
	}
	r := storage.DeliveryRecord{
		ID:         uuid.NewString(),
		At:         start,
		ChatID:     dest.ChatID,
		ThreadID:   dest.ThreadID,
		QuestionID: qid,
		MessageID:  ref.MessageID,
		OK:         sendErr == nil,
		TookMS:     time.Since(start).Milliseconds(),
	}
	if sendErr != nil {
		r.Error = sendErr.Error()
	}
	// The send already happened; a cancelled ctx must not lose the record.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := d.rec.AppendDelivery(rctx, r); err != nil {
		d.log.Warn("delivery record not stored", logx.String("question", qid), logx.Err(err))
	}
}
