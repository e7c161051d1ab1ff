package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"quizbot/internal/eventbus"
	"quizbot/internal/quiz"
	"quizbot/internal/runtime/supervisor"
	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"
)

// QuestionSource hands out the next question to ask. *quiz.Pool implements it.
type QuestionSource interface {
	PickNext() (quiz.Question, error)
}

// Deliverer sends one question to one destination.
type Deliverer interface {
	Deliver(ctx context.Context, dest Destination, q quiz.Question) (kit.MessageRef, error)
}

var ErrStopped = errors.New("dispatcher stopped")

type Config struct {
	// Timeout bounds a single delivery. Zero means 30s.
	Timeout time.Duration
}

type Option func(*Dispatcher)

func WithClock(c Clock) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.clock = c
		}
	}
}

func WithBus(b eventbus.Bus) Option {
	return func(d *Dispatcher) {
		if b != nil {
			d.bus = b
		}
	}
}

// Dispatcher runs job loops. Jobs handed to it before Start are held and
// launched once Start is called.
type Dispatcher struct {
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	clock   Clock
	source  QuestionSource
	deliver Deliverer

	mu      sync.Mutex
	sup     *supervisor.Supervisor
	stopped bool
	pending []launch

	onLaunch func(*Job) // test hook
}

type launch struct {
	job     *Job
	release func()
}

func New(cfg Config, source QuestionSource, deliver Deliverer, log logx.Logger, opts ...Option) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	d := &Dispatcher{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "dispatch")),
		bus:     eventbus.Nop(),
		clock:   SystemClock{},
		source:  source,
		deliver: deliver,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrStopped
	}
	if d.sup != nil {
		return nil
	}
	d.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(d.log))
	for _, l := range d.pending {
		d.spawnLocked(l.job, l.release)
	}
	d.pending = nil
	return nil
}

// Stop aborts every job loop (including ones waiting for a distant fire) and
// waits for them to return or for ctx to expire. In-flight deliveries see
// their context cancelled.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	sup := d.sup
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, l := range pending {
		l.job.cancel(ErrStopped)
		close(l.job.finished)
		l.release()
	}
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

// Running reports the number of live job loops.
func (d *Dispatcher) Running() int64 {
	d.mu.Lock()
	sup := d.sup
	d.mu.Unlock()
	return sup.Counters().Active
}

func (d *Dispatcher) launch(j *Job, release func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.onLaunch != nil {
		d.onLaunch(j)
	}
	switch {
	case d.stopped:
		j.cancel(ErrStopped)
		close(j.finished)
		release()
	case d.sup == nil:
		d.pending = append(d.pending, launch{job: j, release: release})
	default:
		d.spawnLocked(j, release)
	}
}

func (d *Dispatcher) spawnLocked(j *Job, release func()) {
	d.sup.Go0("job:"+j.dest.String(), func(ctx context.Context) {
		defer close(j.finished)
		defer release()
		d.run(ctx, j)
	})
}

func (d *Dispatcher) run(ctx context.Context, j *Job) {
	log := d.log.With(logx.String("job", j.id), logx.String("dest", j.dest.String()))
	var prev time.Time
	for {
		// A timer never fires early, but guard against a clock that reads
		// slightly behind the previous fire.
		base := d.clock.Now()
		if base.Before(prev) {
			base = prev
		}
		next, err := j.rule.NextFireAfter(base)
		if err != nil {
			if j.cancel(err) {
				log.Error("job ended: rule has no future fire", logx.String("rule", j.rule.String()), logx.Err(err))
				d.publish(EventJobFailed, j, JobEvent{Err: err.Error()})
			}
			return
		}
		j.setNext(next)
		log.Debug("next fire", logx.Time("at", next))

		timer := d.clock.NewTimer(next.Sub(d.clock.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			j.cancel(ErrStopped)
			return
		case <-j.done:
			timer.Stop()
			return
		case <-timer.C():
		}
		prev = next

		if !j.beginFire(next) {
			return
		}
		if !d.fire(ctx, j, log) {
			return
		}
	}
}

// fire delivers one question. It returns false when the job is over.
func (d *Dispatcher) fire(ctx context.Context, j *Job, log logx.Logger) bool {
	q, err := d.source.PickNext()
	if err != nil {
		if errors.Is(err, quiz.ErrPoolExhausted) {
			if j.cancel(err) {
				log.Info("job ended: question pool exhausted")
				d.publish(EventJobExhausted, j, JobEvent{Err: err.Error()})
			}
			return false
		}
		j.endFire(err)
		log.Warn("pick question failed", logx.Err(err))
		d.publish(EventDeliveryFailed, j, JobEvent{Err: err.Error()})
		return true
	}

	dctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	ref, err := d.deliver.Deliver(dctx, j.dest, q)
	cancel()
	j.endFire(err)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		log.Warn("delivery failed", logx.String("question", q.ID), logx.Err(err))
		d.publish(EventDeliveryFailed, j, JobEvent{QuestionID: q.ID, Err: err.Error()})
		return true
	}
	log.Info("quiz delivered", logx.String("question", q.ID), logx.Int("message_id", ref.MessageID))
	d.publish(EventDelivered, j, JobEvent{QuestionID: q.ID, MessageID: ref.MessageID})
	return true
}

func (d *Dispatcher) publish(typ string, j *Job, ev JobEvent) {
	ev.JobID = j.id
	ev.Destination = j.dest
	if ev.Rule == "" {
		ev.Rule = j.rule.String()
	}
	d.bus.Publish(eventbus.Event{Type: typ, Time: d.clock.Now(), Data: ev})
}
