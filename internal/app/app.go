package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"quizbot/internal/commands"
	"quizbot/internal/config"
	"quizbot/internal/delivery"
	"quizbot/internal/dispatch"
	"quizbot/internal/eventbus"
	"quizbot/internal/quiz"
	"quizbot/internal/runtime/supervisor"
	"quizbot/internal/schedule"
	"quizbot/internal/storage"
	kit "quizbot/internal/transport"
	telegram "quizbot/internal/transport/telegram/adapter"
	logx "quizbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	pool *quiz.Pool
	disp *dispatch.Dispatcher
	reg  *dispatch.Registry
	cmdm *commands.Manager

	// rule is the default schedule for /quiz and default chats; swapped on reload.
	rule atomic.Pointer[schedule.Rule]

	updates chan kit.Update
}

type options struct {
	adapter kit.Adapter
}

type Option func(*options)

// WithAdapter replaces the Telegram adapter. No token is required then.
func WithAdapter(a kit.Adapter) Option {
	return func(o *options) { o.adapter = a }
}

// New builds the application from the manager's current config (loading it
// if needed). Questions are loaded here, so a bad question source fails fast.
func New(ctx context.Context, cfgm *config.ConfigManager, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfg := cfgm.Get()
	if cfg == nil {
		var err error
		if cfg, err = cfgm.Load(); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(o.adapter == nil); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Bootstrap with the Telegram sink off: the adapter it writes through
	// needs a logger first.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, nil)

	ad := o.adapter
	if ad == nil {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.ResolveToken(),
			PollTimeout: pollTimeout,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		ad = tg
	}
	logSvc.SetSender(ad)
	logSvc.SetTelegramTarget(logTarget(cfg), cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}

	st, err := OpenStore(cfg, log)
	if err != nil {
		return nil, err
	}
	a.store = st

	pool, err := NewPool(ctx, cfg, a.store, log.With(logx.String("comp", "questions")))
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.pool = pool
	log.Info("question pool ready", logx.Int("questions", pool.Len()), logx.String("exhaust_policy", pool.Policy().String()))

	rule, err := cfg.Quiz.Schedule.Rule()
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.rule.Store(&rule)

	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	var rec delivery.Recorder
	var audit commands.Auditor
	if a.store != nil {
		rec, audit = a.store, a.store
	}
	deliverer := delivery.New(mapDeliveryConfig(cfg), ad, rec, log)
	a.disp = dispatch.New(dcfg, pool, deliverer, log, dispatch.WithBus(a.bus))
	a.reg = dispatch.NewRegistry(a.disp)

	var botName string
	if u, ok := ad.(interface{ Username() string }); ok {
		botName = u.Username()
	}
	a.cmdm = commands.NewManager(ad, log, commands.Options{
		Owners:      cfg.Telegram.OwnerUserIDs,
		OwnerOnly:   cfg.Commands.OwnerOnly,
		BotUsername: botName,
		Workers:     cfg.Commands.Workers,
	})
	a.cmdm.SetCommands(commands.QuizCommands(commands.QuizDeps{
		Jobs:  a.reg,
		Pool:  pool,
		Rule:  a.DefaultRule,
		Audit: audit,
	}))
	return a, nil
}

// DefaultRule is the schedule used by /quiz without arguments.
func (a *App) DefaultRule() schedule.Rule { return *a.rule.Load() }

func (a *App) Registry() *dispatch.Registry { return a.reg }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log)
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		// The token may live in the environment; token changes need a restart anyway.
		return cfg.Validate(false)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		a.sup.Cancel()
		return err
	}
	if err := a.disp.Start(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("status.report", func(c context.Context) {
		defer unsub()
		reportStatus(c, events, a.adapter, a.log.With(logx.String("comp", "status")))
	})

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.Run(c, a.updates)
	})

	if mu, ok := a.adapter.(kit.CommandMenuUpdater); ok {
		a.sup.Go0("commands.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 15*time.Second)
			defer cancel()
			if err := mu.UpdateMenuCommands(mctx, a.cmdm.Menu()); err != nil {
				a.log.Warn("command menu update failed", logx.Err(err))
			}
		})
	}

	started := a.startDefaultChats(a.cfgm.Get())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		watchdog(c, a.log)
	})

	notifyReady(a.log, started)
	a.log.Info("app started", logx.Int("default_chats", started), logx.String("default_rule", a.DefaultRule().String()))
	return nil
}

func (a *App) startDefaultChats(cfg *config.Config) int {
	if cfg == nil {
		return 0
	}
	rule := a.DefaultRule()
	for _, id := range cfg.Telegram.DefaultChatIDs {
		dest := kit.ChatTarget{ChatID: id}
		a.reg.Start(dest, rule)
		if a.store != nil {
			err := a.store.AppendAudit(a.sup.Context(), storage.AuditEntry{
				At:     time.Now(),
				ChatID: id,
				Action: "quiz.autostart",
				Detail: rule.String(),
			})
			if err != nil {
				a.log.Warn("audit append failed", logx.Err(err))
			}
		}
	}
	return len(cfg.Telegram.DefaultChatIDs)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeStore()
		_ = a.logs.Close()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping(a.log)

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "jobs", 3*time.Second, func(c context.Context) error {
		n := a.reg.StopAll()
		a.log.Debug("quiz jobs cancelled", logx.Int("count", n))
		return a.disp.Stop(c)
	})
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		a.closeStore()
		return nil
	})

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

// step runs one shutdown step bounded by max and the caller's deadline, so a
// stuck component can't stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}

func (a *App) closeStore() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.store = nil
}
