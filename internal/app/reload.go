package app

import (
	"context"
	"strings"

	"quizbot/internal/config"
	logx "quizbot/pkg/logx"
)

// reloadLoop applies published configs. Logging, access control and the
// default schedule change live; running jobs keep the rule they started with.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			newCfg = latest(sub, newCfg)
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// latest drains sub, keeping only the newest config.
func latest(sub <-chan *config.Config, cfg *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok || newer == nil {
				return cfg
			}
			cfg = newer
		default:
			return cfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	// Target first, so Apply doesn't warn about a missing log chat.
	a.logs.SetTelegramTarget(logTarget(newCfg), newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(newCfg))

	a.cmdm.SetAccess(newCfg.Telegram.OwnerUserIDs, newCfg.Commands.OwnerOnly)

	if rule, err := newCfg.Quiz.Schedule.Rule(); err != nil {
		a.log.Warn("invalid quiz.schedule; keeping previous", logx.Err(err))
	} else if rule.String() != a.DefaultRule().String() {
		a.rule.Store(&rule)
		a.log.Info("default schedule changed; running jobs keep their rule", logx.String("rule", rule.String()))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
