package config

import (
	"slices"
	"sort"
	"strings"

	logx "quizbot/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and safe attrs for
// logging. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!slices.Equal(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		!slices.Equal(ot.DefaultChatIDs, nt.DefaultChatIDs) ||
		ot.Anonymous != nt.Anonymous ||
		(strings.TrimSpace(ot.Token) != "") != (strings.TrimSpace(nt.Token) != "") {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Int("telegram.default_chats", len(nt.DefaultChatIDs)),
			logx.Bool("telegram.anonymous", nt.Anonymous),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	oq, nq := oldCfg.Quiz, newCfg.Quiz
	if oq.Source != nq.Source || oq.Path != nq.Path || oq.ExhaustPolicy != nq.ExhaustPolicy {
		changed = append(changed, "quiz")
		attrs = append(attrs,
			logx.String("quiz.source", newCfg.QuizSource()),
			logx.String("quiz.exhaust_policy", nq.ExhaustPolicy),
		)
	}
	if oq.Schedule != nq.Schedule {
		changed = append(changed, "quiz.schedule")
		if r, err := nq.Schedule.Rule(); err == nil {
			attrs = append(attrs, logx.String("quiz.schedule", r.String()), logx.String("quiz.timezone", r.Timezone()))
		}
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.timeout", strings.TrimSpace(newCfg.Dispatch.Timeout)),
			logx.Any("dispatch.rate_per_sec", newCfg.Dispatch.RatePerSec),
		)
	}

	if oldCfg.Commands != newCfg.Commands {
		changed = append(changed, "commands")
		attrs = append(attrs, logx.Bool("commands.owner_only", newCfg.Commands.OwnerOnly))
	}

	var oldS, newS StorageConfig
	if oldCfg.Storage != nil {
		oldS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newS = *newCfg.Storage
	}
	if oldCfg.StorageDriver() != newCfg.StorageDriver() || oldS.Path != newS.Path || oldS.BusyTimeout != newS.BusyTimeout {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.StorageDriver()),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "telegram", "quiz", "dispatch", "storage":
			out = append(out, s)
		}
	}
	return out
}
