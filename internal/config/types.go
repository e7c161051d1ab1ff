package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"quizbot/internal/quiz"
	"quizbot/internal/schedule"
)

// TokenEnv names the environment variables consulted when telegram.token is empty.
var TokenEnv = []string{"QUIZBOT_TOKEN", "TOKEN"}

// DefaultSchedule is the rule used when quiz.schedule is omitted: every hour
// from 08:01:01 to 22:01:01.
var DefaultSchedule = schedule.Fields{Hour: "8-22", Minute: "1", Second: "1"}

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Quiz     QuizConfig     `json:"quiz"`
	Dispatch DispatchConfig `json:"dispatch,omitempty"`
	Commands CommandsConfig `json:"commands,omitempty"`

	// Storage is optional; nil disables the delivery audit trail.
	//
	// Example:
	//
	//	"storage": { "driver": "sqlite", "path": "./quizbot.db" }
	Storage *StorageConfig `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`

	// DefaultChatIDs get a quiz job started at boot with the default schedule.
	DefaultChatIDs []int64 `json:"default_chat_ids,omitempty"`
	// Anonymous controls whether quiz polls hide who answered.
	Anonymous bool `json:"anonymous,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// QuizConfig selects the question source and the default schedule.
//
// Source "file" (default) reads Path as CSV, YAML or JSON by extension.
// Source "sqlite" reads the questions table of the storage database; when Path
// is also set, the file is imported into the table first.
type QuizConfig struct {
	Source        string         `json:"source,omitempty"`
	Path          string         `json:"path"`
	ExhaustPolicy string         `json:"exhaust_policy,omitempty"`
	Schedule      ScheduleConfig `json:"schedule,omitempty"`
}

// ScheduleConfig is either a cron expression or per-field values:
//
//	"schedule": { "cron": "CRON_TZ=Asia/Tehran 1 1 8-22 * * *" }
//	"schedule": { "hour": "8-22", "minute": "1", "second": "1", "timezone": "Asia/Tehran" }
type ScheduleConfig struct {
	Cron string `json:"cron,omitempty"`
	schedule.Fields
}

// Rule builds the configured rule. Timezone applies to Cron too unless the
// expression carries its own CRON_TZ prefix.
func (s ScheduleConfig) Rule() (schedule.Rule, error) {
	cron := strings.TrimSpace(s.Cron)
	if cron == "" {
		f := s.Fields
		if f.IsZero() {
			f = DefaultSchedule
		}
		return schedule.FromFields(f)
	}
	f := s.Fields
	f.Timezone = ""
	if !f.IsZero() {
		return schedule.Rule{}, errors.New("quiz.schedule: set either cron or per-field values, not both")
	}
	loc, err := schedule.LoadLocation(s.Timezone)
	if err != nil {
		return schedule.Rule{}, err
	}
	return schedule.ParseIn(cron, loc)
}

type DispatchConfig struct {
	// Timeout bounds one fire (pick + delivery). Go duration string.
	Timeout string `json:"timeout,omitempty"`
	// RatePerSec caps quiz sends across all chats; 0 means unlimited.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}

type CommandsConfig struct {
	// OwnerOnly restricts /quiz and /stopquiz to telegram.owner_user_ids.
	OwnerOnly bool `json:"owner_only,omitempty"`
	Workers   int  `json:"workers,omitempty"`
}

// StorageConfig controls the optional persistence layer.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ResolveToken returns telegram.token, falling back to TokenEnv.
func (c *Config) ResolveToken() string {
	if t := strings.TrimSpace(c.Telegram.Token); t != "" {
		return t
	}
	for _, k := range TokenEnv {
		if t := strings.TrimSpace(os.Getenv(k)); t != "" {
			return t
		}
	}
	return ""
}

// QuizSource returns the normalized quiz.source.
func (c *Config) QuizSource() string {
	s := strings.ToLower(strings.TrimSpace(c.Quiz.Source))
	if s == "" {
		return "file"
	}
	return s
}

// StorageDriver returns the normalized storage driver, "" when disabled.
func (c *Config) StorageDriver() string {
	if c.Storage == nil {
		return ""
	}
	d := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if d == "none" {
		return ""
	}
	return d
}

// Validate checks everything that does not need the network. requireToken is
// false for offline subcommands.
func (c *Config) Validate(requireToken bool) error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if requireToken && c.ResolveToken() == "" {
		add(fmt.Errorf("telegram.token: empty (or set %s)", strings.Join(TokenEnv, "/")))
	}
	_, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout)
	add(err)
	_, err = ParseDurationField("dispatch.timeout", c.Dispatch.Timeout)
	add(err)
	if c.Dispatch.RatePerSec < 0 {
		add(errors.New("dispatch.rate_per_sec: must be >= 0"))
	}
	if c.Logging.Telegram.RatePerSec < 0 {
		add(errors.New("logging.telegram.rate_per_sec: must be >= 0"))
	}

	if _, err := quiz.ParseExhaustPolicy(c.Quiz.ExhaustPolicy); err != nil {
		add(fmt.Errorf("quiz.exhaust_policy: %w", err))
	}
	if rule, err := c.Quiz.Schedule.Rule(); err != nil {
		add(fmt.Errorf("quiz.schedule: %w", err))
	} else if _, err := rule.NextFireAfter(time.Now()); err != nil {
		add(fmt.Errorf("quiz.schedule: %w", err))
	}

	driver := c.StorageDriver()
	switch driver {
	case "", "file", "sqlite", "sqlite3":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q (use file, sqlite or none)", c.Storage.Driver))
	}
	if driver != "" && strings.TrimSpace(c.Storage.Path) == "" {
		add(errors.New("storage.path: required when storage is enabled"))
	}
	if c.Storage != nil {
		_, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
		add(err)
	}

	switch c.QuizSource() {
	case "file":
		if strings.TrimSpace(c.Quiz.Path) == "" {
			add(errors.New("quiz.path: required for source file"))
		}
	case "sqlite":
		if driver != "sqlite" && driver != "sqlite3" {
			add(errors.New("quiz.source sqlite: requires storage.driver sqlite"))
		}
	default:
		add(fmt.Errorf("quiz.source: unknown source %q (use file or sqlite)", c.Quiz.Source))
	}

	return errors.Join(errs...)
}
