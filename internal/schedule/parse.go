package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SecondOptional accepts both 5-field and 6-field (with seconds) expressions.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// robfig/cron marks fields written as "*" or "?" with the top bit.
const starBit = 1 << 63

// ErrDayAndWeekday rejects cron expressions restricting both day of month and
// weekday. Cron fires when either matches, a Rule only when both do.
var ErrDayAndWeekday = errors.New("cron expression restricts both day of month and weekday; restrict only one (a Rule requires both to match, cron needs either)")

// Parse parses a cron expression into a Rule. Without a CRON_TZ=/TZ= prefix
// the rule is evaluated in UTC; see ParseIn.
func Parse(expr string) (Rule, error) {
	return ParseIn(expr, time.UTC)
}

// ParseIn parses a cron expression whose zone defaults to loc. A CRON_TZ= or
// TZ= prefix in the expression takes precedence.
//
// Accepted: "1 59 6-23 * * *", "59 6-23 * * *" (seconds = 0), "@daily",
// "CRON_TZ=Asia/Tehran 1 59 6-23 * * *". Interval schedules ("@every 5m")
// are rejected since they have no calendar fields, and so are expressions
// restricting both day and weekday (ErrDayAndWeekday).
func ParseIn(expr string, loc *time.Location) (Rule, error) {
	r, err := parseIn(expr, loc)
	if err != nil {
		return Rule{}, err
	}
	if !r.Day.IsEvery() && !r.Weekday.IsEvery() {
		return Rule{}, fmt.Errorf("%q: %w", expr, ErrDayAndWeekday)
	}
	return r, nil
}

func parseIn(expr string, loc *time.Location) (Rule, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return Rule{}, errors.New("cron expression required")
	}
	sched, err := parser.Parse(s)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	spec, ok := sched.(*cron.SpecSchedule)
	if !ok {
		return Rule{}, fmt.Errorf("%q is an interval schedule; use a calendar expression like '0 */5 * * * *'", expr)
	}

	r := Rule{
		Second:   fromBits(spec.Second),
		Minute:   fromBits(spec.Minute),
		Hour:     fromBits(spec.Hour),
		Day:      fromBits(spec.Dom),
		Month:    fromBits(spec.Month),
		Weekday:  fromBits(spec.Dow),
		Location: loc,
	}
	if hasTZPrefix(s) {
		r.Location = spec.Location
	}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

func fromBits(b uint64) Field {
	if b&starBit != 0 {
		return Every()
	}
	return Field{set: b, restricted: true}
}

func hasTZPrefix(s string) bool {
	return strings.HasPrefix(s, "CRON_TZ=") || strings.HasPrefix(s, "TZ=")
}

// Fields is the per-field form used in config files, mirroring how APScheduler
// cron triggers are written: {hour: "8-22", minute: "1", second: "1"}.
// Empty fields mean "every", except Second which defaults to "0".
type Fields struct {
	Second    string `json:"second,omitempty"`
	Minute    string `json:"minute,omitempty"`
	Hour      string `json:"hour,omitempty"`
	Day       string `json:"day,omitempty"`
	Month     string `json:"month,omitempty"`
	DayOfWeek string `json:"day_of_week,omitempty"` // cron numbering: 0 = Sunday; names like "mon-fri" work
	Timezone  string `json:"timezone,omitempty"`
}

// IsZero reports whether no field is set.
func (f Fields) IsZero() bool { return f == Fields{} }

// FromFields builds a Rule from per-field expressions. Unlike ParseIn, day and
// day_of_week may both be set; the rule then fires only when both match.
func FromFields(f Fields) (Rule, error) {
	or := func(v, def string) string {
		v = strings.TrimSpace(v)
		if v == "" {
			return def
		}
		if strings.ContainsAny(v, " \t") {
			return "!" // forces a parse error naming the expression
		}
		return v
	}
	loc, err := LoadLocation(f.Timezone)
	if err != nil {
		return Rule{}, err
	}
	expr := strings.Join([]string{
		or(f.Second, "0"), or(f.Minute, "*"), or(f.Hour, "*"),
		or(f.Day, "*"), or(f.Month, "*"), or(f.DayOfWeek, "*"),
	}, " ")
	return parseIn(expr, loc)
}

// LoadLocation resolves an IANA zone name; empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}
