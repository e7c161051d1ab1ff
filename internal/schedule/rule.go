package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // rules name IANA zones; don't depend on the host's zoneinfo
)

// ErrUnsatisfiableRule means a rule can never fire.
var ErrUnsatisfiableRule = errors.New("unsatisfiable schedule rule")

// NextFireAfter gives up after this many years. Without a weekday the
// longest gap is between leap days (2096 to 2104). With one, a date can skip
// decades (Feb 29 on a Monday: 2072, then 2112), but the Gregorian calendar
// repeats every 400 years, so nothing is found later that isn't found within.
const (
	searchYears        = 9
	weekdaySearchYears = 400
)

func (r Rule) horizon() int {
	if r.Weekday.IsEvery() {
		return searchYears
	}
	return weekdaySearchYears
}

// Rule is a recurrence rule evaluated in Location (UTC when nil).
type Rule struct {
	Second  Field
	Minute  Field
	Hour    Field
	Day     Field // day of month
	Month   Field
	Weekday Field // 0 = Sunday

	Location *time.Location
}

func (r Rule) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// Timezone returns the IANA name of the rule's zone.
func (r Rule) Timezone() string { return r.location().String() }

// Validate reports ErrUnsatisfiableRule for fields that can never match.
// Rules that are well-formed but still never fire (February 30th) are only
// caught by NextFireAfter.
func (r Rule) Validate() error {
	checks := []struct {
		f Field
		u unit
	}{
		{r.Second, unitSecond},
		{r.Minute, unitMinute},
		{r.Hour, unitHour},
		{r.Day, unitDay},
		{r.Month, unitMonth},
		{r.Weekday, unitWeekday},
	}
	for _, c := range checks {
		if err := c.f.check(c.u); err != nil {
			return err
		}
	}
	return nil
}

// NextFireAfter returns the first instant strictly after now that matches every
// field, evaluated on the wall clock of the rule's zone. The result is in that zone.
func (r Rule) NextFireAfter(now time.Time) (time.Time, error) {
	if err := r.Validate(); err != nil {
		return time.Time{}, err
	}
	loc := r.location()

	t := now.In(loc)
	t = t.Add(time.Second - time.Duration(t.Nanosecond())*time.Nanosecond)
	years := r.horizon()
	limit := t.Year() + years

	// Once t has been moved to the start of some unit, every smaller unit is
	// already at its minimum and only needs to be advanced.
	reset := false

wrap:
	for {
		if t.Year() > limit {
			return time.Time{}, fmt.Errorf("%w: %s has no fire time within %d years after %s",
				ErrUnsatisfiableRule, r, years, now.In(loc).Format(time.RFC3339))
		}

		for !r.Month.Matches(int(t.Month())) {
			if !reset {
				reset = true
				t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
			}
			t = t.AddDate(0, 1, 0)
			if t.Month() == time.January {
				continue wrap
			}
		}

		for !r.dayMatches(t) {
			if !reset {
				reset = true
				t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
			}
			t = t.AddDate(0, 0, 1)
			// A DST shift can leave midnight unrepresentable; snap back to the day start.
			if h := t.Hour(); h != 0 {
				if h > 12 {
					t = t.Add(time.Duration(24-h) * time.Hour)
				} else {
					t = t.Add(-time.Duration(h) * time.Hour)
				}
			}
			if t.Day() == 1 {
				continue wrap
			}
		}

		for !r.Hour.Matches(t.Hour()) {
			if !reset {
				reset = true
				t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
			}
			t = t.Add(time.Hour)
			if t.Hour() == 0 {
				continue wrap
			}
		}

		for !r.Minute.Matches(t.Minute()) {
			if !reset {
				reset = true
				t = t.Truncate(time.Minute)
			}
			t = t.Add(time.Minute)
			if t.Minute() == 0 {
				continue wrap
			}
		}

		for !r.Second.Matches(t.Second()) {
			if !reset {
				reset = true
				t = t.Truncate(time.Second)
			}
			t = t.Add(time.Second)
			if t.Second() == 0 {
				continue wrap
			}
		}

		return t, nil
	}
}

func (r Rule) dayMatches(t time.Time) bool {
	return r.Day.Matches(t.Day()) && r.Weekday.Matches(int(t.Weekday()))
}

// String renders the rule as a six-field cron expression with a CRON_TZ prefix
// for non-UTC zones. Parse(r.String()) yields an equivalent rule, except when
// both day and weekday are restricted, which Parse refuses.
func (r Rule) String() string {
	expr := strings.Join([]string{
		r.Second.String(), r.Minute.String(), r.Hour.String(),
		r.Day.String(), r.Month.String(), r.Weekday.String(),
	}, " ")
	if tz := r.Timezone(); tz != "UTC" {
		return "CRON_TZ=" + tz + " " + expr
	}
	return expr
}
