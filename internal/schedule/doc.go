// Package schedule evaluates cron-style recurrence rules.
//
// A Rule is a plain value: one Field per time unit (second, minute, hour,
// day of month, month, weekday) plus a time zone. Rule.NextFireAfter is pure;
// the dispatcher calls it repeatedly to walk successive fire times.
//
// Parse turns cron expressions into Rules using the robfig/cron parser, so the
// usual syntax works ("1 59 6-23 * * *", "@daily", "CRON_TZ=Asia/Tehran ...").
// Fields are ANDed: when both day and weekday are restricted, both must match.
package schedule
