package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quizbot/internal/dispatch"
	"quizbot/internal/quiz"
	"quizbot/internal/schedule"
	"quizbot/internal/storage"
	logx "quizbot/pkg/logx"
	"quizbot/pkg/tgui"
)

// Jobs is the schedule registry as seen from chat commands.
type Jobs interface {
	Start(dest dispatch.Destination, rule schedule.Rule) bool
	Stop(dest dispatch.Destination) bool
	Lookup(dest dispatch.Destination) (dispatch.JobInfo, bool)
}

type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Pool is the shared question pool.
type Pool interface {
	Stats() quiz.PoolStats
	// Rewind starts a new round if every question was shown.
	Rewind() bool
}

type QuizDeps struct {
	Jobs Jobs
	Pool Pool
	// Rule returns the configured default rule; it may change on reload.
	Rule  func() schedule.Rule
	Audit Auditor // optional
	Now   func() time.Time
}

const timeLayout = "2006-01-02 15:04:05 MST"

// QuizCommands builds /quiz, /stopquiz and /quizstatus.
func QuizCommands(d QuizDeps) []Command {
	if d.Now == nil {
		d.Now = time.Now
	}
	return []Command{
		{
			Name:        "quiz",
			Aliases:     []string{"startquiz"},
			Description: "start posting quizzes here (optional: cron expression)",
			Access:      AccessOwnerOnly,
			Timeout:     10 * time.Second,
			Handle:      d.start,
		},
		{
			Name:        "stopquiz",
			Description: "stop posting quizzes here",
			Access:      AccessOwnerOnly,
			Timeout:     10 * time.Second,
			Handle:      d.stop,
		},
		{
			Name:        "quizstatus",
			Description: "show the schedule for this chat",
			Timeout:     10 * time.Second,
			Handle:      d.status,
		},
	}
}

func (d QuizDeps) start(ctx context.Context, req *Request) error {
	rule := d.Rule()
	if len(req.Args) > 0 {
		custom, err := schedule.ParseIn(strings.Join(req.Args, " "), rule.Location)
		if err != nil {
			_ = req.Reply(ctx, "invalid schedule: "+err.Error())
			return nil
		}
		rule = custom
	}
	next, err := rule.NextFireAfter(d.Now())
	if err != nil {
		_ = req.Reply(ctx, "that schedule never fires: "+err.Error())
		return nil
	}

	// A pool used up under the stop policy would end the new job at its
	// first fire; starting a schedule begins a fresh round instead.
	rewound := d.Pool != nil && d.Pool.Rewind()
	if rewound {
		d.audit(ctx, req, "quiz.rewind", "")
		req.Logger.Info("question pool rewound")
	}

	replaced := d.Jobs.Start(req.Chat, rule)
	action := "quiz.start"
	text := "Quiz started."
	if replaced {
		action = "quiz.restart"
		text = "Quiz restarted (previous schedule replaced)."
	}
	if rewound {
		text += " All questions were asked, starting a new round."
	}
	d.audit(ctx, req, action, rule.String())
	req.Logger.Info("quiz schedule started", logx.String("rule", rule.String()), logx.Bool("replaced", replaced))
	return req.Reply(ctx, fmt.Sprintf("%s Next question at %s.", text, next.Format(timeLayout)))
}

func (d QuizDeps) stop(ctx context.Context, req *Request) error {
	if !d.Jobs.Stop(req.Chat) {
		return req.Reply(ctx, "No active quiz schedule in this chat.")
	}
	d.audit(ctx, req, "quiz.stop", "")
	return req.Reply(ctx, "Quiz stopped.")
}

func (d QuizDeps) status(ctx context.Context, req *Request) error {
	info, ok := d.Jobs.Lookup(req.Chat)
	if !ok {
		return req.Reply(ctx, "No active quiz schedule in this chat. Use /quiz to start one.")
	}
	lines := []tgui.H{
		tgui.B("Quiz schedule"),
		tgui.Line("rule: ", tgui.Code(info.Rule)),
		tgui.Line("timezone: ", tgui.Esc(info.Timezone)),
		tgui.Esc("started: " + info.Created.In(tzOf(info)).Format(timeLayout)),
	}
	if !info.Next.IsZero() {
		lines = append(lines, tgui.Esc("next: "+info.Next.Format(timeLayout)))
	}
	lines = append(lines, tgui.Esc(fmt.Sprintf("sent: %d (failed %d)", info.Fires, info.Failures)))
	if info.LastError != "" {
		lines = append(lines, tgui.Line("last error: ", tgui.Esc(tgui.TruncRunes(info.LastError, 300))))
	}
	if d.Pool != nil {
		s := d.Pool.Stats()
		lines = append(lines, tgui.Esc(fmt.Sprintf("questions: %d of %d left in round %d (%s when empty)", s.Remaining, s.Total, s.Cycle+1, s.Policy)))
	}
	return req.ReplyHTML(ctx, tgui.Lines(lines...).String())
}

func tzOf(info dispatch.JobInfo) *time.Location {
	if loc, err := schedule.LoadLocation(info.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

func (d QuizDeps) audit(ctx context.Context, req *Request, action, detail string) {
	if d.Audit == nil {
		return
	}
	err := d.Audit.AppendAudit(ctx, storage.AuditEntry{
		At:            d.Now(),
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		ChatID:        req.Chat.ChatID,
		ThreadID:      req.Chat.ThreadID,
		Action:        action,
		Detail:        detail,
	})
	if err != nil {
		req.Logger.Warn("audit append failed", logx.Err(err))
	}
}
