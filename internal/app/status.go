package app

import (
	"context"
	"time"

	"quizbot/internal/dispatch"
	"quizbot/internal/eventbus"
	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"
)

// Notifier is the part of the transport the status reporter talks through.
type Notifier interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// terminalNotice is what a chat is told when its job ends on its own.
var terminalNotice = map[string]string{
	dispatch.EventJobExhausted: "All questions have been asked. The quiz schedule in this chat has ended; send /quiz to start over.",
	dispatch.EventJobFailed:    "The quiz schedule in this chat can no longer fire and has ended.",
}

// reportStatus logs job events until ctx is done and tells a chat when its
// job ended without a /stopquiz.
func reportStatus(ctx context.Context, events <-chan eventbus.Event, n Notifier, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			je, ok := e.Data.(dispatch.JobEvent)
			if !ok {
				log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				continue
			}
			fields := []logx.Field{
				logx.String("type", e.Type),
				logx.String("job", je.JobID),
				logx.String("dest", je.Destination.String()),
			}
			if je.QuestionID != "" {
				fields = append(fields, logx.String("question", je.QuestionID))
			}
			if je.Err != "" {
				fields = append(fields, logx.String("err", je.Err))
			}

			switch e.Type {
			case dispatch.EventDeliveryFailed:
				log.Warn("job event", fields...)
			case dispatch.EventJobExhausted, dispatch.EventJobFailed:
				log.Warn("job event", fields...)
				if n != nil {
					sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
					if _, err := n.SendText(sctx, je.Destination, terminalNotice[e.Type], nil); err != nil {
						log.Warn("job end notice failed", logx.String("dest", je.Destination.String()), logx.Err(err))
					}
					cancel()
				}
			default:
				log.Debug("job event", fields...)
			}
		}
	}
}
