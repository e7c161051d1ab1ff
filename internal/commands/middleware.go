package commands

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"time"

	logx "quizbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type middleware func(next HandlerFunc) HandlerFunc

// chain wraps h so that m[0] runs first.
func chain(h HandlerFunc, m ...middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// ownersOnly refuses the command unless the sender is one of owners.
// An empty owner list lets everyone through.
func ownersOnly(owners []int64) middleware {
	return func(next HandlerFunc) HandlerFunc {
		if len(owners) == 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			if !slices.Contains(owners, req.FromID) {
				req.Logger.Info("command refused")
				return req.Reply(ctx, "only bot owners can do that")
			}
			return next(ctx, req)
		}
	}
}

func withTimeout(d time.Duration) middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func recoverPanic() middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Logger.Error("command panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic in /%s: %v", req.Command, r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// logRequest logs the outcome and tells the chat when a handler fails, so a
// command never ends in silence.
func logRequest() middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)
			switch {
			case err == nil && took >= 750*time.Millisecond:
				req.Logger.Info("command ok (slow)", logx.Duration("took", took))
			case err == nil:
				req.Logger.Debug("command ok", logx.Duration("took", took))
			case ctx.Err() != nil:
				// shutting down; nobody is waiting for the reply
				req.Logger.Debug("command aborted", logx.Err(err))
			default:
				req.Logger.Warn("command failed", logx.Duration("took", took), logx.Err(err))
				reply := "command failed, see the bot log"
				if errors.Is(err, context.DeadlineExceeded) {
					reply = "command timed out"
				}
				rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = req.Reply(rctx, reply)
				cancel()
			}
			return err
		}
	}
}
