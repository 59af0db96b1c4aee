package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"hatbot/internal/fault"
	logx "hatbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if req != nil && !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if req != nil && !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.Int64("chat_id", req.Chat.ChatID),
				logx.Int("thread_id", req.Chat.ThreadID),
				logx.Int64("from_id", req.FromID),
				logx.String("cmd", req.Command),
				logx.Duration("dur", d),
			}
			switch {
			case err == nil && d >= 750*time.Millisecond:
				logger.Info("request ok", fields...)
			case err == nil:
				logger.Debug("request ok", fields...)
			case fault.KindOf(err).Visible():
				logger.Info("request rejected", append(fields, logx.String("kind", fault.KindOf(err).String()), logx.Err(err))...)
			default:
				logger.Warn("request failed", append(fields, logx.String("kind", fault.KindOf(err).String()), logx.Err(err))...)
			}
			return err
		}
	}
}

// MWReplyError answers a failed command in chat. Validation and precondition
// errors are shown as is; everything else gets a generic line with the
// request id so the log entry can be found.
func MWReplyError() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err == nil || req == nil || req.Adapter == nil {
				return err
			}
			// The handler's context may be spent; the reply gets its own.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			_ = req.Reply(rctx, ErrorText(err, req.ReqID))
			return err
		}
	}
}

// ErrorText is the chat rendering of a command error.
func ErrorText(err error, rid string) string {
	switch {
	case fault.KindOf(err).Visible():
		return err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "command timed out (ref " + rid + ")"
	default:
		return "command failed (ref " + rid + ")"
	}
}
