package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	kit "refebot/internal/transport"
	logx "refebot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

// Middleware decorates a handler.
type Middleware func(next HandlerFunc) HandlerFunc

// Wrap applies mws around h. The first middleware runs first.
func Wrap(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := range mws {
		h = mws[len(mws)-1-i](h)
	}
	return h
}

const (
	slowRequest  = 750 * time.Millisecond
	errorReplyTO = 5 * time.Second
)

// Deadline bounds each call by d. Zero leaves the context alone.
func Deadline(d time.Duration) Middleware {
	if d <= 0 {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// Recover turns a handler panic into an error carrying the panic value.
func Recover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				req.logger(log).Error("handler panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}()
			return next(ctx, req)
		}
	}
}

// Timing logs the outcome and duration of each command. Quick successes
// are logged at debug level only.
func Timing(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			began := time.Now()
			err := next(ctx, req)
			took := logx.Duration("dur", time.Since(began))

			l := req.logger(log)
			switch {
			case err != nil:
				l.Warn("command failed", took, logx.Err(err))
			case time.Since(began) >= slowRequest:
				l.Info("command done (slow)", took)
			default:
				l.Debug("command done", took)
			}
			return err
		}
	}
}

// ApologizeOnError sends text to the chat when the handler fails. The reply
// uses a fresh deadline since the handler's own context may have expired.
func ApologizeOnError(text string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err == nil || req == nil || req.Adapter == nil {
				return err
			}
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), errorReplyTO)
			defer cancel()
			_, _ = req.Adapter.SendText(rctx, req.Chat, text, &kit.SendOptions{ReplyTo: req.messageID()})
			return err
		}
	}
}
