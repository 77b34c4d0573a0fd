package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "teleube/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

// Result labels how a handled request ended.
type Result string

const (
	ResultOK      Result = "ok"
	ResultError   Result = "error"
	ResultTimeout Result = "timeout"
	ResultPanic   Result = "panic"
)

// ObserveFunc is told about every request that reached a handler.
// command is the command name or "cb:plugin:action".
type ObserveFunc func(command string, res Result, took time.Duration)

// slowRequest promotes successful request logs from DEBUG to INFO.
const slowRequest = 750 * time.Millisecond

// invoke runs h under the route timeout, turns a panic into an error and
// logs and reports the result. Workers never see a handler panic.
func (m *Manager) invoke(ctx context.Context, req *Request, timeout time.Duration, h HandlerFunc) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	res := ResultOK

	defer func() {
		if p := recover(); p != nil {
			req.Logger.Error("handler panic", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", p)
			res = ResultPanic
		} else if err != nil {
			res = ResultError
			if errors.Is(err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				res = ResultTimeout
			}
		}
		took := time.Since(start)

		fields := []logx.Field{
			logx.String("result", string(res)),
			logx.Int("args", len(req.Args)),
			logx.Duration("took", took),
		}
		switch {
		case err != nil:
			req.Logger.Warn("request failed", append(fields, logx.Err(err))...)
		case took >= slowRequest:
			req.Logger.Info("request ok", fields...)
		default:
			req.Logger.Debug("request ok", fields...)
		}
		if m.observe != nil {
			m.observe(req.Command, res, took)
		}
	}()
	return h(ctx, req)
}
