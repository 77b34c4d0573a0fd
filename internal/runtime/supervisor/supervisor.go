// Package supervisor owns the long-lived goroutines of a teleube process:
// the update poller, command workers, the config watcher and the metrics
// listener. Every goroutine shares one cancellable context and a panic in
// any of them is logged and recorded instead of crashing the bot.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	logx "teleube/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	// failFast cancels ctx on the first recorded error.
	failFast bool

	wg   sync.WaitGroup
	mu   sync.Mutex
	err  error
	once sync.Once
	done chan struct{}
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError makes the first failing goroutine stop all the others.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.failFast = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel stops the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first error recorded by any goroutine.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Go runs fn on its own goroutine. Returning context.Canceled is a clean stop.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Debug("goroutine started", logx.String("name", name))
		err := s.guard(name, fn)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.record(fmt.Errorf("%s: %w", name, err))
		}
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

// Run is Go for functions that cannot fail.
func (s *Supervisor) Run(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// Restart is the retry policy of a Loop.
type Restart struct {
	// Min and Max bound the doubling delay between attempts.
	Min, Max time.Duration
	// Always reruns a loop that returned nil. Without it a nil return ends the loop.
	Always bool
}

func (r Restart) normalize() Restart {
	if r.Min <= 0 {
		r.Min = 250 * time.Millisecond
	}
	if r.Max < r.Min {
		r.Max = r.Min
	}
	return r
}

// Loop keeps fn running until the context ends, restarting it after errors
// and panics. A run that outlives Max resets the delay to Min.
func (s *Supervisor) Loop(name string, r Restart, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	r = r.normalize()
	s.Run(name, func(ctx context.Context) {
		delay := r.Min
		for ctx.Err() == nil {
			began := time.Now()
			err := s.guard(name, fn)
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if err == nil && !r.Always {
				return
			}
			if time.Since(began) > r.Max {
				delay = r.Min
			}
			wait := delay + rand.N(delay/4+1)
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))

			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			delay = min(2*delay, r.Max)
		}
	})
}

// guard turns a panic in fn into an error.
func (s *Supervisor) guard(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(s.ctx)
}

// Stop cancels every goroutine and waits for them, bounded by ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

func (s *Supervisor) Wait(ctx context.Context) error {
	s.once.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}

func (s *Supervisor) record(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	if s.failFast {
		s.cancel()
	}
}
