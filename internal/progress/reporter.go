// Package progress turns the extractor's high-frequency progress events into
// a bounded rate of status texts for a chat message editor.
package progress

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"teleube/internal/media"
	logx "teleube/pkg/logx"
)

const DefaultInterval = 2 * time.Second

// Sink receives rendered status texts (typically: edit the job's status message).
type Sink interface {
	Update(ctx context.Context, text string) error
}

type SinkFunc func(ctx context.Context, text string) error

func (f SinkFunc) Update(ctx context.Context, text string) error { return f(ctx, text) }

// Reporter throttles and renders progress for one job.
//
// A Reporter is owned by a single goroutine: Run (or direct Report calls) and
// the final Finish must not overlap.
type Reporter struct {
	sink    Sink
	log     logx.Logger
	limiter *rate.Limiter
	now     func() time.Time

	lastPct  float64
	havePct  bool
	lastText string
	finished bool
	sent     int
}

type Option func(*Reporter)

// WithInterval sets the minimum spacing between rendered updates.
func WithInterval(d time.Duration) Option {
	return func(r *Reporter) {
		if d > 0 {
			r.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		if now != nil {
			r.now = now
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(r *Reporter) { r.log = log }
}

func New(sink Sink, opts ...Option) *Reporter {
	r := &Reporter{
		sink:    sink,
		limiter: rate.NewLimiter(rate.Every(DefaultInterval), 1),
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run consumes events until the channel is closed or ctx ends.
func (r *Reporter) Run(ctx context.Context, events <-chan media.ProgressEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Report(ctx, ev)
		}
	}
}

// Report handles a single event. Downloading events are rate limited; the
// first finished event renders the completion text.
func (r *Reporter) Report(ctx context.Context, ev media.ProgressEvent) {
	if r.finished {
		return
	}
	if ev.Status == media.StatusFinished {
		r.Finish(ctx)
		return
	}

	pct, ok := Percent(ev)
	switch {
	case ok:
		if r.havePct && pct < r.lastPct {
			pct = r.lastPct
		}
		r.lastPct, r.havePct = pct, true
	case r.havePct:
		pct, ok = r.lastPct, true
	}

	if !r.limiter.AllowN(r.now(), 1) {
		return
	}
	r.send(ctx, FormatDownloading(pct, ok, ev.Speed, ev.ETA))
}

// Finish renders the completion text. It is sent at most once per Reporter;
// the return value reports whether this call sent it.
func (r *Reporter) Finish(ctx context.Context) bool {
	if r.finished {
		return false
	}
	r.finished = true
	r.send(ctx, CompletedText)
	return true
}

// Sent returns how many updates reached the sink.
func (r *Reporter) Sent() int { return r.sent }

func (r *Reporter) send(ctx context.Context, text string) {
	if r.sink == nil || text == r.lastText {
		return
	}
	if err := r.sink.Update(ctx, text); err != nil {
		r.log.Debug("progress update failed", logx.Err(err))
		return
	}
	r.lastText = text
	r.sent++
}
