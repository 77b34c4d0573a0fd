// Package job implements the per-request download lifecycle:
// probe, duration gate, fetch with progress, size gate, delivery and
// bookkeeping, plus per-user admission.
package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"teleube/internal/extract"
	"teleube/internal/media"
	"teleube/internal/progress"
	logx "teleube/pkg/logx"
)

type State string

const (
	StateAdmitted   State = "admitted"
	StateProbing    State = "probing"
	StateFetching   State = "fetching"
	StateSizeCheck  State = "size_check"
	StateDelivering State = "delivering"
	StateCompleted  State = "completed"
	StateCancelled  State = "cancelled"
	StateFailed     State = "failed"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Job is one admitted request. Its ID names every file it writes.
type Job struct {
	ID        string
	UserID    string
	URL       string
	Quality   media.Quality
	StartedAt time.Time

	token *Token
}

func New(tok *Token, url string, q media.Quality) (*Job, error) {
	if tok == nil {
		return nil, errors.New("job: nil token")
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("job id: %w", err)
	}
	return &Job{
		ID:        id.String(),
		UserID:    tok.UserID,
		URL:       url,
		Quality:   q,
		StartedAt: time.Now(),
		token:     tok,
	}, nil
}

type Limits struct {
	Dir         string
	MaxFileSize int64
	MaxDuration time.Duration
	// FetchTimeout bounds the probe and, separately, the fetch.
	FetchTimeout     time.Duration
	ProgressInterval time.Duration
}

// Delivery describes a finished file handed to the chat layer.
type Delivery struct {
	Path      string
	Title     string
	Uploader  string
	IsAudio   bool
	Duration  time.Duration
	SourceURL string
	Size      int64
}

type DeliverFunc func(ctx context.Context, d Delivery) error

// RecordFunc persists a successful delivery of n bytes for userID.
type RecordFunc func(ctx context.Context, userID string, n int64) error

type Env struct {
	Extractor extract.Extractor
	Limits    Limits
	Record    RecordFunc
	Log       logx.Logger
}

type Hooks struct {
	Sink    progress.Sink
	Deliver DeliverFunc
	// Observe is told about every state entered, terminal ones included.
	Observe func(State)
}

type Outcome struct {
	JobID string
	State State
	// Err is set for cancelled and failed outcomes.
	Err *Error
	// Warning is set when a completed job could not be recorded.
	Warning *Error
	Meta    media.Metadata
	Bytes   int64
	Elapsed time.Duration
}

func (o Outcome) Kind() Kind {
	if o.Err != nil {
		return o.Err.Kind
	}
	return ""
}

type runner struct {
	job   *Job
	env   Env
	hooks Hooks
	log   logx.Logger
}

// Run drives j to a terminal state. Every adapter and filesystem error is
// mapped into the failure taxonomy; nothing else leaves this function.
func Run(ctx context.Context, j *Job, env Env, hooks Hooks) Outcome {
	r := &runner{job: j, env: env, hooks: hooks}
	r.log = env.Log.With(logx.String("job", j.ID), logx.String("user", j.UserID))
	out := r.run(ctx)
	out.JobID = j.ID
	out.Elapsed = time.Since(j.StartedAt)
	r.enter(out.State)

	switch {
	case out.State == StateCompleted && out.Warning != nil:
		r.log.Warn("job completed with warning", logx.String("kind", string(out.Warning.Kind)), logx.Err(out.Warning.Err))
	case out.State == StateCompleted:
		r.log.Info("job completed", logx.Int64("bytes", out.Bytes), logx.Duration("took", out.Elapsed))
	default:
		fields := []logx.Field{logx.String("state", string(out.State)), logx.String("kind", string(out.Kind()))}
		if out.Err != nil && out.Err.Err != nil {
			fields = append(fields, logx.Err(out.Err.Err))
		}
		r.log.Info("job ended", fields...)
	}
	return out
}

func (r *runner) enter(s State) {
	if r.hooks.Observe != nil {
		r.hooks.Observe(s)
	}
}

func (r *runner) fail(k Kind, err error) Outcome {
	return Outcome{State: StateFailed, Err: newError(k, err)}
}

func (r *runner) cancelled() Outcome {
	r.removeArtifacts()
	return Outcome{State: StateCancelled, Err: newError(CancelledByUser, nil)}
}

func (r *runner) run(ctx context.Context) Outcome {
	j, lim := r.job, r.env.Limits
	r.enter(StateAdmitted)
	if j.token.Cancelled() {
		return r.cancelled()
	}

	r.enter(StateProbing)
	meta, err := r.probe(ctx)
	if j.token.Cancelled() {
		return r.cancelled()
	}
	if err != nil {
		return r.fail(ProbeFailed, err)
	}
	if lim.MaxDuration > 0 && meta.Duration > lim.MaxDuration {
		return withMeta(r.fail(TooLong, fmt.Errorf("duration %s exceeds %s", meta.Duration, lim.MaxDuration)), meta)
	}
	if j.token.Cancelled() {
		return withMeta(r.cancelled(), meta)
	}

	r.enter(StateFetching)
	sel := media.Select(j.Quality)
	path, err := r.fetch(ctx, sel)
	if j.token.Cancelled() || errors.Is(err, extract.ErrCancelled) {
		return withMeta(r.cancelled(), meta)
	}
	if err != nil {
		r.removeArtifacts()
		return withMeta(r.fail(FetchFailed, err), meta)
	}

	r.enter(StateSizeCheck)
	st, err := os.Stat(path)
	if err != nil {
		r.removeArtifacts()
		return withMeta(r.fail(FetchFailed, err), meta)
	}
	size := st.Size()
	if lim.MaxFileSize > 0 && size > lim.MaxFileSize {
		r.removeArtifacts()
		return withMeta(r.fail(FileTooLarge, fmt.Errorf("%d bytes exceeds %d", size, lim.MaxFileSize)), meta)
	}
	if j.token.Cancelled() {
		return withMeta(r.cancelled(), meta)
	}

	r.enter(StateDelivering)
	d := Delivery{
		Path:      path,
		Title:     meta.Title,
		Uploader:  meta.Uploader,
		IsAudio:   sel.AudioOnly || strings.EqualFold(filepath.Ext(path), ".mp3"),
		Duration:  meta.Duration,
		SourceURL: j.URL,
		Size:      size,
	}
	err = r.deliver(ctx, d)
	r.removeArtifacts()
	if err != nil {
		return withMeta(r.fail(DeliveryFailed, err), meta)
	}

	out := Outcome{State: StateCompleted, Meta: meta, Bytes: size}
	if r.env.Record != nil {
		if err := r.env.Record(ctx, j.UserID, size); err != nil {
			out.Warning = newError(PersistenceError, err)
		}
	}
	return out
}

// probe is bounded by FetchTimeout and interrupted by a cancel of the token.
func (r *runner) probe(ctx context.Context) (media.Metadata, error) {
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if t := r.env.Limits.FetchTimeout; t > 0 {
		var tcancel context.CancelFunc
		pctx, tcancel = context.WithTimeout(pctx, t)
		defer tcancel()
	}
	go func() {
		select {
		case <-r.job.token.Done():
			cancel()
		case <-pctx.Done():
		}
	}()
	return r.env.Extractor.Probe(pctx, r.job.URL)
}

func withMeta(o Outcome, m media.Metadata) Outcome {
	o.Meta = m
	return o
}

func (r *runner) fetch(ctx context.Context, sel media.Selection) (string, error) {
	lim := r.env.Limits
	if err := os.MkdirAll(lim.Dir, 0o755); err != nil {
		return "", err
	}

	reporter := progress.New(r.hooks.Sink,
		progress.WithInterval(lim.ProgressInterval),
		progress.WithLogger(r.log),
	)
	events := make(chan media.ProgressEvent, 32)
	repCtx, stopReporter := context.WithCancel(ctx)
	repDone := make(chan struct{})
	go func() {
		defer close(repDone)
		reporter.Run(repCtx, events)
	}()

	fctx := ctx
	if lim.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, lim.FetchTimeout)
		defer cancel()
	}
	path, err := r.env.Extractor.Fetch(fctx, extract.FetchRequest{
		URL:        r.job.URL,
		Selection:  sel,
		OutputBase: filepath.Join(lim.Dir, r.job.ID),
		Progress:   events,
		Cancel:     r.job.token,
	})

	// events is never closed: the extractor may still hold it.
	stopReporter()
	<-repDone
	if err == nil && !r.job.token.Cancelled() {
		reporter.Finish(ctx)
	}
	return path, err
}

func (r *runner) deliver(ctx context.Context, d Delivery) (err error) {
	if r.hooks.Deliver == nil {
		return errors.New("no delivery target")
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("deliver panic: %v", rec)
		}
	}()
	return r.hooks.Deliver(ctx, d)
}

// removeArtifacts deletes every <dir>/<jobID>* path, partial files included.
func (r *runner) removeArtifacts() {
	n, err := RemoveArtifacts(r.env.Limits.Dir, r.job.ID)
	if err != nil {
		r.log.Warn("artifact cleanup failed", logx.Err(err))
		return
	}
	if n > 0 {
		r.log.Debug("artifacts removed", logx.Int("count", n))
	}
}

func RemoveArtifacts(dir, jobID string) (int, error) {
	if dir == "" || jobID == "" {
		return 0, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, jobID+"*"))
	if err != nil {
		return 0, err
	}
	var firstErr error
	n := 0
	for _, m := range matches {
		if err := os.RemoveAll(m); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n++
	}
	return n, firstErr
}
