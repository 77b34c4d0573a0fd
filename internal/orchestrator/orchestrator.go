// Package orchestrator is the single entry point the chat layer uses to
// submit, cancel and inspect download jobs.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"

	"teleube/internal/extract"
	"teleube/internal/job"
	"teleube/internal/media"
	"teleube/internal/progress"
	"teleube/internal/storage"
	logx "teleube/pkg/logx"
)

// Observer receives admission and outcome events (metrics).
type Observer interface {
	Admitted(quality string)
	Rejected()
	Finished(out job.Outcome)
}

type nopObserver struct{}

func (nopObserver) Admitted(string)      {}
func (nopObserver) Rejected()            {}
func (nopObserver) Finished(job.Outcome) {}

type Request struct {
	UserID string
	URL    string
	// Quality overrides the user's stored preference when set.
	Quality *media.Quality
	Sink    progress.Sink
	Deliver job.DeliverFunc
	Observe func(job.State)
}

type AdminStats struct {
	TotalUsers     int
	TotalDownloads int64
	TotalBytes     int64
	ActiveJobs     int
}

type Orchestrator struct {
	store storage.Store
	ext   extract.Extractor
	reg   *job.Registry
	log   logx.Logger
	obs   Observer

	mu     sync.RWMutex
	limits job.Limits
	def    media.Quality
}

type Option func(*Orchestrator)

func WithLogger(l logx.Logger) Option     { return func(o *Orchestrator) { o.log = l } }
func WithObserver(obs Observer) Option    { return func(o *Orchestrator) { o.obs = obs } }
func WithLimits(l job.Limits) Option      { return func(o *Orchestrator) { o.limits = l } }
func WithRegistry(r *job.Registry) Option { return func(o *Orchestrator) { o.reg = r } }

// WithDefaultQuality sets the tier used when neither the request nor the
// user's preference names a valid one.
func WithDefaultQuality(q media.Quality) Option {
	return func(o *Orchestrator) {
		if q.Valid() {
			o.def = q
		}
	}
}

func New(store storage.Store, ext extract.Extractor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store: store,
		ext:   ext,
		reg:   job.NewRegistry(),
		log:   logx.Nop(),
		obs:   nopObserver{},
		def:   media.Quality720p,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	return o
}

// SetLimits applies to jobs submitted after the call.
func (o *Orchestrator) SetLimits(l job.Limits) {
	o.mu.Lock()
	o.limits = l
	o.mu.Unlock()
}

func (o *Orchestrator) SetDefaultQuality(q media.Quality) {
	if !q.Valid() {
		return
	}
	o.mu.Lock()
	o.def = q
	o.mu.Unlock()
}

func (o *Orchestrator) Limits() job.Limits {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.limits
}

func (o *Orchestrator) defaultQuality() media.Quality {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.def
}

// Submit runs one job to completion and returns its outcome. A user with an
// active job is rejected with AdmissionDenied.
func (o *Orchestrator) Submit(ctx context.Context, req Request) job.Outcome {
	userID := strings.TrimSpace(req.UserID)
	url := strings.TrimSpace(req.URL)
	if userID == "" || url == "" {
		return job.Outcome{State: job.StateFailed, Err: &job.Error{Kind: job.ProbeFailed, Err: errors.New("missing user or url")}}
	}

	rec, err := o.store.EnsureUser(ctx, userID)
	if err != nil {
		o.log.Warn("ensure user failed", logx.String("user", userID), logx.Err(err))
	}
	q := o.resolveQuality(req.Quality, rec.PreferredQuality)

	tok, ok := o.reg.TryAdmit(userID)
	if !ok {
		o.obs.Rejected()
		o.log.Debug("admission denied", logx.String("user", userID))
		return job.Outcome{State: job.StateFailed, Err: &job.Error{Kind: job.AdmissionDenied}}
	}
	defer o.reg.Release(tok)

	j, err := job.New(tok, url, q)
	if err != nil {
		return job.Outcome{State: job.StateFailed, Err: &job.Error{Kind: job.FetchFailed, Err: err}}
	}
	o.obs.Admitted(string(q))
	o.log.Info("job admitted",
		logx.String("job", j.ID),
		logx.String("user", userID),
		logx.String("quality", string(q)),
	)

	env := job.Env{
		Extractor: o.ext,
		Limits:    o.Limits(),
		Record:    o.record,
		Log:       o.log,
	}
	out := job.Run(ctx, j, env, job.Hooks{Sink: req.Sink, Deliver: req.Deliver, Observe: req.Observe})
	o.obs.Finished(out)
	return out
}

// record survives cancellation of the submit context: the file is already
// delivered at this point.
func (o *Orchestrator) record(ctx context.Context, userID string, n int64) error {
	_, err := o.store.RecordSuccess(context.WithoutCancel(ctx), userID, n)
	return err
}

func (o *Orchestrator) resolveQuality(override *media.Quality, preferred media.Quality) media.Quality {
	if override != nil && override.Valid() {
		return *override
	}
	if preferred.Valid() {
		return preferred
	}
	return o.defaultQuality()
}

// Cancel flags the user's active job; false when there is none.
func (o *Orchestrator) Cancel(userID string) bool {
	ok := o.reg.Cancel(strings.TrimSpace(userID))
	if ok {
		o.log.Info("job cancel requested", logx.String("user", userID))
	}
	return ok
}

// Stats returns storage.ErrNotFound for users never seen.
func (o *Orchestrator) Stats(ctx context.Context, userID string) (storage.UserRecord, error) {
	return o.store.Get(ctx, strings.TrimSpace(userID))
}

// EnsureUser registers a first interaction (e.g. /start).
func (o *Orchestrator) EnsureUser(ctx context.Context, userID string) (storage.UserRecord, error) {
	return o.store.EnsureUser(ctx, strings.TrimSpace(userID))
}

func (o *Orchestrator) AdminStats(ctx context.Context) (AdminStats, error) {
	t, err := o.store.Totals(ctx)
	if err != nil {
		return AdminStats{}, err
	}
	return AdminStats{
		TotalUsers:     t.Users,
		TotalDownloads: t.Downloads,
		TotalBytes:     t.Bytes,
		ActiveJobs:     o.reg.Active(),
	}, nil
}

func (o *Orchestrator) SetPreferredQuality(ctx context.Context, userID string, q media.Quality) error {
	return o.store.SetPreferredQuality(ctx, strings.TrimSpace(userID), q)
}

func (o *Orchestrator) ActiveJobs() int { return o.reg.Active() }
