package app

import (
	"context"
	"fmt"
	"time"

	"teleube/internal/config"
	"teleube/internal/extract"
	"teleube/internal/janitor"
	"teleube/internal/job"
	"teleube/internal/media"
	"teleube/internal/metrics"
	"teleube/internal/observability"
	"teleube/internal/orchestrator"
	rtsup "teleube/internal/runtime/supervisor"
	"teleube/internal/storage"
	kit "teleube/internal/transport"
	telegram "teleube/internal/transport/telegram/adapter"
	"teleube/internal/transport/telegram/router"
	logx "teleube/pkg/logx"
)

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor
	jobs *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	adapter kit.Adapter
	orch    *orchestrator.Orchestrator
	cmdm    *router.Manager
	jan     *janitor.Service
	obs     *observability.Service

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	rt, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	store, err := storage.Open(storage.Config{
		Driver:         cfg.Storage.Driver,
		Path:           cfg.Storage.Path,
		BusyTimeout:    rt.BusyTimeout,
		DefaultQuality: media.Quality(cfg.Download.DefaultQuality),
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open usage store: %w", err)
	}
	log.Info("storage opened", logx.String("driver", cfg.Storage.Driver), logx.String("path", cfg.Storage.Path))

	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: rt.PollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	ext := extract.NewYTDLP(extract.YTDLPOptions{
		AutoInstall: cfg.Extractor.AutoInstall,
		CancelPoll:  rt.CancelPoll,
		Log:         log.With(logx.String("comp", "ytdlp")),
	})
	orch := orchestrator.New(store, ext,
		orchestrator.WithLogger(log.With(logx.String("comp", "jobs"))),
		orchestrator.WithObserver(metrics.Recorder{}),
		orchestrator.WithLimits(jobLimits(cfg, rt)),
		orchestrator.WithDefaultQuality(media.Quality(cfg.Download.DefaultQuality)),
	)

	cmdm := router.New(log.With(logx.String("comp", "commands")), ad,
		router.WithDeniedText(textAdminOnly),
		router.WithObserver(func(cmd string, res router.Result, took time.Duration) {
			metrics.RecordCommand(cmd, string(res), took)
		}),
	)
	cmdm.SetAdmins(adminIDs(cfg))

	jan := janitor.New(janitorConfig(cfg, rt), log.With(logx.String("comp", "janitor")))
	jan.OnRemoved = metrics.RecordJanitorRemoved

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		adapter: ad,
		orch:    orch,
		cmdm:    cmdm,
		jan:     jan,
		updates: make(chan kit.Update, 256),
	}
	if cfg.Metrics.Enabled {
		a.obs = observability.New(observability.Config{
			Addr:  cfg.Metrics.Addr,
			Pprof: cfg.Metrics.Pprof,
		}, log.With(logx.String("comp", "observability")))
	}
	return a, nil
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func jobLimits(cfg *config.Config, rt config.Runtime) job.Limits {
	return job.Limits{
		Dir:              cfg.Download.Dir,
		MaxFileSize:      cfg.Download.MaxFileSize,
		MaxDuration:      rt.MaxDuration,
		FetchTimeout:     rt.FetchTimeout,
		ProgressInterval: rt.ProgressInterval,
	}
}

func janitorConfig(cfg *config.Config, rt config.Runtime) janitor.Config {
	return janitor.Config{
		Dir:      cfg.Download.Dir,
		Schedule: cfg.Download.JanitorSchedule,
		MaxAge:   rt.JanitorMaxAge,
	}
}

func adminIDs(cfg *config.Config) []int64 {
	if cfg.Telegram.AdminUserID == 0 {
		return nil
	}
	return []int64{cfg.Telegram.AdminUserID}
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// launch runs a job under the jobs supervisor; job errors never stop the app.
func (a *App) launch(name string, fn func(ctx context.Context) error) bool {
	if a.jobs == nil || a.jobs.Context().Err() != nil {
		return false
	}
	a.jobs.Go(name, fn)
	return true
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.jobs = rtsup.New(a.sup.Context(), rtsup.WithLogger(a.log.With(logx.String("comp", "jobs"))))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	bot := NewBot(a.orch, a.launch, a.log.With(logx.String("comp", "bot")))
	a.cmdm.SetRegistry(a.sup.Context(), bot.Commands(), bot.Callbacks())

	if err := a.jan.Start(a.sup.Context()); err != nil {
		return err
	}

	if a.obs != nil {
		if err := a.obs.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Run("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancelling the app context also cancels running jobs; they clean their
	// files up on the way out.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("jobs", 5*time.Second, func(c context.Context) error { return a.jobs.Wait(c) })
	step("janitor", time.Second, func(c context.Context) error { a.jan.Stop(c); return nil })
	step("observability", time.Second, func(c context.Context) error {
		if a.obs == nil {
			return nil
		}
		return a.obs.Stop(c)
	})
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
