package app

import (
	"context"
	"strings"

	"teleube/internal/config"
	"teleube/internal/media"
	logx "teleube/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes the live-reloadable sections into running components.
// Jobs already running keep the limits they were started with.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	if newCfg == nil {
		return
	}
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	rt, err := newCfg.Resolve()
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}

	a.logs.Apply(logConfig(newCfg))
	a.cmdm.SetAdmins(adminIDs(newCfg))
	a.orch.SetLimits(jobLimits(newCfg, rt))
	a.orch.SetDefaultQuality(media.Quality(newCfg.Download.DefaultQuality))
	if err := a.jan.Apply(janitorConfig(newCfg, rt)); err != nil {
		a.log.Warn("janitor schedule rejected", logx.Err(err))
	}

	if r := config.RestartRequired(sections); len(r) > 0 {
		a.log.Warn("restart required for changes to take effect", logx.String("sections", strings.Join(r, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
