// Package janitor removes download artifacts left behind by crashed or
// killed processes. Live jobs clean up after themselves; the janitor only
// touches files older than MaxAge.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "teleube/pkg/logx"
)

const (
	DefaultSchedule = "@every 30m"
	DefaultMaxAge   = 2 * time.Hour
)

type Config struct {
	Dir      string
	Schedule string
	MaxAge   time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Schedule) == "" {
		c.Schedule = DefaultSchedule
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	return c
}

type Service struct {
	log    logx.Logger
	parser cron.Parser
	now    func() time.Time
	// OnRemoved, when set, is told how many files each sweep deleted.
	OnRemoved func(n int)

	mu  sync.Mutex
	cfg Config
	c   *cron.Cron
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
	}
}

// Start sweeps once immediately and then on the configured schedule.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	if err := s.startLocked(); err != nil {
		return err
	}
	go s.sweepLogged()
	s.log.Info("janitor started", logx.String("dir", s.cfg.Dir), logx.String("schedule", s.cfg.Schedule), logx.Duration("max_age", s.cfg.MaxAge))
	return nil
}

func (s *Service) startLocked() error {
	sched, err := s.parser.Parse(s.cfg.Schedule)
	if err != nil {
		return fmt.Errorf("janitor schedule %q: %w", s.cfg.Schedule, err)
	}
	c := cron.New(cron.WithParser(s.parser))
	c.Schedule(sched, cron.FuncJob(s.sweepLogged))
	c.Start()
	s.c = c
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Apply swaps the config; a running schedule is restarted when it changed.
func (s *Service) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.c == nil || old.Schedule == cfg.Schedule {
		return nil
	}
	<-s.c.Stop().Done()
	s.c = nil
	return s.startLocked()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) sweepLogged() {
	n, err := s.Sweep()
	if err != nil {
		s.log.Warn("janitor sweep failed", logx.Err(err))
	}
	if n > 0 {
		s.log.Info("janitor removed stale files", logx.Int("count", n))
	}
	if s.OnRemoved != nil {
		s.OnRemoved(n)
	}
}

// Sweep deletes regular files in Dir whose mtime is older than MaxAge.
// A missing directory is not an error.
func (s *Service) Sweep() (int, error) {
	cfg := s.config()
	if cfg.Dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(cfg.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-cfg.MaxAge)
	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(cfg.Dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
