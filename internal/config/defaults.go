package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"teleube/internal/media"
)

const (
	DefaultDownloadDir      = "downloads"
	DefaultMaxFileSize      = 50 * 1024 * 1024
	DefaultMaxDurationSec   = 1800
	DefaultQuality          = "720p"
	DefaultFetchTimeout     = "15m"
	DefaultProgressInterval = "2s"
	DefaultCancelPoll       = "250ms"
	DefaultJanitorSchedule  = "@every 30m"
	DefaultJanitorMaxAge    = "2h"
	DefaultStorageDriver    = "file"
	DefaultStoragePath      = "user_data.json"
	DefaultMetricsAddr      = "127.0.0.1:9090"
	DefaultPollTimeout      = "10s"
	DefaultLogLevel         = "info"
)

var ErrMissingToken = errors.New("telegram.token is required (or set BOT_TOKEN)")

// Normalize fills zero values with defaults. It does not validate.
func (c *Config) Normalize() {
	setStr := func(p *string, def string) {
		if strings.TrimSpace(*p) == "" {
			*p = def
		}
	}
	setStr(&c.Telegram.PollTimeout, DefaultPollTimeout)
	setStr(&c.Logging.Level, DefaultLogLevel)
	if !c.Logging.Console && !c.Logging.File.Enabled {
		c.Logging.Console = true
	}

	d := &c.Download
	setStr(&d.Dir, DefaultDownloadDir)
	if d.MaxFileSize <= 0 {
		d.MaxFileSize = DefaultMaxFileSize
	}
	if d.MaxDurationSec <= 0 {
		d.MaxDurationSec = DefaultMaxDurationSec
	}
	setStr(&d.DefaultQuality, DefaultQuality)
	if q, err := media.ParseQuality(d.DefaultQuality); err == nil {
		d.DefaultQuality = string(q)
	}
	setStr(&d.FetchTimeout, DefaultFetchTimeout)
	setStr(&d.ProgressInterval, DefaultProgressInterval)
	setStr(&d.CancelPoll, DefaultCancelPoll)
	setStr(&d.JanitorSchedule, DefaultJanitorSchedule)
	setStr(&d.JanitorMaxAge, DefaultJanitorMaxAge)

	setStr(&c.Storage.Driver, DefaultStorageDriver)
	setStr(&c.Storage.Path, DefaultStoragePath)
	setStr(&c.Metrics.Addr, DefaultMetricsAddr)
}

// ApplyEnv overlays the legacy environment variables. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("BOT_TOKEN"); ok && strings.TrimSpace(v) != "" {
		c.Telegram.Token = strings.TrimSpace(v)
	}
	if v, ok := lookup("ADMIN_USER_ID"); ok && strings.TrimSpace(v) != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("ADMIN_USER_ID: %w", err)
		}
		c.Telegram.AdminUserID = id
	}
	if v, ok := lookup("MAX_FILE_SIZE"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_FILE_SIZE: %w", err)
		}
		c.Download.MaxFileSize = n
	}
	if v, ok := lookup("DOWNLOAD_PATH"); ok && strings.TrimSpace(v) != "" {
		c.Download.Dir = strings.TrimSpace(v)
	}
	return nil
}

// Resolve validates c and returns its typed durations. Call after Normalize.
func (c *Config) Resolve() (Runtime, error) {
	var rt Runtime
	var errs []error
	// Normalize fills every duration, so empty only survives for optional ones.
	dur := func(path, raw string, dst *time.Duration, positive bool) {
		raw = strings.TrimSpace(raw)
		if raw == "" && !positive {
			return
		}
		d, err := time.ParseDuration(raw)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", path, raw))
		case d < 0, positive && d == 0:
			errs = append(errs, fmt.Errorf("%s: must be > 0, got %s", path, d))
		default:
			*dst = d
		}
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, ErrMissingToken)
	}
	dur("telegram.poll_timeout", c.Telegram.PollTimeout, &rt.PollTimeout, true)

	d := c.Download
	if d.MaxFileSize <= 0 {
		errs = append(errs, errors.New("download.max_file_size: must be > 0"))
	}
	if d.MaxDurationSec <= 0 {
		errs = append(errs, errors.New("download.max_duration_sec: must be > 0"))
	}
	rt.MaxDuration = time.Duration(d.MaxDurationSec) * time.Second
	if _, err := media.ParseQuality(d.DefaultQuality); err != nil {
		errs = append(errs, fmt.Errorf("download.default_quality: %w", err))
	}
	dur("download.fetch_timeout", d.FetchTimeout, &rt.FetchTimeout, false)
	dur("download.progress_interval", d.ProgressInterval, &rt.ProgressInterval, true)
	dur("download.cancel_poll", d.CancelPoll, &rt.CancelPoll, true)
	dur("download.janitor_max_age", d.JanitorMaxAge, &rt.JanitorMaxAge, true)

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "file", "json", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown %q", c.Storage.Driver))
	}
	dur("storage.busy_timeout", c.Storage.BusyTimeout, &rt.BusyTimeout, false)

	if err := errors.Join(errs...); err != nil {
		return Runtime{}, fmt.Errorf("invalid config: %w", err)
	}
	return rt, nil
}

// Validate is Resolve without the result; it is the reload validator.
func (c *Config) Validate() error {
	_, err := c.Resolve()
	return err
}
