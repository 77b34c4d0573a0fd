package config

import "time"

// Config is the on-disk configuration (JSON or YAML). Durations are Go
// duration strings ("250ms", "2s", "15m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Download  DownloadConfig  `json:"download"`
	Extractor ExtractorConfig `json:"extractor"`
	Storage   StorageConfig   `json:"storage"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminUserID may use /admin. 0 disables the command.
	AdminUserID int64 `json:"admin_user_id"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DownloadConfig holds the job limits. Changes apply to jobs submitted after
// a reload; running jobs keep the limits they started with.
type DownloadConfig struct {
	Dir            string `json:"dir"`
	MaxFileSize    int64  `json:"max_file_size"`
	MaxDurationSec int    `json:"max_duration_sec"`
	DefaultQuality string `json:"default_quality"`

	FetchTimeout     string `json:"fetch_timeout"`
	ProgressInterval string `json:"progress_interval"`
	CancelPoll       string `json:"cancel_poll"`

	JanitorSchedule string `json:"janitor_schedule"`
	JanitorMaxAge   string `json:"janitor_max_age"`
}

type ExtractorConfig struct {
	// AutoInstall fetches a yt-dlp binary when none is found on PATH.
	AutoInstall bool `json:"auto_install"`
}

// StorageConfig selects the usage store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "user_data.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	// Pprof also mounts /debug/pprof; only allowed on loopback addrs.
	Pprof bool `json:"pprof,omitempty"`
}

// Runtime is the typed view of a validated Config.
type Runtime struct {
	PollTimeout time.Duration

	MaxDuration      time.Duration
	FetchTimeout     time.Duration
	ProgressInterval time.Duration
	CancelPoll       time.Duration
	JanitorMaxAge    time.Duration
	BusyTimeout      time.Duration
}
