package config

import (
	"reflect"

	logx "teleube/pkg/logx"
)

// SummarizeChange lists the top-level sections that differ and returns log
// fields that are safe to emit (the bot token is never included).
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var changed []string
	var fields []logx.Field

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
		changed = append(changed, "telegram")
		fields = append(fields, logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token))
	}
	if oldCfg.Telegram.AdminUserID != newCfg.Telegram.AdminUserID {
		changed = append(changed, "admin")
		fields = append(fields, logx.Bool("telegram.admin_set", newCfg.Telegram.AdminUserID != 0))
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields, logx.String("logging.level", newCfg.Logging.Level))
	}
	if oldCfg.Download != newCfg.Download {
		changed = append(changed, "download")
		fields = append(fields,
			logx.String("download.dir", newCfg.Download.Dir),
			logx.Int64("download.max_file_size", newCfg.Download.MaxFileSize),
			logx.Int("download.max_duration_sec", newCfg.Download.MaxDurationSec),
			logx.String("download.default_quality", newCfg.Download.DefaultQuality),
		)
	}
	if oldCfg.Extractor != newCfg.Extractor {
		changed = append(changed, "extractor")
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
	}
	return changed, fields
}

// RestartRequired reports sections that are only read at startup.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "telegram", "storage", "extractor", "metrics":
			out = append(out, s)
		}
	}
	return out
}
