package storage

import (
	"errors"
	"strings"

	"teleube/internal/media"
	logx "teleube/pkg/logx"
)

// Open initializes the configured store. An empty driver selects "file".
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	if !cfg.DefaultQuality.Valid() {
		cfg.DefaultQuality = media.Quality720p
	}

	switch driver {
	case "", "file", "json":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
