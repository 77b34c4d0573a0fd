package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"teleube/internal/media"
	logx "teleube/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	def media.Quality
	now func() time.Time

	// mu serializes writers; reads go straight to the database.
	mu sync.Mutex
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	// FULL: a returned mutation must survive power loss.
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	log.Info("usage store loaded", logx.String("path", path), logx.String("driver", "sqlite"))
	return &sqliteStore{db: db, log: log, def: cfg.DefaultQuality, now: time.Now}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) EnsureUser(ctx context.Context, id string) (UserRecord, error) {
	id, err := normalizeID(id)
	if err != nil {
		return UserRecord{}, err
	}
	s.mu.Lock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users(id, preferred_quality, joined_date) VALUES(?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		id, string(s.def), Stamp(s.now()).String(),
	)
	s.mu.Unlock()
	if err != nil {
		return UserRecord{}, err
	}
	return s.Get(ctx, id)
}

func (s *sqliteStore) Get(ctx context.Context, id string) (UserRecord, error) {
	id, err := normalizeID(id)
	if err != nil {
		return UserRecord{}, err
	}
	var (
		u      = UserRecord{ID: id}
		q      string
		joined string
		last   sql.NullString
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT downloads, total_size, preferred_quality, joined_date, last_download FROM users WHERE id = ?`, id,
	).Scan(&u.Downloads, &u.TotalSize, &q, &joined, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return UserRecord{}, ErrNotFound
	}
	if err != nil {
		return UserRecord{}, err
	}
	u.PreferredQuality = media.Quality(q)
	if u.JoinedDate, err = ParseTimestamp(joined); err != nil {
		return UserRecord{}, err
	}
	if last.Valid && last.String != "" {
		ts, err := ParseTimestamp(last.String)
		if err != nil {
			return UserRecord{}, err
		}
		u.LastDownload = &ts
	}
	return u, nil
}

func (s *sqliteStore) RecordSuccess(ctx context.Context, id string, n int64) (UserRecord, error) {
	id, err := normalizeID(id)
	if err != nil {
		return UserRecord{}, err
	}
	if n < 0 {
		n = 0
	}
	now := Stamp(s.now()).String()
	s.mu.Lock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users(id, downloads, total_size, preferred_quality, joined_date, last_download)
		 VALUES(?, 1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   downloads = downloads + 1,
		   total_size = total_size + excluded.total_size,
		   last_download = excluded.last_download`,
		id, n, string(s.def), now, now,
	)
	s.mu.Unlock()
	if err != nil {
		return UserRecord{}, err
	}
	return s.Get(ctx, id)
}

func (s *sqliteStore) SetPreferredQuality(ctx context.Context, id string, q media.Quality) error {
	id, err := normalizeID(id)
	if err != nil {
		return err
	}
	if !q.Valid() {
		return fmt.Errorf("storage: invalid quality %q", q)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users(id, preferred_quality, joined_date) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET preferred_quality = excluded.preferred_quality`,
		id, string(q), Stamp(s.now()).String(),
	)
	return err
}

func (s *sqliteStore) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(downloads), 0), COALESCE(SUM(total_size), 0) FROM users`,
	).Scan(&t.Users, &t.Downloads, &t.Bytes)
	return t, err
}
