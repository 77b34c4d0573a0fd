// Package storage persists per-user usage counters and preferences.
//
// Two drivers are available:
//   - "file": a single JSON document keyed by user id, rewritten atomically on
//     every mutation (compatible with the legacy user_data.json layout)
//   - "sqlite": a SQLite database file (pure Go driver)
//
// Every mutation is durable before the call returns.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"teleube/internal/media"
)

var (
	ErrNotFound = errors.New("storage: user not found")
	ErrCorrupt  = errors.New("storage: corrupt store")
	ErrClosed   = errors.New("storage: closed")
)

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// DefaultQuality is assigned to newly created users.
	DefaultQuality media.Quality
}

type UserRecord struct {
	ID               string        `json:"-"`
	Downloads        int64         `json:"downloads"`
	TotalSize        int64         `json:"total_size"`
	PreferredQuality media.Quality `json:"preferred_quality"`
	JoinedDate       Timestamp     `json:"joined_date"`
	LastDownload     *Timestamp    `json:"last_download"`
}

type Totals struct {
	Users     int
	Downloads int64
	Bytes     int64
}

// Store is the usage persistence API used by the orchestrator.
type Store interface {
	// EnsureUser creates a zeroed record if absent and returns the current one.
	EnsureUser(ctx context.Context, id string) (UserRecord, error)
	// Get returns ErrNotFound for unknown users.
	Get(ctx context.Context, id string) (UserRecord, error)
	// RecordSuccess bumps the download count, adds bytes and stamps last_download.
	RecordSuccess(ctx context.Context, id string, bytes int64) (UserRecord, error)
	SetPreferredQuality(ctx context.Context, id string, q media.Quality) error
	Totals(ctx context.Context) (Totals, error)
	Close() error
}

// Timestamp is written as RFC 3339 and also reads the zone-less ISO-8601 form
// produced by the legacy bot.
type Timestamp struct {
	time.Time
}

const naiveISO = "2006-01-02T15:04:05.999999999"

func Stamp(t time.Time) Timestamp { return Timestamp{Time: t.UTC()} }

func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Timestamp{Time: t}, nil
	}
	t, err := time.ParseInLocation(naiveISO, s, time.Local)
	if err != nil {
		return Timestamp{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return Timestamp{Time: t}, nil
}

func (t Timestamp) String() string { return t.Time.Format(time.RFC3339Nano) }

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func normalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("storage: empty user id")
	}
	return id, nil
}
