package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"teleube/internal/media"
	logx "teleube/pkg/logx"
)

// fileStore keeps the whole mapping in memory and rewrites the backing
// document on each mutation. Writes are serialized by mu.
type fileStore struct {
	path string
	def  media.Quality
	log  logx.Logger
	now  func() time.Time

	mu     sync.Mutex
	users  map[string]UserRecord
	closed bool
}

func openFile(cfg Config, log logx.Logger) (*fileStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	users, err := loadDocument(path)
	if err != nil {
		return nil, err
	}
	log.Info("usage store loaded", logx.String("path", path), logx.Int("users", len(users)))
	return &fileStore{path: path, def: cfg.DefaultQuality, log: log, now: time.Now, users: users}, nil
}

// loadDocument treats a missing or blank file as an empty store. Anything
// else that fails to decode is ErrCorrupt.
func loadDocument(path string) (map[string]UserRecord, error) {
	users := map[string]UserRecord{}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return users, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return users, nil
	}
	if err := json.Unmarshal(b, &users); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	for id, u := range users {
		u.ID = id
		users[id] = u
	}
	return users, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fileStore) EnsureUser(ctx context.Context, id string) (UserRecord, error) {
	id, err := normalizeID(id)
	if err != nil {
		return UserRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return UserRecord{}, ErrClosed
	}
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	u := s.newRecord(id)
	if err := s.commitLocked(u); err != nil {
		return UserRecord{}, err
	}
	return u, nil
}

func (s *fileStore) Get(ctx context.Context, id string) (UserRecord, error) {
	id, err := normalizeID(id)
	if err != nil {
		return UserRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return UserRecord{}, ErrNotFound
	}
	return u, nil
}

func (s *fileStore) RecordSuccess(ctx context.Context, id string, n int64) (UserRecord, error) {
	id, err := normalizeID(id)
	if err != nil {
		return UserRecord{}, err
	}
	if n < 0 {
		n = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return UserRecord{}, ErrClosed
	}
	u, ok := s.users[id]
	if !ok {
		u = s.newRecord(id)
	}
	u.Downloads++
	u.TotalSize += n
	ts := Stamp(s.now())
	u.LastDownload = &ts
	if err := s.commitLocked(u); err != nil {
		return UserRecord{}, err
	}
	return u, nil
}

func (s *fileStore) SetPreferredQuality(ctx context.Context, id string, q media.Quality) error {
	id, err := normalizeID(id)
	if err != nil {
		return err
	}
	if !q.Valid() {
		return fmt.Errorf("storage: invalid quality %q", q)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	u, ok := s.users[id]
	if !ok {
		u = s.newRecord(id)
	}
	u.PreferredQuality = q
	return s.commitLocked(u)
}

func (s *fileStore) Totals(ctx context.Context) (Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := Totals{Users: len(s.users)}
	for _, u := range s.users {
		t.Downloads += u.Downloads
		t.Bytes += u.TotalSize
	}
	return t, nil
}

func (s *fileStore) newRecord(id string) UserRecord {
	return UserRecord{ID: id, PreferredQuality: s.def, JoinedDate: Stamp(s.now())}
}

// commitLocked writes the mapping with u applied and only then updates memory,
// so a failed write leaves both views unchanged.
func (s *fileStore) commitLocked(u UserRecord) error {
	next := make(map[string]UserRecord, len(s.users)+1)
	for k, v := range s.users {
		next[k] = v
	}
	next[u.ID] = u
	if err := writeDocument(s.path, next); err != nil {
		s.log.Error("usage store write failed", logx.String("path", s.path), logx.Err(err))
		return err
	}
	s.users = next
	return nil
}

func writeDocument(path string, users map[string]UserRecord) error {
	b, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if err := renameio.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
