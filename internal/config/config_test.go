package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	p := writeFile(t, "config.json", `{"telegram": {"token": "abc"}}`)
	m := NewConfigManager(p)
	m.SetEnv(envMap(nil))
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	d := cfg.Download
	if d.Dir != "downloads" || d.MaxFileSize != 52428800 || d.MaxDurationSec != 1800 || d.DefaultQuality != "720p" {
		t.Fatalf("download defaults = %+v", d)
	}
	if cfg.Storage.Driver != "file" || cfg.Storage.Path != "user_data.json" {
		t.Fatalf("storage defaults = %+v", cfg.Storage)
	}
	rt, err := cfg.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if rt.FetchTimeout != 15*time.Minute || rt.ProgressInterval != 2*time.Second || rt.CancelPoll != 250*time.Millisecond {
		t.Fatalf("runtime = %+v", rt)
	}
	if rt.MaxDuration != 30*time.Minute {
		t.Fatalf("max duration = %v", rt.MaxDuration)
	}
}

func TestYAMLAndEnvOverrides(t *testing.T) {
	p := writeFile(t, "config.yaml", strings.Join([]string{
		"telegram:",
		"  token: from-file",
		"download:",
		"  default_quality: audio",
		"  progress_interval: 1s",
		"storage:",
		"  driver: sqlite",
		"  path: users.db",
	}, "\n"))
	m := NewConfigManager(p)
	m.SetEnv(envMap(map[string]string{
		"BOT_TOKEN":     "from-env",
		"ADMIN_USER_ID": "12345",
		"MAX_FILE_SIZE": "1000",
		"DOWNLOAD_PATH": "/tmp/dl",
	}))
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "from-env" || cfg.Telegram.AdminUserID != 12345 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Download.MaxFileSize != 1000 || cfg.Download.Dir != "/tmp/dl" || cfg.Download.DefaultQuality != "mp3" {
		t.Fatalf("download = %+v", cfg.Download)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestEnvOnly(t *testing.T) {
	m := NewConfigManager("")
	m.SetEnv(envMap(map[string]string{"BOT_TOKEN": "t"}))
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "t" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if err := m.Watch(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":   `{"telegram": {"token": "x"}, "plugins": {}}`,
		"trailing data": `{"telegram": {"token": "x"}} {}`,
		"bad duration":  `{"telegram": {"token": "x"}, "download": {"fetch_timeout": "soon"}}`,
		"negative":      `{"telegram": {"token": "x"}, "download": {"fetch_timeout": "-1s"}}`,
		"zero interval": `{"telegram": {"token": "x"}, "download": {"progress_interval": "0s"}}`,
		"bad quality":   `{"telegram": {"token": "x"}, "download": {"default_quality": "4k"}}`,
		"bad driver":    `{"telegram": {"token": "x"}, "storage": {"driver": "redis"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			m := NewConfigManager(writeFile(t, "config.json", body))
			m.SetEnv(envMap(nil))
			if _, err := m.Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestMissingTokenIsReported(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.json", `{}`))
	m.SetEnv(envMap(nil))
	_, err := m.Load()
	if !errors.Is(err, ErrMissingToken) {
		t.Fatalf("err = %v", err)
	}
}

func TestBadAdminEnv(t *testing.T) {
	m := NewConfigManager("")
	m.SetEnv(envMap(map[string]string{"BOT_TOKEN": "t", "ADMIN_USER_ID": "root"}))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected ADMIN_USER_ID parse error")
	}
}

func TestPublishKeepsNewest(t *testing.T) {
	m := NewConfigManager("")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	a.Download.Dir = "a"
	b.Download.Dir = "b"
	m.publish(a)
	m.publish(b)
	if got := <-ch; got.Download.Dir != "b" {
		t.Fatalf("got %q, want newest", got.Download.Dir)
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed")
	}
}

func TestWatchPublishesReload(t *testing.T) {
	p := writeFile(t, "config.json", `{"telegram": {"token": "x"}}`)
	m := NewConfigManager(p)
	m.SetEnv(envMap(nil))
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		// Rewrite until the watcher is up and picks the change.
		_ = os.WriteFile(p, []byte(`{"telegram": {"token": "x"}, "download": {"dir": "elsewhere"}}`), 0o600)
		select {
		case cfg := <-ch:
			if cfg.Download.Dir != "elsewhere" {
				t.Fatalf("reloaded dir = %q", cfg.Download.Dir)
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("no reload published")
		}
	}
}

func TestSummarizeChange(t *testing.T) {
	a := &Config{}
	a.Normalize()
	b := *a
	b.Download.MaxFileSize = 10
	b.Telegram.Token = "secret"
	changed, fields := SummarizeChange(a, &b)
	if len(changed) != 2 || changed[0] != "telegram" || changed[1] != "download" {
		t.Fatalf("changed = %v", changed)
	}
	if len(fields) == 0 {
		t.Fatal("no log fields")
	}
	if r := RestartRequired(changed); len(r) != 1 || r[0] != "telegram" {
		t.Fatalf("restart required = %v", r)
	}
}
