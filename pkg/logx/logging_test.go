package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	// must not panic
	l.Info("hello", String("k", "v"))
}

func TestWithFieldsAreApplied(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "job"))
	l.Warn("fetch failed", Int64("user", 42), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal log line: %v (%q)", err, buf.String())
	}
	if m["comp"] != "job" || m["message"] != "fetch failed" || m["err"] != "boom" {
		t.Fatalf("unexpected log line: %v", m)
	}
	if m["user"].(float64) != 42 {
		t.Fatalf("user = %v, want 42", m["user"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "warn")
	l.Info("skipped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	if !l.Enabled(LevelError) || l.Enabled(LevelDebug) {
		t.Fatalf("Enabled reports wrong levels")
	}
}

func TestParseLevelDefault(t *testing.T) {
	if got := parseLevel("nonsense", LevelWarn); got != LevelWarn {
		t.Fatalf("parseLevel default = %v", got)
	}
	if got := parseLevel(" warning ", LevelInfo); got != LevelWarn {
		t.Fatalf("parseLevel(warning) = %v", got)
	}
}

func TestApplyReroutesDerivedLoggers(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.log")
	second := filepath.Join(dir, "second.log")

	svc, root := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: first}})
	log := root.With(String("comp", "job"))
	log.Debug("hidden")
	log.Info("one")

	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: second}})
	log.Debug("two")
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close(), "second close is a no-op")

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	require.Contains(t, string(a), `"message":"one"`)
	require.NotContains(t, string(a), "hidden")
	require.NotContains(t, string(a), `"two"`)

	b, err := os.ReadFile(second)
	require.NoError(t, err)
	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(b), &line))
	require.Equal(t, "two", line["message"])
	require.Equal(t, "job", line["comp"])
	require.True(t, strings.HasPrefix(line["caller"].(string), "logging_test.go:"), "caller = %v", line["caller"])
}

func TestApplyKeepsSameFileOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	cfg := Config{Level: "info", File: FileConfig{Enabled: true, Path: path}}
	svc, log := New(cfg)
	defer svc.Close()

	log.Info("before")
	svc.Apply(cfg)
	log.Info("after")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 2, bytes.Count(data, []byte("\n")))
}
