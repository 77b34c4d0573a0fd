package janitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "teleube/pkg/logx"
)

func write(t *testing.T, p string, age time.Duration) {
	t.Helper()
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	mt := time.Now().Add(-age)
	if err := os.Chtimes(p, mt, mt); err != nil {
		t.Fatal(err)
	}
}

func TestSweepRemovesOnlyStaleFiles(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "old.mp4"), 3*time.Hour)
	write(t, filepath.Join(dir, "old.mp4.part"), 5*time.Hour)
	write(t, filepath.Join(dir, "fresh.mp4"), time.Minute)
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	s := New(Config{Dir: dir, MaxAge: 2 * time.Hour}, logx.Nop())
	n, err := s.Sweep()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("removed %d, want 2", n)
	}
	left, _ := os.ReadDir(dir)
	if len(left) != 2 {
		t.Fatalf("left = %v", left)
	}
}

func TestSweepMissingDir(t *testing.T) {
	s := New(Config{Dir: filepath.Join(t.TempDir(), "nope")}, logx.Nop())
	if n, err := s.Sweep(); n != 0 || err != nil {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestStartRunsInitialSweep(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "stale.webm"), 10*time.Hour)

	got := make(chan int, 4)
	s := New(Config{Dir: dir, Schedule: "@every 1h", MaxAge: time.Hour}, logx.Nop())
	s.OnRemoved = func(n int) { got <- n }
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background())

	select {
	case n := <-got:
		if n != 1 {
			t.Fatalf("initial sweep removed %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no initial sweep")
	}
	if err := s.Apply(Config{Dir: dir, Schedule: "@every 2h", MaxAge: time.Hour}); err != nil {
		t.Fatal(err)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := New(Config{Dir: t.TempDir(), Schedule: "every tuesday"}, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected schedule parse error")
	}
}
