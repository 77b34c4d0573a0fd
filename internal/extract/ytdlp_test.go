package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"teleube/internal/media"
)

func touch(t *testing.T, p string) {
	t.Helper()
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLocateOutputSkipsPartialsAndPrefersContainer(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "job1")
	touch(t, base+".webm.part")
	touch(t, base+".m4a")
	touch(t, base+".mp4")
	touch(t, filepath.Join(dir, "other.mp4"))

	got, err := locateOutput(base, "mp4")
	if err != nil {
		t.Fatalf("locateOutput: %v", err)
	}
	if filepath.Base(got) != "job1.mp4" {
		t.Fatalf("got %s", got)
	}
}

func TestLocateOutputMissing(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "job2")
	touch(t, base+".mp4.ytdl")
	if _, err := locateOutput(base, "mp4"); err == nil {
		t.Fatalf("expected error when only partial files exist")
	}
}

func TestMetadataFromInfo(t *testing.T) {
	title, up, dur := "Clip", "Someone", 61.5
	md := metadataFromInfo(&ytdlp.ExtractedInfo{ID: "abc", Title: &title, Uploader: &up, Duration: &dur})
	if md.Title != "Clip" || md.Uploader != "Someone" || md.ID != "abc" {
		t.Fatalf("md = %+v", md)
	}
	if md.Duration != 61500*time.Millisecond {
		t.Fatalf("duration = %v", md.Duration)
	}
	if empty := metadataFromInfo(&ytdlp.ExtractedInfo{}); empty.Duration != 0 || empty.Title != "" {
		t.Fatalf("empty = %+v", empty)
	}
}

func TestFormatETA(t *testing.T) {
	cases := map[time.Duration]string{
		12 * time.Second: "00:12",
		90 * time.Second: "01:30",
		time.Hour + 2*time.Minute + 3*time.Second: "1:02:03",
	}
	for in, want := range cases {
		if got := formatETA(in); got != want {
			t.Fatalf("formatETA(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildCommandDoesNotShareSelection(t *testing.T) {
	// Building an audio command must not alter a later video selection.
	_ = buildCommand(ytdlp.New(), FetchRequest{URL: "u", Selection: media.Select(media.QualityAudio), OutputBase: "/tmp/a"})
	video := media.Select(media.Quality720p)
	if video.AudioOnly || video.Container != "mp4" {
		t.Fatalf("video selection polluted: %+v", video)
	}
}

func TestProgressFromUpdate(t *testing.T) {
	now := time.Unix(100, 0)
	started := now.Add(-2 * time.Second)

	ev, ok := progressFromUpdate(ytdlp.ProgressUpdate{
		Status: ytdlp.ProgressStatusDownloading, DownloadedBytes: 512, TotalBytes: 1024, Started: started,
	}, now)
	if !ok || ev.TotalBytes == nil || *ev.TotalBytes != 1024 || ev.PercentStr != "50.00%" || ev.Speed != "256 B/s" || ev.ETA == "" {
		t.Fatalf("known total: %+v %v", ev, ok)
	}

	ev, ok = progressFromUpdate(ytdlp.ProgressUpdate{Status: ytdlp.ProgressStatusDownloading, DownloadedBytes: 5 << 20}, now)
	if !ok || ev.TotalBytes != nil || ev.PercentStr != "" || ev.ETA != "" {
		t.Fatalf("unknown total rendered a percentage: %+v", ev)
	}

	ev, ok = progressFromUpdate(ytdlp.ProgressUpdate{Status: ytdlp.ProgressStatusDownloading, FragmentIndex: 3, FragmentCount: 12}, now)
	if !ok || ev.PercentStr != "25.0%" {
		t.Fatalf("fragments: %+v", ev)
	}

	ev, ok = progressFromUpdate(ytdlp.ProgressUpdate{Status: ytdlp.ProgressStatusFinished, DownloadedBytes: 1024, TotalBytes: 1024}, now)
	if !ok || ev.Status != media.StatusFinished {
		t.Fatalf("finished: %+v %v", ev, ok)
	}

	if ev, ok := progressFromUpdate(ytdlp.ProgressUpdate{Status: ytdlp.ProgressStatusError, DownloadedBytes: 10, TotalBytes: 1024}, now); ok {
		t.Fatalf("error update must be dropped, got %+v", ev)
	}
}

// stubYTDLP writes an executable shell script standing in for yt-dlp.
func stubYTDLP(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub needs a unix shell")
	}
	p := filepath.Join(t.TempDir(), "yt-dlp")
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

type flag struct{ v atomic.Bool }

func (f *flag) Cancelled() bool { return f.v.Load() }

func TestYTDLPProbeDecodesInfo(t *testing.T) {
	exe := stubYTDLP(t, `printf '%s\n' '{"_type":"video","id":"abc","title":"Clip","uploader":"Ann","duration":61.5}'`)
	y := NewYTDLP(YTDLPOptions{Executable: exe})

	md, err := y.Probe(context.Background(), "https://example.test/v")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if md.ID != "abc" || md.Title != "Clip" || md.Uploader != "Ann" || md.Duration != 61500*time.Millisecond {
		t.Fatalf("md = %+v", md)
	}
}

func TestYTDLPFetchWritesOutputAndReportsProgress(t *testing.T) {
	base := filepath.Join(t.TempDir(), "job1")
	exe := stubYTDLP(t, strings.Join([]string{
		`echo 'progress:{"info":{"id":"abc"},"progress":{"status":"downloading","downloaded_bytes":512,"total_bytes":1024,"filename":"f"}}'`,
		`printf data > '` + base + `.mp4'`,
	}, "\n"))
	y := NewYTDLP(YTDLPOptions{Executable: exe})

	events := make(chan media.ProgressEvent, 8)
	path, err := y.Fetch(context.Background(), FetchRequest{
		URL:        "https://example.test/v",
		Selection:  media.Select(media.Quality720p),
		OutputBase: base,
		Progress:   events,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if filepath.Base(path) != "job1.mp4" {
		t.Fatalf("path = %s", path)
	}
	select {
	case ev := <-events:
		if ev.TotalBytes == nil || *ev.TotalBytes != 1024 || ev.DownloadedBytes != 512 {
			t.Fatalf("event = %+v", ev)
		}
	default:
		t.Fatal("no progress event")
	}
}

func TestYTDLPFetchFailure(t *testing.T) {
	exe := stubYTDLP(t, `echo 'ERROR: unsupported url' >&2; exit 1`)
	y := NewYTDLP(YTDLPOptions{Executable: exe})

	_, err := y.Fetch(context.Background(), FetchRequest{
		URL:        "https://example.test/v",
		Selection:  media.Select(media.Quality720p),
		OutputBase: filepath.Join(t.TempDir(), "job2"),
	})
	if err == nil || errors.Is(err, ErrCancelled) || errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestYTDLPFetchCancelPoll(t *testing.T) {
	exe := stubYTDLP(t, `exec sleep 30`)
	y := NewYTDLP(YTDLPOptions{Executable: exe, CancelPoll: 10 * time.Millisecond})

	cancel := &flag{}
	done := make(chan error, 1)
	go func() {
		_, err := y.Fetch(context.Background(), FetchRequest{
			URL:        "https://example.test/v",
			Selection:  media.Select(media.Quality720p),
			OutputBase: filepath.Join(t.TempDir(), "job3"),
			Cancel:     cancel,
		})
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel.v.Store(true)

	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("err = %v, want ErrCancelled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("fetch ignored the cancel flag")
	}
}

func TestYTDLPFetchTimeout(t *testing.T) {
	exe := stubYTDLP(t, `exec sleep 30`)
	y := NewYTDLP(YTDLPOptions{Executable: exe})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := y.Fetch(ctx, FetchRequest{
		URL:        "https://example.test/v",
		Selection:  media.Select(media.Quality720p),
		OutputBase: filepath.Join(t.TempDir(), "job4"),
		Cancel:     &flag{},
	})
	if !errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
