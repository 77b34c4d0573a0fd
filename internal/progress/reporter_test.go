package progress

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"teleube/internal/media"
)

type recordSink struct{ texts []string }

func (s *recordSink) Update(_ context.Context, text string) error {
	s.texts = append(s.texts, text)
	return nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func total(n int64) *int64 { return &n }

var pctRe = regexp.MustCompile(`Downloading: ([0-9.]+)%`)

func displayed(t *testing.T, texts []string) []float64 {
	t.Helper()
	var out []float64
	for _, s := range texts {
		m := pctRe.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			t.Fatalf("parse %q: %v", m[1], err)
		}
		out = append(out, v)
	}
	return out
}

func TestReporterThrottlesToInterval(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	sink := &recordSink{}
	r := New(sink, WithInterval(time.Second), WithClock(clk.now))
	ctx := context.Background()

	for i := int64(1); i <= 50; i++ {
		r.Report(ctx, media.ProgressEvent{Status: media.StatusDownloading, TotalBytes: total(100), DownloadedBytes: i})
		clk.t = clk.t.Add(100 * time.Millisecond)
	}
	// 50 events over 5s at 1/s: the first plus one per elapsed second.
	if got := len(sink.texts); got < 4 || got > 6 {
		t.Fatalf("rendered %d updates, want ~5: %q", got, sink.texts)
	}
}

func TestReporterMonotonicAndSingleCompletion(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	sink := &recordSink{}
	r := New(sink, WithInterval(time.Second), WithClock(clk.now))
	ctx := context.Background()

	// Second stream (audio after video) restarts at a lower percentage.
	seq := []int64{10, 60, 90, 5, 40, 100}
	for _, d := range seq {
		r.Report(ctx, media.ProgressEvent{Status: media.StatusDownloading, TotalBytes: total(100), DownloadedBytes: d})
		clk.t = clk.t.Add(2 * time.Second)
	}
	r.Report(ctx, media.ProgressEvent{Status: media.StatusFinished})
	r.Report(ctx, media.ProgressEvent{Status: media.StatusFinished})
	if r.Finish(ctx) {
		t.Fatalf("Finish after finished event must not send again")
	}

	vals := displayed(t, sink.texts)
	for i := 1; i < len(vals); i++ {
		if vals[i] < vals[i-1] {
			t.Fatalf("displayed percentage decreased: %v", vals)
		}
	}
	completed := 0
	for _, s := range sink.texts {
		if s == CompletedText {
			completed++
		}
	}
	if completed != 1 || sink.texts[len(sink.texts)-1] != CompletedText {
		t.Fatalf("want exactly one trailing completion, got %q", sink.texts)
	}
}

func TestReporterFallsBackToPercentString(t *testing.T) {
	sink := &recordSink{}
	r := New(sink)
	r.Report(context.Background(), media.ProgressEvent{Status: media.StatusDownloading, PercentStr: "\x1b[0;94m 42.5%\x1b[0m", Speed: "1.0MiB/s"})
	if len(sink.texts) != 1 || !strings.Contains(sink.texts[0], "42.5%") {
		t.Fatalf("texts = %q", sink.texts)
	}
}

func TestReporterRendersPlaceholders(t *testing.T) {
	sink := &recordSink{}
	r := New(sink)
	r.Report(context.Background(), media.ProgressEvent{Status: media.StatusDownloading, TotalBytes: total(0), PercentStr: "garbage"})
	want := "⬇️ Downloading: N/A\n⚡️ Speed: N/A\n⏱ ETA: N/A"
	if len(sink.texts) != 1 || sink.texts[0] != want {
		t.Fatalf("texts = %q, want %q", sink.texts, want)
	}
}

func TestReporterToleratesSinkErrors(t *testing.T) {
	calls := 0
	r := New(SinkFunc(func(context.Context, string) error {
		calls++
		return errors.New("message is not modified")
	}))
	r.Report(context.Background(), media.ProgressEvent{Status: media.StatusDownloading})
	if !r.Finish(context.Background()) {
		t.Fatalf("Finish should report it attempted the completion")
	}
	if calls != 2 || r.Sent() != 0 {
		t.Fatalf("calls=%d sent=%d", calls, r.Sent())
	}
}

func TestRunDrainsUntilClosed(t *testing.T) {
	sink := &recordSink{}
	r := New(sink)
	ch := make(chan media.ProgressEvent, 4)
	ch <- media.ProgressEvent{Status: media.StatusDownloading, TotalBytes: total(10), DownloadedBytes: 5}
	ch <- media.ProgressEvent{Status: media.StatusFinished}
	close(ch)
	r.Run(context.Background(), ch)
	if len(sink.texts) != 2 || sink.texts[1] != CompletedText {
		t.Fatalf("texts = %q", sink.texts)
	}
}

func TestPercentClamps(t *testing.T) {
	if p, ok := Percent(media.ProgressEvent{TotalBytes: total(10), DownloadedBytes: 20}); !ok || p != 100 {
		t.Fatalf("Percent = %v %v", p, ok)
	}
}

func TestPercentFromProviderString(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{" 42.1%", 42.1, true},
		{"\x1b[0;94m 42.1%\x1b[0m", 42.1, true},
		{"\x1b[0;94m100.0%\x1b[0m", 100, true},
		{"7%", 7, true},
		{"", 0, false},
		{"N/A", 0, false},
		{"\x1b[0;94m\x1b[0m", 0, false},
	}
	for _, c := range cases {
		got, ok := Percent(media.ProgressEvent{PercentStr: c.in})
		if ok != c.ok || got != c.want {
			t.Fatalf("Percent(%q) = %v %v, want %v %v", c.in, got, ok, c.want, c.ok)
		}
	}
}
