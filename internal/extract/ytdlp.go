package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lrstanley/go-ytdlp"

	"teleube/internal/media"
	logx "teleube/pkg/logx"
)

const (
	DefaultCancelPoll       = 250 * time.Millisecond
	defaultProgressInterval = 500 * time.Millisecond
)

type YTDLPOptions struct {
	// AutoInstall downloads a yt-dlp binary into the user cache when none is on PATH.
	AutoInstall bool
	// Executable overrides PATH lookup of the yt-dlp binary.
	Executable string
	CancelPoll time.Duration
	Log        logx.Logger
}

// YTDLP drives the yt-dlp binary through go-ytdlp.
type YTDLP struct {
	opts        YTDLPOptions
	installOnce sync.Once
	installErr  error
}

func NewYTDLP(opts YTDLPOptions) *YTDLP {
	if opts.CancelPoll <= 0 {
		opts.CancelPoll = DefaultCancelPoll
	}
	return &YTDLP{opts: opts}
}

func (y *YTDLP) ensureInstalled(ctx context.Context) error {
	if !y.opts.AutoInstall {
		return nil
	}
	y.installOnce.Do(func() {
		_, y.installErr = ytdlp.Install(ctx, nil)
		if y.installErr != nil {
			y.opts.Log.Warn("yt-dlp install failed", logx.Err(y.installErr))
		}
	})
	return y.installErr
}

func (y *YTDLP) command() *ytdlp.Command {
	cmd := ytdlp.New()
	if y.opts.Executable != "" {
		cmd.SetExecutable(y.opts.Executable)
	}
	return cmd
}

func (y *YTDLP) Probe(ctx context.Context, url string) (media.Metadata, error) {
	if err := y.ensureInstalled(ctx); err != nil {
		return media.Metadata{}, fmt.Errorf("install yt-dlp: %w", err)
	}
	// DumpJSON, not DumpSingleJSON: go-ytdlp only parses stdout as JSON for the former.
	res, err := y.command().
		NoPlaylist().
		SkipDownload().
		DumpJSON().
		Run(ctx, url)
	if err != nil {
		return media.Metadata{}, fmt.Errorf("probe: %w", err)
	}
	infos, err := res.GetExtractedInfo()
	if err != nil {
		return media.Metadata{}, fmt.Errorf("probe: decode info: %w", err)
	}
	if len(infos) == 0 || infos[0] == nil {
		return media.Metadata{}, errors.New("probe: no media info")
	}
	return metadataFromInfo(infos[0]), nil
}

func metadataFromInfo(info *ytdlp.ExtractedInfo) media.Metadata {
	md := media.Metadata{ID: info.ID}
	if info.Title != nil {
		md.Title = *info.Title
	}
	if info.Uploader != nil {
		md.Uploader = *info.Uploader
	}
	if info.Duration != nil && *info.Duration > 0 {
		md.Duration = time.Duration(*info.Duration * float64(time.Second))
	}
	return md
}

func (y *YTDLP) Fetch(ctx context.Context, req FetchRequest) (string, error) {
	if err := y.ensureInstalled(ctx); err != nil {
		return "", fmt.Errorf("install yt-dlp: %w", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var cancelled bool
	var mu sync.Mutex
	if req.Cancel != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			t := time.NewTicker(y.opts.CancelPoll)
			defer t.Stop()
			for {
				select {
				case <-stop:
					return
				case <-runCtx.Done():
					return
				case <-t.C:
					if req.Cancel.Cancelled() {
						mu.Lock()
						cancelled = true
						mu.Unlock()
						cancel()
						return
					}
				}
			}
		}()
	}

	cmd := buildCommand(y.command(), req)
	if req.Progress != nil {
		cmd.ProgressFunc(defaultProgressInterval, func(u ytdlp.ProgressUpdate) {
			if ev, ok := progressFromUpdate(u, time.Now()); ok {
				media.Emit(req.Progress, ev)
			}
		})
	}

	_, err := cmd.Run(runCtx, req.URL)

	mu.Lock()
	wasCancelled := cancelled
	mu.Unlock()
	if wasCancelled {
		return "", ErrCancelled
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("fetch: %w", ctxErr)
		}
		return "", fmt.Errorf("fetch: %w", err)
	}
	return locateOutput(req.OutputBase, req.Selection.Container)
}

func buildCommand(cmd *ytdlp.Command, req FetchRequest) *ytdlp.Command {
	sel := req.Selection
	cmd = cmd.
		NoPlaylist().
		Format(sel.Format).
		Output(req.OutputBase + ".%(ext)s")
	if sel.AudioOnly {
		return cmd.ExtractAudio().AudioFormat(sel.AudioCodec).AudioQuality(sel.AudioBitrate)
	}
	if sel.Container != "" {
		cmd = cmd.MergeOutputFormat(sel.Container)
	}
	return cmd
}

// progressFromUpdate maps a go-ytdlp update. Error updates carry no usable
// progress (go-ytdlp reports them as 100%) and are dropped.
func progressFromUpdate(u ytdlp.ProgressUpdate, now time.Time) (media.ProgressEvent, bool) {
	ev := media.ProgressEvent{
		Status:          media.StatusDownloading,
		DownloadedBytes: int64(u.DownloadedBytes),
	}
	switch u.Status {
	case ytdlp.ProgressStatusError:
		return media.ProgressEvent{}, false
	case ytdlp.ProgressStatusFinished:
		ev.Status = media.StatusFinished
	}

	switch {
	case u.TotalBytes > 0:
		t := int64(u.TotalBytes)
		ev.TotalBytes = &t
		ev.PercentStr = u.PercentString()
	case u.FragmentCount > 0 && u.FragmentIndex > 0:
		ev.PercentStr = fmt.Sprintf("%.1f%%", float64(u.FragmentIndex)/float64(u.FragmentCount)*100)
	}
	if !u.Started.IsZero() {
		if el := now.Sub(u.Started).Seconds(); el > 0 && u.DownloadedBytes > 0 {
			ev.Speed = humanize.IBytes(uint64(float64(u.DownloadedBytes)/el)) + "/s"
		}
	}
	if u.TotalBytes > 0 {
		if eta := u.ETA(); eta > 0 {
			ev.ETA = formatETA(eta)
		}
	}
	return ev, true
}

func formatETA(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	s := int(d%time.Minute) / int(time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// locateOutput finds the finished file for base, ignoring partial leftovers.
// When several candidates exist, the preferred extension wins.
func locateOutput(base, preferExt string) (string, error) {
	matches, err := filepath.Glob(globEscape(base) + ".*")
	if err != nil {
		return "", fmt.Errorf("locate output: %w", err)
	}
	var files []string
	for _, m := range matches {
		if isPartial(m) {
			continue
		}
		if st, err := os.Stat(m); err == nil && st.Mode().IsRegular() {
			files = append(files, m)
		}
	}
	if len(files) == 0 {
		return "", fmt.Errorf("locate output: no file for %s", filepath.Base(base))
	}
	sort.Strings(files)
	if preferExt != "" {
		for _, f := range files {
			if strings.EqualFold(filepath.Ext(f), "."+preferExt) {
				return filepath.Abs(f)
			}
		}
	}
	return filepath.Abs(files[0])
}

func isPartial(p string) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".part", ".ytdl", ".temp", ".tmp":
		return true
	}
	return strings.Contains(filepath.Base(p), ".part-Frag")
}

func globEscape(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`)
	return r.Replace(s)
}
