package media

import "time"

// Metadata is what a probe returns; no payload is downloaded to get it.
type Metadata struct {
	ID       string
	Title    string
	Uploader string
	Duration time.Duration
}

// DurationSeconds rounds the duration down to whole seconds.
func (m Metadata) DurationSeconds() int { return int(m.Duration / time.Second) }

type ProgressStatus string

const (
	StatusDownloading ProgressStatus = "downloading"
	StatusFinished    ProgressStatus = "finished"
)

// ProgressEvent is a transient transfer update produced by the extractor.
type ProgressEvent struct {
	Status ProgressStatus
	// TotalBytes is nil when the source does not announce a size.
	TotalBytes      *int64
	DownloadedBytes int64
	// PercentStr is the provider's own rendering (e.g. " 42.1%"), used when
	// TotalBytes is unknown.
	PercentStr string
	Speed      string
	ETA        string
}

// Emit pushes ev without blocking. It reports whether the event was queued;
// a full channel drops the event.
func Emit(ch chan<- ProgressEvent, ev ProgressEvent) bool {
	if ch == nil {
		return false
	}
	select {
	case ch <- ev:
		return true
	default:
		return false
	}
}
