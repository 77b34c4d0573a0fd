// Package extract defines the contract between jobs and the external media
// extraction engine, plus the go-ytdlp backed implementation.
package extract

import (
	"context"
	"errors"

	"teleube/internal/media"
)

// ErrCancelled is returned by Fetch when the cancel poller fired.
var ErrCancelled = errors.New("extract: cancelled")

// Canceller is polled during a fetch; job.Token satisfies it.
type Canceller interface {
	Cancelled() bool
}

type FetchRequest struct {
	URL       string
	Selection media.Selection
	// OutputBase is the path without extension; the engine appends it.
	OutputBase string
	Progress   chan<- media.ProgressEvent
	Cancel     Canceller
}

// Extractor probes and fetches remote media.
type Extractor interface {
	Probe(ctx context.Context, url string) (media.Metadata, error)
	// Fetch downloads to OutputBase.<ext> and returns the absolute file path.
	Fetch(ctx context.Context, req FetchRequest) (string, error)
}
