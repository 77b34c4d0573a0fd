// Package extracttest provides an in-process Extractor for tests.
package extracttest

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"teleube/internal/extract"
	"teleube/internal/media"
)

// Fake writes Size bytes to OutputBase.<ext> instead of contacting a site.
type Fake struct {
	Meta     media.Metadata
	ProbeErr error
	FetchErr error
	Size     int64
	// Ext defaults to the selection container ("mp3" for audio).
	Ext string
	// Partial leaves an extra OutputBase.<ext>.part file behind.
	Partial bool
	// Block makes Fetch wait for cancellation or Release.
	Block bool
	// BlockProbe makes Probe wait for ctx or Release.
	BlockProbe bool
	// Events are emitted before the file is written.
	Events []media.ProgressEvent

	probes  atomic.Int32
	fetches atomic.Int32

	once         sync.Once
	release      chan struct{}
	started      chan struct{}
	probeStarted chan struct{}
}

func (f *Fake) init() {
	f.once.Do(func() {
		f.release = make(chan struct{})
		f.started = make(chan struct{}, 64)
		f.probeStarted = make(chan struct{}, 64)
	})
}

func (f *Fake) Probes() int  { return int(f.probes.Load()) }
func (f *Fake) Fetches() int { return int(f.fetches.Load()) }

// Started receives one value per Fetch call once it begins.
func (f *Fake) Started() <-chan struct{} {
	f.init()
	return f.started
}

// ProbeStarted receives one value per Probe call.
func (f *Fake) ProbeStarted() <-chan struct{} {
	f.init()
	return f.probeStarted
}

// Release unblocks every blocked Fetch.
func (f *Fake) Release() {
	f.init()
	select {
	case <-f.release:
	default:
		close(f.release)
	}
}

func (f *Fake) Probe(ctx context.Context, url string) (media.Metadata, error) {
	f.init()
	f.probes.Add(1)
	select {
	case f.probeStarted <- struct{}{}:
	default:
	}
	if f.BlockProbe {
		select {
		case <-ctx.Done():
			return media.Metadata{}, ctx.Err()
		case <-f.release:
		}
	}
	if f.ProbeErr != nil {
		return media.Metadata{}, f.ProbeErr
	}
	return f.Meta, nil
}

func (f *Fake) Fetch(ctx context.Context, req extract.FetchRequest) (string, error) {
	f.init()
	f.fetches.Add(1)
	select {
	case f.started <- struct{}{}:
	default:
	}

	ext := f.Ext
	if ext == "" {
		ext = req.Selection.Container
		if req.Selection.AudioOnly {
			ext = req.Selection.AudioCodec
		}
	}
	if f.Partial {
		_ = os.WriteFile(req.OutputBase+"."+ext+".part", []byte("partial"), 0o644)
	}
	for _, ev := range f.Events {
		media.Emit(req.Progress, ev)
	}

	if f.Block {
		t := time.NewTicker(5 * time.Millisecond)
		defer t.Stop()
	wait:
		for {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-f.release:
				break wait
			case <-t.C:
				if req.Cancel != nil && req.Cancel.Cancelled() {
					return "", extract.ErrCancelled
				}
			}
		}
	}
	if f.FetchErr != nil {
		return "", f.FetchErr
	}

	path := req.OutputBase + "." + ext
	if err := os.WriteFile(path, make([]byte, f.Size), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

var ErrBoom = errors.New("extracttest: boom")
