package app

import (
	"context"
	"sync"

	"teleube/internal/job"
	kit "teleube/internal/transport"
)

// statusMessage is the single chat message a job keeps editing. It is sent
// lazily on the first update so a rejected submit can reply instead.
type statusMessage struct {
	adapter kit.Adapter
	chat    kit.ChatTarget
	replyTo int

	mu   sync.Mutex
	ref  kit.MessageRef
	sent bool
	last string
}

func newStatusMessage(a kit.Adapter, chat kit.ChatTarget, replyTo int) *statusMessage {
	return &statusMessage{adapter: a, chat: chat, replyTo: replyTo}
}

// Update implements progress.Sink.
func (s *statusMessage) Update(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent && text == s.last {
		return nil
	}
	if !s.sent {
		ref, err := s.adapter.SendText(ctx, s.chat, text, &kit.SendOptions{ReplyTo: s.replyTo})
		if err != nil {
			return err
		}
		s.ref, s.sent, s.last = ref, true, text
		return nil
	}
	if err := s.adapter.EditText(ctx, s.ref, text, nil); err != nil {
		return err
	}
	s.last = text
	return nil
}

// observe renders the coarse job states; fetch progress comes from the reporter.
func (s *statusMessage) observe(ctx context.Context) func(job.State) {
	return func(st job.State) {
		switch st {
		case job.StateAdmitted:
			_ = s.Update(ctx, textChecking)
		case job.StateDelivering:
			_ = s.Update(ctx, textUploading)
		}
	}
}

// finish writes the terminal text for out.
func (s *statusMessage) finish(ctx context.Context, out job.Outcome, lim job.Limits) {
	text := textDone
	if out.State != job.StateCompleted {
		text = outcomeText(out.Kind(), lim)
	}
	_ = s.Update(ctx, text)
	if out.Warning != nil {
		_, _ = s.adapter.SendText(ctx, s.chat, out.Warning.Kind.Message(), nil)
	}
}

func deliverTo(a kit.Adapter, chat kit.ChatTarget, replyTo int) job.DeliverFunc {
	return func(ctx context.Context, d job.Delivery) error {
		m := kit.Media{Path: d.Path, Duration: d.Duration}
		if d.IsAudio {
			m.Kind = kit.MediaAudio
			m.Title = d.Title
			m.Performer = d.Uploader
			if m.Performer == "" {
				m.Performer = "Unknown"
			}
		} else {
			m.Kind = kit.MediaVideo
			m.Caption = videoCaption(d.Title, d.SourceURL)
		}
		_, err := a.SendMedia(ctx, chat, m, &kit.SendOptions{ReplyTo: replyTo})
		return err
	}
}
