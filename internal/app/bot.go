package app

import (
	"context"
	"errors"
	"strconv"
	"time"

	"teleube/internal/job"
	"teleube/internal/media"
	"teleube/internal/orchestrator"
	"teleube/internal/storage"
	kit "teleube/internal/transport"
	"teleube/internal/transport/telegram/router"
	logx "teleube/pkg/logx"
)

// LaunchFunc starts fn in the background; false means it was not started.
type LaunchFunc func(name string, fn func(ctx context.Context) error) bool

// Bot is the chat command layer: it turns commands into orchestrator calls
// and renders outcomes.
type Bot struct {
	orch   *orchestrator.Orchestrator
	launch LaunchFunc
	log    logx.Logger
}

func NewBot(orch *orchestrator.Orchestrator, launch LaunchFunc, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bot{orch: orch, launch: launch, log: log}
}

func userKey(id int64) string { return strconv.FormatInt(id, 10) }

func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "Welcome message", Handle: b.handleStart},
		{Name: "help", Description: "Show all commands", Handle: b.handleHelp},
		{Name: "download", Aliases: []string{"dl"}, Description: "Download a video", Usage: "/download <url> [quality]", Handle: b.handleDownload(false)},
		{Name: "mp3", Aliases: []string{"audio"}, Description: "Get audio only", Usage: "/mp3 <url>", Handle: b.handleDownload(true)},
		{Name: "quality", Description: "Set preferred quality", Handle: b.handleQuality},
		{Name: "stats", Description: "View your download statistics", Handle: b.handleStats},
		{Name: "cancel", Description: "Cancel current download", Handle: b.handleCancel},
		{Name: "admin", Description: "Bot statistics", Access: router.AccessAdminOnly, Timeout: 10 * time.Second, Handle: b.handleAdmin},
	}
}

func (b *Bot) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Plugin: "quality", Action: "set", Access: router.AccessEveryone, Timeout: 10 * time.Second, Handle: b.handleQualitySet},
	}
}

func (b *Bot) handleStart(ctx context.Context, req *router.Request) error {
	if _, err := b.orch.EnsureUser(ctx, userKey(req.FromID)); err != nil {
		req.Logger.Warn("ensure user failed", logx.Err(err))
	}
	_, err := req.Reply(ctx, welcomeText(req.FromName), htmlOpts)
	return err
}

func (b *Bot) handleHelp(ctx context.Context, req *router.Request) error {
	_, err := req.Reply(ctx, helpText(b.orch.Limits().MaxFileSize), htmlOpts)
	return err
}

func (b *Bot) handleDownload(audio bool) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		if len(req.Args) == 0 {
			_, err := req.Reply(ctx, usageText(req.Command), htmlOpts)
			return err
		}
		var override *media.Quality
		switch {
		case audio:
			q := media.QualityAudio
			override = &q
		case len(req.Args) > 1:
			q, err := media.ParseQuality(req.Args[1])
			if err != nil {
				_, err := req.Reply(ctx, unknownQualityText(req.Args[1]), nil)
				return err
			}
			override = &q
		}
		b.submit(ctx, req, req.Args[0], override)
		return nil
	}
}

// submit runs the job outside the router worker so long downloads never
// hold a command slot.
func (b *Bot) submit(ctx context.Context, req *router.Request, url string, q *media.Quality) {
	status := newStatusMessage(req.Adapter, req.Chat, req.MessageID)
	userID := userKey(req.FromID)
	log := req.Logger

	ok := b.launch("job."+userID+"."+req.ReqID, func(jctx context.Context) error {
		out := b.orch.Submit(jctx, orchestrator.Request{
			UserID:  userID,
			URL:     url,
			Quality: q,
			Sink:    status,
			Deliver: deliverTo(req.Adapter, req.Chat, req.MessageID),
			Observe: status.observe(jctx),
		})
		// The job context may already be cancelled on shutdown.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(jctx), 10*time.Second)
		defer cancel()
		if out.Kind() == job.AdmissionDenied {
			_, _ = req.Reply(fctx, out.Kind().Message(), nil)
			return nil
		}
		status.finish(fctx, out, b.orch.Limits())
		log.Debug("job outcome rendered", logx.String("state", string(out.State)))
		return nil
	})
	if !ok {
		_, _ = req.Reply(ctx, textBusy, nil)
	}
}

func (b *Bot) handleQuality(ctx context.Context, req *router.Request) error {
	_, err := req.Reply(ctx, textPickQuality, &kit.SendOptions{Keyboard: qualityKeyboard()})
	return err
}

func (b *Bot) handleQualitySet(ctx context.Context, req *router.Request, payload string) error {
	q, err := media.ParseQuality(payload)
	if err != nil {
		return err
	}
	if err := b.orch.SetPreferredQuality(ctx, userKey(req.FromID), q); err != nil {
		return err
	}
	ref := kit.MessageRef{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID, MessageID: req.MessageID}
	return req.Adapter.EditText(ctx, ref, qualitySetText(q), nil)
}

func (b *Bot) handleStats(ctx context.Context, req *router.Request) error {
	u, err := b.orch.Stats(ctx, userKey(req.FromID))
	if errors.Is(err, storage.ErrNotFound) {
		_, err = req.Reply(ctx, textNoStats, nil)
		return err
	}
	if err != nil {
		return err
	}
	_, err = req.Reply(ctx, statsText(u), htmlOpts)
	return err
}

func (b *Bot) handleAdmin(ctx context.Context, req *router.Request) error {
	s, err := b.orch.AdminStats(ctx)
	if err != nil {
		return err
	}
	_, err = req.Reply(ctx, adminText(s), htmlOpts)
	return err
}

func (b *Bot) handleCancel(ctx context.Context, req *router.Request) error {
	text := textNothingCancel
	if b.orch.Cancel(userKey(req.FromID)) {
		text = textCancelling
	}
	_, err := req.Reply(ctx, text, nil)
	return err
}
