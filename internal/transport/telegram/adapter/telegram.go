// Package adapter implements transport.Adapter on top of telebot.v4.
package adapter

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "teleube/internal/runtime/supervisor"
	kit "teleube/internal/transport"
	logx "teleube/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop and the drop reporter; created by Start.
	sup *rtsup.Supervisor

	droppedUpdates atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the current output channel; Start may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		if up, ok := messageUpdate(c.Message()); ok {
			a.sendUpdate(up)
		}
		return nil
	})
	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		if up, ok := callbackUpdate(c.Callback()); ok {
			a.sendUpdate(up)
		}
		return nil
	})
}

func messageUpdate(m *tele.Message) (kit.Update, bool) {
	if m == nil || m.Chat == nil {
		return kit.Update{}, false
	}
	msg := &kit.Message{
		ID:       m.ID,
		ChatID:   m.Chat.ID,
		ThreadID: m.ThreadID,
		Text:     m.Text,
		IsGroup:  m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
	}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
		msg.FromUsername = m.Sender.Username
		msg.FromName = m.Sender.FirstName
	}
	return kit.Update{Kind: kit.UpdateMessage, Message: msg}, true
}

func callbackUpdate(cb *tele.Callback) (kit.Update, bool) {
	if cb == nil || cb.Message == nil || cb.Message.Chat == nil {
		return kit.Update{}, false
	}
	c := &kit.Callback{
		ID:        cb.ID,
		ChatID:    cb.Message.Chat.ID,
		ThreadID:  cb.Message.ThreadID,
		MessageID: cb.Message.ID,
		// telebot prefixes unique-button data with \f; plain Data has none.
		Data: strings.TrimPrefix(cb.Data, "\f"),
	}
	if cb.Sender != nil {
		c.FromID = cb.Sender.ID
	}
	return kit.Update{Kind: kit.UpdateCallback, Callback: c}, true
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Run("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := a.droppedUpdates.Swap(0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", int64(n)), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Run("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop; restart it if it returns on its own.
	sup.Loop("telebot.poll", rtsup.Restart{Min: 500 * time.Millisecond, Max: 10 * time.Second, Always: true}, func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	})
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.Int64("dropped_updates_pending", int64(a.droppedUpdates.Load())))
	sup.Cancel()

	// Keep shutdown snappy even if a getUpdates long-poll is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		a.log.Warn("telegram stop incomplete", logx.Err(err))
	}
	return nil
}

func sendOptions(to kit.ChatTarget, opt *kit.SendOptions) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: to.ThreadID}
	if opt == nil {
		return so
	}
	so.ParseMode = opt.ParseMode
	so.DisableWebPagePreview = opt.DisablePreview
	so.ReplyMarkup = replyMarkup(opt.Keyboard)
	if opt.ReplyTo != 0 {
		so.ReplyTo = &tele.Message{ID: opt.ReplyTo}
	}
	return so
}

// replyMarkup sets button Data directly; telebot's Markup.Data helper would
// add a unique-id prefix the router does not expect.
func replyMarkup(kb kit.Keyboard) *tele.ReplyMarkup {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]tele.InlineButton, 0, len(kb))
	for _, row := range kb {
		r := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			r = append(r, tele.InlineButton{Text: b.Text, Data: b.Data})
		}
		rows = append(rows, r)
	}
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	parseMode := ""
	if opt != nil {
		parseMode = opt.ParseMode
	}
	chunks := splitTelegramText(text, telegramTextLimit, parseMode)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		so := sendOptions(to, opt)
		// Markup and reply only on the first chunk.
		if i > 0 {
			so.ReplyMarkup = nil
			so.ReplyTo = nil
		}
		msg, err := a.bot.Send(chat, chunk, so)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// EditText replaces the text of ref. Overflow beyond one message is sent as
// follow-up messages.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	to := ref.Target()
	so := sendOptions(to, opt)
	so.ThreadID = 0
	chunks := splitTelegramText(text, telegramTextLimit, so.ParseMode)

	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	if _, err := a.bot.Edit(m, chunks[0], so); err != nil {
		if errors.Is(err, tele.ErrSameMessageContent) {
			return nil
		}
		return err
	}
	for _, chunk := range chunks[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, chunk, &tele.SendOptions{ParseMode: so.ParseMode, ThreadID: to.ThreadID}); err != nil {
			return err
		}
	}
	return nil
}

// SendMedia uploads a local file as video or audio.
func (a *Adapter) SendMedia(ctx context.Context, to kit.ChatTarget, m kit.Media, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	what, err := mediaSendable(m)
	if err != nil {
		return kit.MessageRef{}, err
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, what, sendOptions(to, opt))
	if err != nil {
		return kit.MessageRef{}, err
	}
	if msg == nil {
		return kit.MessageRef{}, errors.New("telegram returned no message")
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

func mediaSendable(m kit.Media) (tele.Sendable, error) {
	if strings.TrimSpace(m.Path) == "" {
		return nil, errors.New("media path is empty")
	}
	secs := int(m.Duration / time.Second)
	switch m.Kind {
	case kit.MediaAudio:
		return &tele.Audio{
			File:      tele.FromDisk(m.Path),
			Caption:   m.Caption,
			Title:     m.Title,
			Performer: m.Performer,
			Duration:  secs,
		}, nil
	case kit.MediaVideo, "":
		return &tele.Video{
			File:      tele.FromDisk(m.Path),
			Caption:   m.Caption,
			Duration:  secs,
			Streaming: true,
		}, nil
	default:
		return nil, errors.New("unknown media kind: " + string(m.Kind))
	}
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// UpdateMenuCommands publishes the /menu command list. It only calls
// Telegram when the list changed since the last successful call.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	list := make([]tele.Command, 0, len(cmds))
	h := fnv.New64a()
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > 256 {
			d = d[:256]
		}
		list = append(list, tele.Command{Text: c.Command, Description: d})
		_, _ = h.Write([]byte(c.Command + "\x00" + d + "\x00"))
		if len(list) >= 100 {
			break
		}
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(list); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}
