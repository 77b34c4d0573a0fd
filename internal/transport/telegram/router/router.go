package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "teleube/internal/runtime/supervisor"
	kit "teleube/internal/transport"
	logx "teleube/pkg/logx"
	"teleube/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdminOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline-button data of the form "plugin:action:payload".
type CallbackRoute struct {
	Plugin  string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

type Request struct {
	Update    kit.Update
	Chat      kit.ChatTarget
	MessageID int
	FromID    int64
	FromName  string
	Command   string // command name or "cb:plugin:action"
	Args      []string
	Payload   string // callback payload
	ReqID     string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends text to the request's chat.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.Chat, text, opt)
}

type Option func(*Manager)

// WithDeniedText sets the reply for admin-only commands triggered by others.
func WithDeniedText(s string) Option { return func(m *Manager) { m.deniedText = s } }

// WithUnknownText sets the reply for unknown commands. Empty ignores them.
func WithUnknownText(s string) Option { return func(m *Manager) { m.unknownText = s } }

// WithWorkers overrides the worker pool size (default NumCPU, at least 2).
func WithWorkers(n int) Option { return func(m *Manager) { m.workers = n } }

// WithObserver reports every handled request, e.g. to metrics.
func WithObserver(fn ObserveFunc) Option { return func(m *Manager) { m.observe = fn } }

// WithQueueSize overrides the pending request capacity.
func WithQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.jobs = make(chan func(), n)
		}
	}
}

// Manager routes chat updates to command and callback handlers.
type Manager struct {
	mu        sync.RWMutex
	cmds      map[string]*Command
	alias     map[string]*Command
	ordered   []Command
	callbacks map[string]map[string]CallbackRoute // plugin -> action -> route
	admins    []int64

	log     logx.Logger
	adapter kit.Adapter

	deniedText  string
	unknownText string
	workers     int
	observe     ObserveFunc

	jobs chan func()
}

func New(log logx.Logger, adapter kit.Adapter, opts ...Option) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		cmds:       map[string]*Command{},
		alias:      map[string]*Command{},
		callbacks:  map[string]map[string]CallbackRoute{},
		log:        log,
		adapter:    adapter,
		deniedText: "unauthorized",
		jobs:       make(chan func(), 256),
	}
	for _, o := range opts {
		o(m)
	}
	if m.workers <= 0 {
		m.workers = max(runtime.NumCPU(), 2)
	}
	return m
}

// SetAdmins updates the ids allowed to run AccessAdminOnly handlers.
// Safe to call during hot-reload.
func (m *Manager) SetAdmins(ids []int64) {
	cp := append([]int64(nil), ids...)
	m.mu.Lock()
	m.admins = cp
	m.mu.Unlock()
}

func (m *Manager) IsAdmin(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.admins, id)
}

// Commands returns the registered commands in registration order.
func (m *Manager) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Command(nil), m.ordered...)
}

// SetRegistry replaces the command and callback tables and refreshes the
// platform command menu when the adapter supports it.
func (m *Manager) SetRegistry(ctx context.Context, cmds []Command, cbs []CallbackRoute) {
	byName := map[string]*Command{}
	alias := map[string]*Command{}
	ordered := make([]Command, 0, len(cmds))

	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		byName[name] = &cc
		ordered = append(ordered, cc)
	}
	for _, c := range ordered {
		leaf := byName[c.Name]
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			if _, taken := byName[a]; taken {
				continue
			}
			alias[a] = leaf
		}
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, r := range cbs {
		p := strings.TrimSpace(r.Plugin)
		a := strings.TrimSpace(r.Action)
		if p == "" || a == "" || r.Handle == nil {
			continue
		}
		if cb[p] == nil {
			cb[p] = map[string]CallbackRoute{}
		}
		cb[p][a] = r
	}

	m.mu.Lock()
	m.cmds = byName
	m.alias = alias
	m.ordered = ordered
	m.callbacks = cb
	m.mu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		mctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(mctx, buildMenuCommands(ordered)); err != nil {
			m.log.Warn("menu update failed", logx.Err(err))
		}
	}
}

// tryEnqueue never blocks; a full queue reports false.
func (m *Manager) tryEnqueue(fn func()) bool {
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
// Handlers run on a bounded worker pool so a slow handler never stalls polling.
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < m.workers; i++ {
		idx := i
		sup.Loop("command.worker."+strconv.Itoa(idx), rtsup.Restart{Min: 200 * time.Millisecond, Max: 5 * time.Second}, func(c context.Context) error {
			return m.work(c, idx)
		})
	}

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *Manager) work(ctx context.Context, idx int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-m.jobs:
			func() {
				defer func() {
					if r := recover(); r != nil {
						m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					}
				}()
				job()
			}()
		}
	}
}

func (m *Manager) routeUpdate(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(ctx, up)
	case kit.UpdateCallback:
		m.routeCallback(ctx, up)
	}
}

func (m *Manager) lookup(word string) (Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.cmds[word]; ok {
		return *c, true
	}
	if c, ok := m.alias[word]; ok {
		return *c, true
	}
	return Command{}, false
}

func (m *Manager) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	word, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	cmd, ok := m.lookup(word)
	if !ok {
		if m.unknownText != "" {
			_, _ = m.adapter.SendText(ctx, chat, m.unknownText, nil)
		}
		return
	}
	if cmd.Access == AccessAdminOnly && !m.IsAdmin(msg.FromID) {
		_, _ = m.adapter.SendText(ctx, chat, m.deniedText, nil)
		return
	}

	rid := newReqID()
	req := &Request{
		Update:    up,
		Chat:      chat,
		MessageID: msg.ID,
		FromID:    msg.FromID,
		FromName:  msg.FromName,
		Command:   cmd.Name,
		Args:      args,
		ReqID:     rid,
		Adapter:   m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	if !m.tryEnqueue(func() { _ = m.invoke(ctx, req, cmd.Timeout, cmd.Handle) }) {
		_, _ = m.adapter.SendText(ctx, chat, "⏳ Bot is busy, please try again.", nil)
	}
}

func (m *Manager) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	plugin, action, payload, ok := tgui.ParseData(cb.Data)
	if !ok {
		return
	}

	m.mu.RLock()
	route, ok := m.callbacks[plugin][action]
	m.mu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	if route.Access == AccessAdminOnly && !m.IsAdmin(cb.FromID) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "forbidden")
		return
	}

	rid := newReqID()
	key := "cb:" + plugin + ":" + action
	req := &Request{
		Update:    up,
		Chat:      kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		MessageID: cb.MessageID,
		FromID:    cb.FromID,
		Command:   key,
		Payload:   payload,
		ReqID:     rid,
		Adapter:   m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", cb.ChatID),
			logx.Int64("from_id", cb.FromID),
			logx.String("cmd", key),
		),
	}

	h := func(ctx context.Context, r *Request) error { return route.Handle(ctx, r, payload) }
	if !m.tryEnqueue(func() {
		_ = m.invoke(ctx, req, route.Timeout, h)
		// stops the client-side spinner
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
	}) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "busy")
	}
}
