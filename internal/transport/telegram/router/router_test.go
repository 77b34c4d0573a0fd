package router

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	kit "teleube/internal/transport"
	"teleube/internal/transport/transporttest"
	logx "teleube/pkg/logx"
)

func TestMain(m *testing.M) { goleak.VerifyTestMain(m) }

type recorded struct {
	mu   sync.Mutex
	reqs []*Request
}

func (r *recorded) add(req *Request) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
}

func (r *recorded) all() []*Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Request(nil), r.reqs...)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func startManager(t *testing.T, m *Manager) chan<- kit.Update {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return updates
}

func message(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 7, ChatID: from, FromID: from, FromName: "Ann", Text: text}}
}

func TestRoutesCommandsAndAliases(t *testing.T) {
	fa := transporttest.New()
	var rec recorded
	m := New(logx.Nop(), fa, WithWorkers(2))
	m.SetRegistry(context.Background(), []Command{
		{Name: "download", Aliases: []string{"dl"}, Description: "Download a video", Handle: func(_ context.Context, req *Request) error {
			rec.add(req)
			return nil
		}},
	}, nil)
	updates := startManager(t, m)

	updates <- message(1, `/download https://youtu.be/x 480p`)
	updates <- message(1, `/DL@teleube_bot "https://youtu.be/y"`)
	updates <- message(1, "just chatting")

	eventually(t, func() bool { return len(rec.all()) == 2 })
	got := map[string][]string{}
	for _, r := range rec.all() {
		if r.Command != "download" || r.FromName != "Ann" || r.MessageID != 7 {
			t.Fatalf("unexpected request %+v", r)
		}
		got[r.Args[0]] = r.Args
	}
	if !reflect.DeepEqual(got["https://youtu.be/x"], []string{"https://youtu.be/x", "480p"}) {
		t.Fatalf("args = %v", got)
	}
	if _, ok := got["https://youtu.be/y"]; !ok {
		t.Fatalf("alias with bot suffix not routed: %v", got)
	}
}

func TestAdminOnlyDenied(t *testing.T) {
	fa := transporttest.New()
	var rec recorded
	m := New(logx.Nop(), fa, WithDeniedText("no"))
	m.SetAdmins([]int64{42})
	m.SetRegistry(context.Background(), []Command{
		{Name: "admin", Access: AccessAdminOnly, Handle: func(_ context.Context, req *Request) error {
			rec.add(req)
			return nil
		}},
	}, nil)
	updates := startManager(t, m)

	updates <- message(7, "/admin")
	eventually(t, func() bool { return len(fa.Texts()) == 1 })
	if fa.Texts()[0] != "no" {
		t.Fatalf("texts = %v", fa.Texts())
	}

	updates <- message(42, "/admin")
	eventually(t, func() bool { return len(rec.all()) == 1 })
}

func TestUnknownCommand(t *testing.T) {
	fa := transporttest.New()
	m := New(logx.Nop(), fa, WithUnknownText("unknown"))
	m.SetRegistry(context.Background(), nil, nil)
	updates := startManager(t, m)

	updates <- message(1, "/nope")
	eventually(t, func() bool { return len(fa.Texts()) == 1 })
}

func TestCallbackRouting(t *testing.T) {
	fa := transporttest.New()
	payloads := make(chan string, 1)
	m := New(logx.Nop(), fa)
	m.SetRegistry(context.Background(), nil, []CallbackRoute{
		{Plugin: "quality", Action: "set", Handle: func(_ context.Context, _ *Request, payload string) error {
			payloads <- payload
			return nil
		}},
	})
	updates := startManager(t, m)

	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c1", FromID: 1, ChatID: 1, Data: "quality:set:720p"}}
	select {
	case p := <-payloads:
		if p != "720p" {
			t.Fatalf("payload = %q", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("callback not routed")
	}
	eventually(t, func() bool { return len(fa.Answers()) == 1 })
}

func TestHandlerPanicKeepsWorkers(t *testing.T) {
	fa := transporttest.New()
	var rec recorded
	m := New(logx.Nop(), fa, WithWorkers(1))
	m.SetRegistry(context.Background(), []Command{
		{Name: "boom", Handle: func(context.Context, *Request) error { panic("kaboom") }},
		{Name: "ok", Handle: func(_ context.Context, req *Request) error {
			rec.add(req)
			return errors.New("logged")
		}},
	}, nil)
	updates := startManager(t, m)

	updates <- message(1, "/boom")
	updates <- message(1, "/ok")
	eventually(t, func() bool { return len(rec.all()) == 1 })
}

type observed struct {
	mu  sync.Mutex
	got map[string]Result
}

func (o *observed) record(cmd string, res Result, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.got == nil {
		o.got = map[string]Result{}
	}
	o.got[cmd] = res
}

func (o *observed) snapshot() map[string]Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := map[string]Result{}
	for k, v := range o.got {
		out[k] = v
	}
	return out
}

func TestObserverSeesEachResult(t *testing.T) {
	fa := transporttest.New()
	var obs observed
	m := New(logx.Nop(), fa, WithWorkers(2), WithObserver(obs.record))
	m.SetRegistry(context.Background(), []Command{
		{Name: "fine", Handle: func(context.Context, *Request) error { return nil }},
		{Name: "bad", Handle: func(context.Context, *Request) error { return errors.New("nope") }},
		{Name: "boom", Handle: func(context.Context, *Request) error { panic("kaboom") }},
		{Name: "slow", Timeout: 20 * time.Millisecond, Handle: func(ctx context.Context, _ *Request) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	}, []CallbackRoute{
		{Plugin: "quality", Action: "set", Handle: func(context.Context, *Request, string) error { return nil }},
	})
	updates := startManager(t, m)

	for _, c := range []string{"/fine", "/bad", "/boom", "/slow"} {
		updates <- message(1, c)
	}
	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c1", FromID: 1, ChatID: 1, Data: "quality:set:720p"}}

	want := map[string]Result{
		"fine":           ResultOK,
		"bad":            ResultError,
		"boom":           ResultPanic,
		"slow":           ResultTimeout,
		"cb:quality:set": ResultOK,
	}
	eventually(t, func() bool { return len(obs.snapshot()) == len(want) })
	if got := obs.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("results = %v, want %v", got, want)
	}
}

func TestMenuSkipsAliasesAndMarksAdmin(t *testing.T) {
	fa := transporttest.New()
	m := New(logx.Nop(), fa)
	h := func(context.Context, *Request) error { return nil }
	m.SetRegistry(context.Background(), []Command{
		{Name: "download", Aliases: []string{"dl"}, Description: "Download", Handle: h},
		{Name: "admin", Access: AccessAdminOnly, Description: "Stats", Handle: h},
	}, nil)

	want := []kit.BotCommand{{Command: "download", Description: "Download"}, {Command: "admin", Description: "🔒 Stats"}}
	if got := fa.Menu(); !reflect.DeepEqual(got, want) {
		t.Fatalf("menu = %+v", got)
	}
}

func TestParseHelpers(t *testing.T) {
	cases := []struct {
		in   string
		word string
		args []string
		ok   bool
	}{
		{"/start", "start", []string{}, true},
		{"  /mp3 'a b' c", "mp3", []string{"a b", "c"}, true},
		{"/Quality@bot", "quality", []string{}, true},
		{"hello", "", nil, false},
		{"/", "", nil, false},
	}
	for _, tc := range cases {
		w, a, ok := parseCommand(tc.in)
		if ok != tc.ok || w != tc.word || (ok && !reflect.DeepEqual(a, tc.args)) {
			t.Fatalf("parseCommand(%q) = %q %v %v", tc.in, w, a, ok)
		}
	}

	if got := sanitizeTelegramCommand("9-Lives Now"); got != "cmd_9_lives_now" {
		t.Fatalf("sanitize = %q", got)
	}
}
