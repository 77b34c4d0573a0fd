// Package transporttest provides an in-memory chat adapter for tests.
package transporttest

import (
	"context"
	"errors"
	"sync"

	kit "teleube/internal/transport"
)

// Sent is one outbound text or media message.
type Sent struct {
	Ref   kit.MessageRef
	Text  string
	Opt   *kit.SendOptions
	Media *kit.Media
}

// Edit is one EditText call.
type Edit struct {
	Ref  kit.MessageRef
	Text string
}

// Adapter records every outbound call. Sends never fail unless the matching
// *Err field is set.
type Adapter struct {
	SendMediaErr error

	mu      sync.Mutex
	nextID  int
	sent    []Sent
	edits   []Edit
	answers []string
	menu    []kit.BotCommand
	notify  chan struct{}
}

func New() *Adapter { return &Adapter{notify: make(chan struct{}, 1)} }

var ErrUpload = errors.New("upload failed")

func (a *Adapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *Adapter) Stop(context.Context) error                     { return nil }

func (a *Adapter) poke() {
	select {
	case a.notify <- struct{}{}:
	default:
	}
}

// Changed fires after any recorded call.
func (a *Adapter) Changed() <-chan struct{} { return a.notify }

func (a *Adapter) ref(to kit.ChatTarget) kit.MessageRef {
	a.nextID++
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: a.nextID}
}

func (a *Adapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	ref := a.ref(to)
	a.sent = append(a.sent, Sent{Ref: ref, Text: text, Opt: opt})
	a.mu.Unlock()
	a.poke()
	return ref, nil
}

func (a *Adapter) EditText(_ context.Context, ref kit.MessageRef, text string, _ *kit.SendOptions) error {
	a.mu.Lock()
	a.edits = append(a.edits, Edit{Ref: ref, Text: text})
	a.mu.Unlock()
	a.poke()
	return nil
}

func (a *Adapter) SendMedia(_ context.Context, to kit.ChatTarget, m kit.Media, opt *kit.SendOptions) (kit.MessageRef, error) {
	if a.SendMediaErr != nil {
		return kit.MessageRef{}, a.SendMediaErr
	}
	a.mu.Lock()
	ref := a.ref(to)
	mc := m
	a.sent = append(a.sent, Sent{Ref: ref, Text: m.Caption, Opt: opt, Media: &mc})
	a.mu.Unlock()
	a.poke()
	return ref, nil
}

func (a *Adapter) AnswerCallback(_ context.Context, _ string, text string) error {
	a.mu.Lock()
	a.answers = append(a.answers, text)
	a.mu.Unlock()
	a.poke()
	return nil
}

func (a *Adapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	a.mu.Lock()
	a.menu = append([]kit.BotCommand(nil), cmds...)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Sent() []Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Sent(nil), a.sent...)
}

// Texts returns the bodies of sent text messages, media excluded.
func (a *Adapter) Texts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, s := range a.sent {
		if s.Media == nil {
			out = append(out, s.Text)
		}
	}
	return out
}

func (a *Adapter) Media() []kit.Media {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []kit.Media
	for _, s := range a.sent {
		if s.Media != nil {
			out = append(out, *s.Media)
		}
	}
	return out
}

func (a *Adapter) Edits() []Edit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Edit(nil), a.edits...)
}

func (a *Adapter) Answers() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.answers...)
}

func (a *Adapter) Menu() []kit.BotCommand {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]kit.BotCommand(nil), a.menu...)
}
