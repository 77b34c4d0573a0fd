// Package transport holds the chat-platform-neutral types shared by the
// command layer and platform adapters.
package transport

import (
	"context"
	"time"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	IsGroup      bool
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

func (r MessageRef) Target() ChatTarget { return ChatTarget{ChatID: r.ChatID, ThreadID: r.ThreadID} }

// Button is one inline keyboard button; Data is routed back as a Callback.
type Button struct {
	Text string
	Data string
}

// Keyboard is a row-major inline keyboard.
type Keyboard [][]Button

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Keyboard       Keyboard
	// ReplyTo quotes the given message id (0 for none).
	ReplyTo int
}

type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// Media is a local file to upload.
type Media struct {
	Kind      MediaKind
	Path      string
	Caption   string
	Title     string
	Performer string
	Duration  time.Duration
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	SendMedia(ctx context.Context, to ChatTarget, m Media, opt *SendOptions) (MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
