package transport

import (
	"context"
	"time"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// User identifies a message author.
type User struct {
	ID        int64
	Username  string
	FirstName string
}

// DisplayName prefers the @handle and falls back to the first name.
func (u User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return u.FirstName
}

type Message struct {
	ID       int
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
	From     User
	Text     string
	Caption  string
	Date     time.Time
	IsGroup  bool

	// PhotoFileID is the file id of the largest photo size, empty if the
	// message carries no photo.
	PhotoFileID string

	// ReplyTo is the message this one replies to (one level deep).
	ReplyTo *Message
}

func (m *Message) HasPhoto() bool { return m != nil && m.PhotoFileID != "" }

// ChatTarget addresses a chat either by numeric id or by public @username
// (channels). Username wins when both are set.
type ChatTarget struct {
	ChatID   int64
	Username string
	ThreadID int
}

func (t ChatTarget) IsZero() bool { return t.ChatID == 0 && t.Username == "" }

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Button is an inline URL button.
type Button struct {
	Text string
	URL  string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyTo        int        // message id to reply to (0 = none)
	Buttons        [][]Button // inline keyboard rows
}

// Photo references an already-uploaded Telegram photo.
type Photo struct {
	FileID  string
	Caption string
}

type Notification struct {
	Channel  string // "telegram"
	Priority int    // 0 low.. 10 high
	Target   ChatTarget
	Text     string
	Options  *SendOptions
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, to ChatTarget, photo Photo, opt *SendOptions) (MessageRef, error)
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
