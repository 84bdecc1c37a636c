// Package fake provides an in-memory transport adapter for tests.
package fake

import (
	"context"
	"sync"

	kit "refebot/internal/transport"
)

// Sent is one outbound call recorded by Adapter.
type Sent struct {
	To      kit.ChatTarget
	Text    string
	Photo   *kit.Photo
	Options *kit.SendOptions
}

// Adapter records every send. Set Err (or PhotoErr for photos only) to make
// sends fail.
type Adapter struct {
	mu       sync.Mutex
	sent     []Sent
	nextID   int
	Err      error
	PhotoErr error
	Menu     []kit.BotCommand

	// Signal, if non-nil, receives a value after every send.
	Signal chan struct{}
}

func New() *Adapter { return &Adapter{Signal: make(chan struct{}, 64)} }

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	<-ctx.Done()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error { return nil }

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return a.record(Sent{To: to, Text: text, Options: opt}, a.Err)
}

func (a *Adapter) SendPhoto(ctx context.Context, to kit.ChatTarget, photo kit.Photo, opt *kit.SendOptions) (kit.MessageRef, error) {
	err := a.PhotoErr
	if err == nil {
		err = a.Err
	}
	return a.record(Sent{To: to, Photo: &photo, Options: opt}, err)
}

func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.mu.Lock()
	a.Menu = append([]kit.BotCommand(nil), cmds...)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) record(s Sent, err error) (kit.MessageRef, error) {
	a.mu.Lock()
	a.sent = append(a.sent, s)
	a.nextID++
	id := a.nextID
	a.mu.Unlock()

	if a.Signal != nil {
		select {
		case a.Signal <- struct{}{}:
		default:
		}
	}
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: s.To.ChatID, ThreadID: s.To.ThreadID, MessageID: id}, nil
}

// Sent returns a copy of everything sent so far.
func (a *Adapter) Sent() []Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Sent(nil), a.sent...)
}

// Last returns the most recent send, or the zero value.
func (a *Adapter) Last() Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		return Sent{}
	}
	return a.sent[len(a.sent)-1]
}

func (a *Adapter) Reset() {
	a.mu.Lock()
	a.sent = nil
	a.mu.Unlock()
}
