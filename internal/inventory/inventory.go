// Package inventory manages shared credentials that can be handed out a
// bounded number of times.
//
// Entries are keyed by their lowercased service name and kept in insertion
// order. An entry lives until its remaining uses reach zero or its creator
// removes it; both are terminal.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"refebot/internal/docstore"
	"refebot/internal/eventbus"
	kit "refebot/internal/transport"
	logx "refebot/pkg/logx"
	"refebot/pkg/tgui"
)

var (
	ErrNotFound    = errors.New("inventory: entry not found")
	ErrForbidden   = errors.New("inventory: only the creator may remove this entry")
	ErrInvalidUses = errors.New("inventory: max uses must be a positive integer")
	ErrInvalidName = errors.New("inventory: service name is empty")
)

// Entry is one persisted credential.
type Entry struct {
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Password  string    `json:"password"`
	Remaining int       `json:"remaining"`
	MaxUses   int       `json:"max_uses"`
	Note      string    `json:"note"`
	Creator   string    `json:"creator"`
	CreatorID int64     `json:"creator_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Document = docstore.Map[Entry]

// Requester identifies the user redeeming or removing an entry.
type Requester struct {
	ID   int64
	Name string
}

// Redemption is the credential handed to a requester. Remaining is the count
// after this use; Exhausted reports that the entry was deleted.
type Redemption struct {
	Name      string
	Email     string
	Password  string
	Note      string
	Remaining int
	MaxUses   int
	Exhausted bool
}

type Listing struct {
	Name      string
	Remaining int
	MaxUses   int
}

// Notifier accepts fire-and-forget messages. notifier.Service satisfies it.
type Notifier interface {
	Notify(ctx context.Context, n kit.Notification) error
}

// Redeemed is the bus payload for redemption events. It never carries the
// credential itself.
type Redeemed struct {
	Name        string
	RequesterID int64
	CreatorID   int64
	Remaining   int
}

type Service struct {
	store    *docstore.Store[Document]
	notifier Notifier
	bus      eventbus.Bus
	log      logx.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(store *docstore.Store[Document], opts ...Option) *Service {
	s := &Service{store: store, log: logx.Nop(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(logx.String("comp", "inventory"))
	return s
}

// NormalizeName is the lookup key for a service name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Add stores e under its normalized name, replacing any previous entry.
// Remaining starts at MaxUses.
func (s *Service) Add(ctx context.Context, e Entry) error {
	key := NormalizeName(e.Name)
	if key == "" {
		return ErrInvalidName
	}
	if e.MaxUses <= 0 {
		return ErrInvalidUses
	}
	e.Name = strings.TrimSpace(e.Name)
	e.Remaining = e.MaxUses
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}

	err := s.store.Update(ctx, func(doc *Document) error {
		if doc.Has(key) {
			s.log.Info("replacing existing entry", logx.String("service", key))
		}
		doc.Set(key, e)
		return nil
	})
	if err != nil {
		return fmt.Errorf("add %s: %w", key, err)
	}
	s.publish(eventbus.TypeInventoryAdded, Redeemed{Name: e.Name, CreatorID: e.CreatorID, Remaining: e.Remaining})
	return nil
}

// Request uses one redemption of name. The entry is deleted when its
// remaining count reaches zero. The creator is notified asynchronously;
// delivery problems are ignored.
func (s *Service) Request(ctx context.Context, name string, who Requester) (Redemption, error) {
	key := NormalizeName(name)
	if key == "" {
		return Redemption{}, ErrInvalidName
	}

	var (
		red     Redemption
		creator int64
	)
	err := s.store.Update(ctx, func(doc *Document) error {
		e, ok := doc.Get(key)
		if !ok {
			return ErrNotFound
		}
		e.Remaining--
		red = Redemption{
			Name:      e.Name,
			Email:     e.Email,
			Password:  e.Password,
			Note:      e.Note,
			Remaining: max(e.Remaining, 0),
			MaxUses:   e.MaxUses,
		}
		creator = e.CreatorID
		if e.Remaining <= 0 {
			red.Exhausted = true
			doc.Delete(key)
			return nil
		}
		doc.Set(key, e)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Redemption{}, err
		}
		return Redemption{}, fmt.Errorf("request %s: %w", key, err)
	}

	s.log.Info("entry redeemed",
		logx.String("service", key),
		logx.Int64("requester_id", who.ID),
		logx.Int("remaining", red.Remaining),
		logx.Bool("exhausted", red.Exhausted),
	)
	ev := Redeemed{Name: red.Name, RequesterID: who.ID, CreatorID: creator, Remaining: red.Remaining}
	s.publish(eventbus.TypeInventoryRedeemed, ev)
	if red.Exhausted {
		s.publish(eventbus.TypeInventoryExhausted, ev)
	}
	s.notifyCreator(creator, red, who)
	return red, nil
}

// Remove deletes name if requesterID created it.
func (s *Service) Remove(ctx context.Context, name string, requesterID int64) error {
	key := NormalizeName(name)
	if key == "" {
		return ErrInvalidName
	}
	var removed Entry
	err := s.store.Update(ctx, func(doc *Document) error {
		e, ok := doc.Get(key)
		if !ok {
			return ErrNotFound
		}
		if e.CreatorID != requesterID {
			return ErrForbidden
		}
		removed = e
		doc.Delete(key)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) {
			return err
		}
		return fmt.Errorf("remove %s: %w", key, err)
	}
	s.publish(eventbus.TypeInventoryRemoved, Redeemed{Name: removed.Name, RequesterID: requesterID, CreatorID: removed.CreatorID, Remaining: removed.Remaining})
	return nil
}

// List returns every entry in insertion order.
func (s *Service) List(ctx context.Context) ([]Listing, error) {
	var out []Listing
	err := s.store.View(ctx, func(doc *Document) error {
		out = make([]Listing, 0, doc.Len())
		doc.Each(func(_ string, e Entry) bool {
			out = append(out, Listing{Name: e.Name, Remaining: e.Remaining, MaxUses: e.MaxUses})
			return true
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	return out, nil
}

// Sanitize restores 0 < remaining <= max_uses after a hand edit or a bad
// write. Entries with remaining above max_uses are clamped to max_uses;
// entries with nothing left to redeem are dropped. It returns how many
// entries were repaired.
func (s *Service) Sanitize(ctx context.Context) (int, error) {
	var bad []string
	err := s.store.View(ctx, func(doc *Document) error {
		doc.Each(func(k string, e Entry) bool {
			if !entryValid(k, e) {
				bad = append(bad, k)
			}
			return true
		})
		return nil
	})
	if err != nil || len(bad) == 0 {
		return 0, err
	}

	var clamped, dropped []string
	err = s.store.Update(ctx, func(doc *Document) error {
		clamped, dropped = clamped[:0], dropped[:0]
		for _, k := range bad {
			e, ok := doc.Get(k)
			if !ok || entryValid(k, e) {
				continue
			}
			if k == "" || e.MaxUses <= 0 || e.Remaining <= 0 {
				doc.Delete(k)
				dropped = append(dropped, k)
				continue
			}
			e.Remaining = e.MaxUses
			doc.Set(k, e)
			clamped = append(clamped, k)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sanitize: %w", err)
	}
	if len(clamped) > 0 {
		s.log.Warn("clamped inventory entries", logx.Int("count", len(clamped)), logx.Any("keys", clamped))
	}
	if len(dropped) > 0 {
		s.log.Warn("dropped invalid inventory entries", logx.Int("count", len(dropped)), logx.Any("keys", dropped))
	}
	return len(clamped) + len(dropped), nil
}

func entryValid(key string, e Entry) bool {
	return key != "" && e.MaxUses > 0 && e.Remaining > 0 && e.Remaining <= e.MaxUses
}

func (s *Service) notifyCreator(creatorID int64, red Redemption, who Requester) {
	if s.notifier == nil || creatorID == 0 {
		return
	}
	text := fmt.Sprintf("🔔 Tu cuenta %s fue usada por %s.\nUsos restantes: %d/%d",
		tgui.B(red.Name), tgui.Handle(who.Name, who.ID), red.Remaining, red.MaxUses)
	if red.Exhausted {
		text += "\n🗑️ Se agotó y fue eliminada."
	}
	n := kit.Notification{
		Channel: "telegram",
		Target:  kit.ChatTarget{ChatID: creatorID},
		Text:    text,
		Options: &kit.SendOptions{ParseMode: "HTML", DisablePreview: true},
	}
	// Notify only enqueues; the request path never waits on delivery.
	if err := s.notifier.Notify(context.Background(), n); err != nil {
		s.log.Debug("creator notification not queued", logx.Int64("creator_id", creatorID), logx.Err(err))
	}
}

func (s *Service) publish(typ string, data Redeemed) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
