// Package ledger counts photo submissions per user per calendar month.
//
// The document on disk maps "YYYY-MM" to user id (as a string) to a Record.
// Months appear on the first submission and are never pruned.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"refebot/internal/docstore"
	"refebot/internal/eventbus"
	logx "refebot/pkg/logx"
)

const monthLayout = "2006-01"

// Record is one user's tally for a month. Username holds the last display
// name seen for that user.
type Record struct {
	Username string `json:"username"`
	Count    int    `json:"count"`
}

type Month = docstore.Map[Record]

// Document is the persisted ledger.
type Document = docstore.Map[Month]

// Standing is one row of a leaderboard.
type Standing struct {
	UserID string
	Name   string
	Count  int
}

// Recorded is published on the event bus after each submission.
type Recorded struct {
	Month  string
	UserID int64
	Name   string
	Count  int
}

type Ledger struct {
	store *docstore.Store[Document]
	loc   atomic.Pointer[time.Location]
	bus   eventbus.Bus
	log   logx.Logger
}

type Option func(*Ledger)

// WithLocation sets the zone used to derive month keys. Default is time.Local.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc.Store(loc)
		}
	}
}

func WithBus(b eventbus.Bus) Option { return func(l *Ledger) { l.bus = b } }

func WithLogger(log logx.Logger) Option { return func(l *Ledger) { l.log = log } }

func New(store *docstore.Store[Document], opts ...Option) *Ledger {
	l := &Ledger{store: store, log: logx.Nop()}
	l.loc.Store(time.Local)
	for _, o := range opts {
		o(l)
	}
	l.log = l.log.With(logx.String("comp", "ledger"))
	return l
}

// MonthKey formats t as "YYYY-MM" in the ledger's zone.
func (l *Ledger) MonthKey(t time.Time) string {
	return t.In(l.Location()).Format(monthLayout)
}

func (l *Ledger) Location() *time.Location { return l.loc.Load() }

// SetLocation changes the zone used for new month keys. Existing months are
// not rewritten.
func (l *Ledger) SetLocation(loc *time.Location) {
	if loc != nil {
		l.loc.Store(loc)
	}
}

// ParseMonth validates a "YYYY-MM" key.
func ParseMonth(s string) (string, error) {
	t, err := time.Parse(monthLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid month %q, want YYYY-MM", s)
	}
	return t.Format(monthLayout), nil
}

// PreviousMonth returns the month key before the one containing t.
func (l *Ledger) PreviousMonth(t time.Time) string {
	loc := l.Location()
	t = t.In(loc)
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	return first.AddDate(0, -1, 0).Format(monthLayout)
}

// RecordSubmission adds one to the user's count for month, stores the latest
// display name and returns the new count. On error nothing is persisted.
func (l *Ledger) RecordSubmission(ctx context.Context, month string, userID int64, displayName string) (int, error) {
	uid := strconv.FormatInt(userID, 10)
	var count int
	err := l.store.Update(ctx, func(doc *Document) error {
		m, _ := doc.Get(month)
		rec, _ := m.Get(uid)
		rec.Count++
		rec.Username = displayName
		m.Set(uid, rec)
		doc.Set(month, m)
		count = rec.Count
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("record submission: %w", err)
	}

	l.log.Debug("submission recorded", logx.String("month", month), logx.Int64("user_id", userID), logx.Int("count", count))
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{
			Type: eventbus.TypeLedgerRecorded,
			Data: Recorded{Month: month, UserID: userID, Name: displayName, Count: count},
		})
	}
	return count, nil
}

// TopN returns the first n of month's Standings. n <= 0 yields none.
func (l *Ledger) TopN(ctx context.Context, month string, n int) ([]Standing, error) {
	if n <= 0 {
		return []Standing{}, nil
	}
	out, err := l.Standings(ctx, month)
	if err != nil {
		return nil, fmt.Errorf("top: %w", err)
	}
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// Standings returns every user's count for month, highest first. Equal
// counts keep the order in which users first appeared that month.
func (l *Ledger) Standings(ctx context.Context, month string) ([]Standing, error) {
	var out []Standing
	err := l.store.View(ctx, func(doc *Document) error {
		m, ok := doc.Get(month)
		if !ok {
			return nil
		}
		out = make([]Standing, 0, m.Len())
		m.Each(func(uid string, rec Record) bool {
			out = append(out, Standing{UserID: uid, Name: rec.Username, Count: rec.Count})
			return true
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out, nil
}

// Months lists the month keys present in the document, oldest entry first.
func (l *Ledger) Months(ctx context.Context) ([]string, error) {
	var out []string
	err := l.store.View(ctx, func(doc *Document) error {
		out = doc.Keys()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("months: %w", err)
	}
	return out, nil
}
