package inventory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"refebot/internal/docstore"
	"refebot/internal/eventbus"
	kit "refebot/internal/transport"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []kit.Notification
	err  error
}

func (r *recordingNotifier) Notify(ctx context.Context, n kit.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func (r *recordingNotifier) all() []kit.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]kit.Notification(nil), r.sent...)
}

func newTestService(t *testing.T, opts ...Option) (*Service, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.json")
	st, err := docstore.New[Document](path)
	if err != nil {
		t.Fatalf("docstore.New: %v", err)
	}
	clock := func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return New(st, append([]Option{WithClock(clock)}, opts...)...), path
}

func netflix() Entry {
	return Entry{Name: "Netflix", Email: "a@b.com", Password: "pw", MaxUses: 2, Note: "x", Creator: "boss", CreatorID: 42}
}

func TestNetflixScenario(t *testing.T) {
	t.Parallel()

	notes := &recordingNotifier{}
	s, _ := newTestService(t, WithNotifier(notes))
	ctx := context.Background()

	if err := s.Add(ctx, netflix()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if diff := cmp.Diff([]Listing{{Name: "Netflix", Remaining: 2, MaxUses: 2}}, list); diff != "" {
		t.Fatalf("List mismatch (-want +got):\n%s", diff)
	}

	red, err := s.Request(ctx, "Netflix", Requester{ID: 7, Name: "siete"})
	if err != nil {
		t.Fatalf("Request #1: %v", err)
	}
	want := Redemption{Name: "Netflix", Email: "a@b.com", Password: "pw", Note: "x", Remaining: 1, MaxUses: 2}
	if diff := cmp.Diff(want, red); diff != "" {
		t.Fatalf("Redemption mismatch (-want +got):\n%s", diff)
	}
	if list, _ := s.List(ctx); len(list) != 1 || list[0].Remaining != 1 {
		t.Fatalf("after first request: %+v", list)
	}

	red, err = s.Request(ctx, "netflix", Requester{ID: 9})
	if err != nil {
		t.Fatalf("Request #2: %v", err)
	}
	if red.Remaining != 0 || !red.Exhausted || red.Password != "pw" {
		t.Fatalf("second redemption = %+v", red)
	}
	if list, _ := s.List(ctx); len(list) != 0 {
		t.Fatalf("exhausted entry still listed: %+v", list)
	}
	if _, err := s.Request(ctx, "Netflix", Requester{ID: 11}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Request after exhaustion err = %v, want ErrNotFound", err)
	}

	sent := notes.all()
	if len(sent) != 2 {
		t.Fatalf("creator notifications = %d, want 2", len(sent))
	}
	for _, n := range sent {
		if n.Target.ChatID != 42 {
			t.Fatalf("notification sent to %d, want creator 42", n.Target.ChatID)
		}
		if strings.Contains(n.Text, "pw") {
			t.Fatalf("notification leaks the password: %q", n.Text)
		}
	}
	if !strings.Contains(sent[0].Text, "@siete") || !strings.Contains(sent[1].Text, "9") {
		t.Fatalf("notifications do not name the requester: %q / %q", sent[0].Text, sent[1].Text)
	}
}

func TestAddValidates(t *testing.T) {
	t.Parallel()

	s, path := newTestService(t)
	ctx := context.Background()
	for _, uses := range []int{0, -3} {
		e := netflix()
		e.MaxUses = uses
		if err := s.Add(ctx, e); !errors.Is(err, ErrInvalidUses) {
			t.Fatalf("Add(uses=%d) err = %v, want ErrInvalidUses", uses, err)
		}
	}
	e := netflix()
	e.Name = "   "
	if err := s.Add(ctx, e); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("Add(blank name) err = %v, want ErrInvalidName", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("validation failures must not write the document")
	}
}

func TestAddOverwritesWithoutMerge(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)
	ctx := context.Background()
	_ = s.Add(ctx, Entry{Name: "Spotify", Email: "s@x", Password: "1", MaxUses: 5, CreatorID: 1})
	_ = s.Add(ctx, netflix())
	if _, err := s.Request(ctx, "spotify", Requester{ID: 2}); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if err := s.Add(ctx, Entry{Name: "SPOTIFY", Email: "new@x", Password: "2", MaxUses: 3, CreatorID: 3}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	list, _ := s.List(ctx)
	want := []Listing{
		{Name: "SPOTIFY", Remaining: 3, MaxUses: 3},
		{Name: "Netflix", Remaining: 2, MaxUses: 2},
	}
	if diff := cmp.Diff(want, list); diff != "" {
		t.Fatalf("List mismatch (-want +got):\n%s", diff)
	}
	red, _ := s.Request(ctx, "Spotify", Requester{ID: 2})
	if red.Email != "new@x" {
		t.Fatalf("old credential survived overwrite: %+v", red)
	}
}

func TestRequestMaxUsesTimesRemovesEntry(t *testing.T) {
	t.Parallel()

	for _, uses := range []int{1, 3, 7} {
		s, _ := newTestService(t)
		ctx := context.Background()
		e := netflix()
		e.MaxUses = uses
		if err := s.Add(ctx, e); err != nil {
			t.Fatalf("Add: %v", err)
		}
		for i := 0; i < uses; i++ {
			if _, err := s.Request(ctx, "netflix", Requester{ID: int64(100 + i)}); err != nil {
				t.Fatalf("uses=%d request %d: %v", uses, i, err)
			}
		}
		if list, _ := s.List(ctx); len(list) != 0 {
			t.Fatalf("uses=%d: entry still listed: %+v", uses, list)
		}
	}
}

func TestRemoveByNonCreatorIsForbidden(t *testing.T) {
	t.Parallel()

	s, path := newTestService(t)
	ctx := context.Background()
	if err := s.Add(ctx, netflix()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	before, _ := os.ReadFile(path)

	if err := s.Remove(ctx, "Netflix", 7); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Remove by non-creator err = %v, want ErrForbidden", err)
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Fatalf("forbidden remove mutated the document")
	}

	if err := s.Remove(ctx, "nope", 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Remove missing err = %v, want ErrNotFound", err)
	}
	if err := s.Remove(ctx, "NETFLIX", 42); err != nil {
		t.Fatalf("Remove by creator: %v", err)
	}
	if list, _ := s.List(ctx); len(list) != 0 {
		t.Fatalf("entry still listed after removal: %+v", list)
	}
}

func TestNotificationFailureIsIgnored(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, WithNotifier(&recordingNotifier{err: errors.New("queue full")}))
	ctx := context.Background()
	_ = s.Add(ctx, netflix())
	if _, err := s.Request(ctx, "netflix", Requester{ID: 7}); err != nil {
		t.Fatalf("Request should succeed despite notifier failure: %v", err)
	}
}

func TestSanitizeRestoresBounds(t *testing.T) {
	t.Parallel()

	s, path := newTestService(t)
	raw := `{
  "ok": {"name": "ok", "remaining": 1, "max_uses": 2, "creator_id": 1},
  "over": {"name": "over", "remaining": 5, "max_uses": 2, "creator_id": 1},
  "neg": {"name": "neg", "remaining": -1, "max_uses": 2, "creator_id": 1},
  "zero": {"name": "zero", "remaining": 0, "max_uses": 0, "creator_id": 1}
}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ctx := context.Background()
	n, err := s.Sanitize(ctx)
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	if n != 3 {
		t.Fatalf("Sanitize repaired %d, want 3", n)
	}
	list, _ := s.List(ctx)
	for _, l := range list {
		if l.Remaining < 0 || l.Remaining > l.MaxUses {
			t.Fatalf("bounds violated after sanitize: %+v", l)
		}
	}
	got := map[string]int{}
	for _, l := range list {
		got[l.Name] = l.Remaining
	}
	if diff := cmp.Diff(map[string]int{"ok": 1, "over": 2}, got); diff != "" {
		t.Fatalf("entries after sanitize (-want +got):\n%s", diff)
	}
	if _, err := s.Request(ctx, "over", Requester{ID: 9}); err != nil {
		t.Fatalf("clamped entry not redeemable: %v", err)
	}
	if n, _ := s.Sanitize(ctx); n != 0 {
		t.Fatalf("second Sanitize repaired %d", n)
	}
}

func TestConcurrentRequestsNeverOverRedeem(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)
	ctx := context.Background()
	e := netflix()
	e.MaxUses = 5
	_ = s.Add(ctx, e)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if _, err := s.Request(ctx, "netflix", Requester{ID: id}); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(int64(i))
	}
	wg.Wait()
	if ok != 5 {
		t.Fatalf("successful redemptions = %d, want 5", ok)
	}
}

func TestEventsPublished(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8, eventbus.TypeInventoryExhausted, eventbus.TypeInventoryRemoved)
	defer unsub()

	s, _ := newTestService(t, WithBus(bus))
	ctx := context.Background()
	e := netflix()
	e.MaxUses = 1
	_ = s.Add(ctx, e)
	_, _ = s.Request(ctx, "netflix", Requester{ID: 7})
	_ = s.Add(ctx, e)
	_ = s.Remove(ctx, "netflix", 42)

	var got []string
	for len(ch) > 0 {
		got = append(got, (<-ch).Type)
	}
	want := []string{eventbus.TypeInventoryExhausted, eventbus.TypeInventoryRemoved}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}
