package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	logx "refebot/pkg/logx"
)

type counter struct {
	N int `json:"n"`
}

func TestMapPreservesInsertionOrder(t *testing.T) {
	t.Parallel()

	var m Map[int]
	if err := json.Unmarshal([]byte(`{"zeta":1,"alpha":2,"mid":3}`), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	m.Set("alpha", 20)
	m.Set("beta", 4)
	m.Delete("zeta")

	if diff := cmp.Diff([]string{"alpha", "mid", "beta"}, m.Keys()); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got, want := string(b), `{"alpha":20,"mid":3,"beta":4}`; got != want {
		t.Fatalf("marshal = %s, want %s", got, want)
	}
}

func TestMapRejectsNonObject(t *testing.T) {
	t.Parallel()

	var m Map[int]
	if err := json.Unmarshal([]byte(`[1,2]`), &m); err == nil {
		t.Fatalf("expected error for array input")
	}
	if err := json.Unmarshal([]byte(`null`), &m); err != nil || m.Len() != 0 {
		t.Fatalf("null should decode to empty map, err=%v len=%d", err, m.Len())
	}
}

func TestStoreMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "doc.json")
	s, err := New[Map[counter]](path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = s.View(context.Background(), func(doc *Map[counter]) error {
		if doc.Len() != 0 {
			t.Fatalf("expected empty document, got %d keys", doc.Len())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("View must not create the file, stat err=%v", err)
	}

	if err := s.Update(context.Background(), func(doc *Map[counter]) error {
		doc.Set("a", counter{N: 1})
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "{\n  \"a\": {\n    \"n\": 1\n  }\n}\n"
	if string(b) != want {
		t.Fatalf("file = %q, want %q", b, want)
	}
}

func TestStoreCorruptFileResets(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "doc.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	var logs bytes.Buffer
	s, err := New[Map[counter]](path, WithLogger(logx.NewWith(&logs, "DEBUG")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = s.Update(context.Background(), func(doc *Map[counter]) error {
		if doc.Len() != 0 {
			t.Fatalf("corrupt document should load empty")
		}
		doc.Set("fresh", counter{N: 7})
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !bytes.Contains(logs.Bytes(), []byte("document unreadable")) {
		t.Fatalf("expected a warning, logs=%s", logs.String())
	}

	var got Map[counter]
	b, _ := os.ReadFile(path)
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if v, ok := got.Get("fresh"); !ok || v.N != 7 {
		t.Fatalf("unexpected reloaded doc: %s", b)
	}
}

func TestStoreUpdateErrorDoesNotWrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "doc.json")
	s, _ := New[Map[counter]](path)
	boom := os.ErrInvalid
	err := s.Update(context.Background(), func(doc *Map[counter]) error {
		doc.Set("x", counter{N: 1})
		return boom
	})
	if err != boom {
		t.Fatalf("Update err = %v, want %v", err, boom)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file should not exist after failed update")
	}
}

func TestStoreSharedLockSerializesUpdates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var mu sync.Mutex
	a, _ := New[Map[counter]](filepath.Join(dir, "a.json"), WithLock(&mu))
	b, _ := New[Map[counter]](filepath.Join(dir, "b.json"), WithLock(&mu))

	const workers, per = 8, 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := a
			if i%2 == 1 {
				s = b
			}
			for j := 0; j < per; j++ {
				_ = s.Update(context.Background(), func(doc *Map[counter]) error {
					c, _ := doc.Get("hits")
					c.N++
					doc.Set("hits", c)
					return nil
				})
			}
		}(i)
	}
	wg.Wait()

	for _, s := range []*Store[Map[counter]]{a, b} {
		_ = s.View(context.Background(), func(doc *Map[counter]) error {
			c, _ := doc.Get("hits")
			if c.N != workers/2*per {
				t.Fatalf("%s hits = %d, want %d", s.Path(), c.N, workers/2*per)
			}
			return nil
		})
	}
}

func TestStoreCanceledContext(t *testing.T) {
	t.Parallel()

	s, _ := New[Map[counter]](filepath.Join(t.TempDir(), "doc.json"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Update(ctx, func(*Map[counter]) error { return nil }); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestNewRequiresPath(t *testing.T) {
	if _, err := New[Map[int]](""); err != ErrNoPath {
		t.Fatalf("New(\"\") err = %v, want ErrNoPath", err)
	}
}
