package accounts

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"refebot/internal/docstore"
	"refebot/internal/inventory"
	"refebot/internal/plugin"
	"refebot/internal/storage"
	kit "refebot/internal/transport"
	"refebot/internal/transport/fake"
	logx "refebot/pkg/logx"
	"refebot/pkg/tgui"
)

type harness struct {
	p     *Plugin
	ad    *fake.Adapter
	inv   *inventory.Service
	audit storage.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	st, err := docstore.New[inventory.Document](filepath.Join(dir, "accounts.json"))
	if err != nil {
		t.Fatalf("docstore.New: %v", err)
	}
	audit, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "audit.jsonl")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = audit.Close() })

	h := &harness{p: New(), ad: fake.New(), inv: inventory.New(st), audit: audit}
	ctx := context.Background()
	if err := h.p.Init(ctx, plugin.Deps{Adapter: h.ad, Inventory: h.inv, Store: audit}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := h.p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = h.p.Stop(context.Background()) })
	return h
}

func (h *harness) run(t *testing.T, handle plugin.Command, from kit.User, args ...string) string {
	t.Helper()
	req := &plugin.Request{
		Message: &kit.Message{ID: 1, ChatID: from.ID, From: from},
		Chat:    kit.ChatTarget{ChatID: from.ID},
		From:    from,
		Args:    args,
		Adapter: h.ad,
	}
	if err := handle.Handle(context.Background(), req); err != nil {
		t.Fatalf("/%s: %v", handle.Name, err)
	}
	return h.ad.Last().Text
}

func (h *harness) command(t *testing.T, name string) plugin.Command {
	t.Helper()
	for _, c := range h.p.Commands() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("command %q not registered", name)
	return plugin.Command{}
}

var (
	admin = kit.User{ID: 100, Username: "admin"}
	guest = kit.User{ID: 200, Username: "guest"}
)

func TestNewAccIsAdminOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if got := h.command(t, "newacc").Access; got != plugin.AccessAdminOnly {
		t.Fatalf("newacc access = %v, want admin only", got)
	}
	for _, name := range []string{"acclist", "get", "removeacc"} {
		if got := h.command(t, name).Access; got != plugin.AccessEveryone {
			t.Fatalf("%s access = %v, want everyone", name, got)
		}
	}
}

func TestNewAccValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	add := h.command(t, "newacc")
	if got := h.run(t, add, admin, "netflix", "a@b.c"); !strings.HasPrefix(got, "Uso: /newacc") {
		t.Fatalf("short args reply = %q", got)
	}
	for _, uses := range []string{"0", "-2", "dos"} {
		if got := h.run(t, add, admin, "netflix", "a@b.c", "pw", uses); got != msgBadUses {
			t.Fatalf("uses %q reply = %q", uses, got)
		}
	}
	items, _ := h.inv.List(context.Background())
	if len(items) != 0 {
		t.Fatalf("invalid /newacc stored entries: %+v", items)
	}
}

func TestAccountLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	got := h.run(t, h.command(t, "newacc"), admin, "Netflix", "a@b.c", "p<w>", "2", "perfil", "3")
	if want := "✅ Cuenta <b>Netflix</b> agregada con 2 usos."; got != want {
		t.Fatalf("add reply = %q, want %q", got, want)
	}

	got = h.run(t, h.command(t, "acclist"), guest)
	if want := "📦 Cuentas disponibles\n\n• <b>Netflix</b> (2/2)"; got != want {
		t.Fatalf("list reply = %q, want %q", got, want)
	}

	got = h.run(t, h.command(t, "get"), guest, "NETFLIX")
	want := "🔑 <b>Netflix</b>\n📧 <code>a@b.c</code>\n🔒 <code>p&lt;w&gt;</code>\n♻️ Usos restantes: 1/2\n📝 perfil 3"
	if got != want {
		t.Fatalf("get reply = %q, want %q", got, want)
	}

	got = h.run(t, h.command(t, "get"), guest, "netflix")
	if !strings.Contains(got, "Usos restantes: 0/2") || !strings.Contains(got, "fue eliminada") {
		t.Fatalf("last get reply = %q", got)
	}

	got = h.run(t, h.command(t, "get"), guest, "netflix")
	if want := "❌ No existe una cuenta para <b>netflix</b>."; got != want {
		t.Fatalf("exhausted get reply = %q, want %q", got, want)
	}

	entries, err := h.audit.RecentAudit(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAudit: %v", err)
	}
	var actions []string
	for _, e := range entries {
		actions = append(actions, e.Action+":"+e.Target)
	}
	wantActions := []string{"inventory.add:netflix", "inventory.get:netflix", "inventory.get:netflix"}
	if diff := cmp.Diff(wantActions, actions); diff != "" {
		t.Fatalf("audit mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoveAccRestrictedToCreator(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.run(t, h.command(t, "newacc"), admin, "spotify", "x@y.z", "pw", "3")

	remove := h.command(t, "removeacc")
	if got := h.run(t, remove, guest, "spotify"); got != msgForbidden {
		t.Fatalf("guest remove reply = %q, want %q", got, msgForbidden)
	}
	if items, _ := h.inv.List(context.Background()); len(items) != 1 {
		t.Fatalf("entry removed by non-creator: %+v", items)
	}

	if got, want := h.run(t, remove, admin, "Spotify"), "🗑️ Cuenta <b>Spotify</b> eliminada."; got != want {
		t.Fatalf("creator remove reply = %q, want %q", got, want)
	}
	if got := h.run(t, h.command(t, "acclist"), guest); got != msgEmptyList {
		t.Fatalf("list after remove = %q, want %q", got, msgEmptyList)
	}
}

func TestGetAndRemoveUsage(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if got := h.run(t, h.command(t, "get"), guest); got != tgui.Esc(usageGet).String() {
		t.Fatalf("get usage = %q", got)
	}
	if got := h.run(t, h.command(t, "removeacc"), guest); got != tgui.Esc(usageRemove).String() {
		t.Fatalf("removeacc usage = %q", got)
	}
}
