package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	kit "refebot/internal/transport"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestParseEnvOnly(t *testing.T) {
	t.Parallel()

	m := NewConfigManager("")
	m.SetLookup(envMap(map[string]string{
		EnvToken:       "123:abc",
		EnvDestination: "@refes",
		EnvAdminIDs:    "1, 2;3",
		EnvTimezone:    "UTC",
	}))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token not applied")
	}
	if diff := cmp.Diff([]int64{1, 2, 3}, cfg.Telegram.AdminIDs); diff != "" {
		t.Fatalf("admin ids mismatch (-want +got):\n%s", diff)
	}
	if got := cfg.Destination(); got != (kit.ChatTarget{Username: "@refes"}) {
		t.Fatalf("Destination() = %+v", got)
	}
	if cfg.Ledger.Path != DefaultLedgerPath || cfg.Inventory.Path != DefaultAccountsPath {
		t.Fatalf("default paths not applied: %+v %+v", cfg.Ledger, cfg.Inventory)
	}
	if cfg.Ledger.TopSize != DefaultTopSize || cfg.ClockLayout() != "15:04:05" {
		t.Fatalf("ledger defaults wrong: %+v", cfg.Ledger)
	}
	if !cfg.Logging.Console {
		t.Fatalf("console logging should be on when no sink is configured")
	}
}

func TestMissingTokenIsFatal(t *testing.T) {
	t.Parallel()

	m := NewConfigManager("")
	m.SetLookup(envMap(nil))
	if _, err := m.Load(); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("Load err = %v, want ErrMissingToken", err)
	}
}

func TestOfflineToleratesMissingToken(t *testing.T) {
	t.Parallel()

	m := NewConfigManager("")
	m.SetOffline(true)
	m.SetLookup(envMap(map[string]string{EnvLedgerFile: "refes.json"}))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Ledger.Path != "refes.json" {
		t.Fatalf("ledger path = %q", cfg.Ledger.Path)
	}

	m.SetLookup(envMap(map[string]string{EnvTimeFormat: "13h"}))
	if _, err := m.Parse(); err == nil {
		t.Fatalf("offline parse accepted an invalid time format")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "refebot.yaml", `
telegram:
  token: from-file
  admin_ids: [9]
ledger:
  path: ./a.json
  time_format: 12h
  missing_destination: silent
inventory:
  path: ./b.json
`)
	m := NewConfigManager(p)
	m.SetLookup(envMap(map[string]string{EnvToken: "from-env", EnvLedgerFile: "./c.json"}))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "from-env" || cfg.Ledger.Path != "./c.json" {
		t.Fatalf("env did not win: token=%q path=%q", cfg.Telegram.Token, cfg.Ledger.Path)
	}
	if cfg.Inventory.Path != "./b.json" || cfg.Ledger.MissingDestination != MissingDestinationSilent {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.ClockLayout() != "03:04:05 PM" {
		t.Fatalf("ClockLayout() = %q", cfg.ClockLayout())
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "refebot.json", `{"telegram":{"token":"x","tokne":"typo"}}`)
	m := NewConfigManager(p)
	m.SetLookup(envMap(nil))
	if _, err := m.Parse(); err == nil {
		t.Fatalf("expected unknown field error")
	}

	p = writeFile(t, "two.json", `{"telegram":{"token":"x"}}{}`)
	m = NewConfigManager(p)
	m.SetLookup(envMap(nil))
	if _, err := m.Parse(); err == nil {
		t.Fatalf("expected trailing data error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		c := &Config{Telegram: TelegramConfig{Token: "t"}}
		ApplyDefaults(c)
		return c
	}
	cases := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"bad time format", func(c *Config) { c.Ledger.TimeFormat = "13h" }, false},
		{"bad fallback", func(c *Config) { c.Ledger.MissingDestination = "shout" }, false},
		{"bad timezone", func(c *Config) { c.Ledger.Timezone = "Mars/Olympus" }, false},
		{"good timezone", func(c *Config) { c.Ledger.Timezone = "America/Bogota" }, true},
		{"bad destination", func(c *Config) { c.Telegram.DestinationChat = "channel" }, false},
		{"numeric destination", func(c *Config) { c.Telegram.DestinationChat = "-100123" }, true},
		{"bad cron", func(c *Config) { c.Ledger.MonthlyReport = "every month" }, false},
		{"monthly cron", func(c *Config) { c.Ledger.MonthlyReport = "0 9 1 * *" }, true},
		{"descriptor cron", func(c *Config) { c.Ledger.MonthlyReport = "@monthly" }, true},
		{"same paths", func(c *Config) { c.Inventory.Path = "./" + c.Ledger.Path }, false},
		{"bad level", func(c *Config) { c.Logging.Level = "chatty" }, false},
		{"bad storage", func(c *Config) { c.Storage = &StorageConfig{Driver: "mongo", Path: "x"} }, false},
		{"storage without path", func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite"} }, false},
		{"sqlite storage", func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite", Path: "a.db", BusyTimeout: "2s"} }, true},
		{"bad group log", func(c *Config) { c.Telegram.GroupLog = "@logs" }, false},
	}
	for _, tc := range cases {
		c := base()
		tc.mutate(c)
		err := Validate(c)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestParseChatTarget(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want kit.ChatTarget
		ok   bool
	}{
		{"", kit.ChatTarget{}, true},
		{"-1001234", kit.ChatTarget{ChatID: -1001234}, true},
		{" @canal ", kit.ChatTarget{Username: "@canal"}, true},
		{"@", kit.ChatTarget{}, false},
		{"0", kit.ChatTarget{}, false},
		{"abc", kit.ChatTarget{}, false},
	}
	for _, tc := range cases {
		got, err := ParseChatTarget(tc.in)
		if (err == nil) != tc.ok {
			t.Fatalf("ParseChatTarget(%q) err = %v, ok want %v", tc.in, err, tc.ok)
		}
		if got != tc.want {
			t.Fatalf("ParseChatTarget(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	a := &Config{Telegram: TelegramConfig{Token: "secret-a"}}
	ApplyDefaults(a)
	b := *a
	b.Telegram.Token = "secret-b"
	b.Telegram.AdminIDs = []int64{1}
	b.Ledger.TimeFormat = TimeFormat12h
	b.Ledger.Path = "other.json"

	changed, attrs := SummarizeConfigChange(a, &b)
	want := []string{"ledger", "ledger.path", "telegram", "telegram.token"}
	if diff := cmp.Diff(want, changed); diff != "" {
		t.Fatalf("changed mismatch (-want +got):\n%s", diff)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected log attrs")
	}
	if diff := cmp.Diff([]string{"ledger.path", "telegram.token"}, NeedsRestart(changed)); diff != "" {
		t.Fatalf("NeedsRestart mismatch (-want +got):\n%s", diff)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "refebot.json", `{"telegram":{"token":"t"},"ledger":{"top_size":5}}`)
	m := NewConfigManager(p)
	m.SetLookup(envMap(nil))
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// invalid content is rejected and the committed config stays
	if err := os.WriteFile(p, []byte(`{"telegram":{"token":"t"},"ledger":{"time_format":"25h"}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(600 * time.Millisecond)
	if got := m.Get().Ledger.TopSize; got != 5 {
		t.Fatalf("invalid reload was committed, top_size=%d", got)
	}

	if err := os.WriteFile(p, []byte(`{"telegram":{"token":"t"},"ledger":{"top_size":3}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case cfg := <-sub:
		if cfg.Ledger.TopSize != 3 {
			t.Fatalf("published top_size = %d, want 3", cfg.Ledger.TopSize)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no config published")
	}
}

func TestLoadDotEnvIgnoresMissing(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env"), ""); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	p := writeFile(t, ".env", "REFEBOT_TEST_DOTENV=hola\n")
	t.Setenv("REFEBOT_TEST_DOTENV", "")
	os.Unsetenv("REFEBOT_TEST_DOTENV")
	if err := LoadDotEnv(p); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("REFEBOT_TEST_DOTENV"); got != "hola" {
		t.Fatalf("dotenv value = %q", got)
	}
}

func TestExampleConfigParses(t *testing.T) {
	t.Parallel()

	m := NewConfigManager(filepath.Join("..", "..", "config.example.yaml"))
	m.SetLookup(envMap(map[string]string{EnvToken: "123:abc"}))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse example: %v", err)
	}
	if cfg.Ledger.InfoURL == "" || cfg.Ledger.OwnerURL == "" || cfg.Ledger.MonthlyReport == "" {
		t.Fatalf("example ledger section incomplete: %+v", cfg.Ledger)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("example storage = %+v", cfg.Storage)
	}
}
