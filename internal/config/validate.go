package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	kit "refebot/internal/transport"
	logx "refebot/pkg/logx"
)

// ErrMissingToken is returned when neither the file nor BOT_TOKEN provide a
// bot token.
var ErrMissingToken = errors.New("telegram.token is required (set BOT_TOKEN)")

const (
	DefaultLedgerPath   = "cuentas.json"
	DefaultAccountsPath = "accounts.json"
	DefaultTopSize      = 10
	DefaultPollTimeout  = 10 * time.Second
)

// CronParser accepts standard 5-field specs, an optional leading seconds
// field and descriptors such as "@monthly".
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ApplyDefaults fills unset fields in place.
func ApplyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Ledger.Path) == "" {
		cfg.Ledger.Path = DefaultLedgerPath
	}
	if strings.TrimSpace(cfg.Inventory.Path) == "" {
		cfg.Inventory.Path = DefaultAccountsPath
	}
	if cfg.Ledger.TimeFormat == "" {
		cfg.Ledger.TimeFormat = TimeFormat24h
	}
	if cfg.Ledger.MissingDestination == "" {
		cfg.Ledger.MissingDestination = MissingDestinationConfirm
	}
	if cfg.Ledger.TopSize <= 0 {
		cfg.Ledger.TopSize = DefaultTopSize
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if !cfg.Logging.Console && !cfg.Logging.File.Enabled && !cfg.Logging.Telegram.Enabled {
		cfg.Logging.Console = true
	}
}

// Validate checks a config after defaults and the environment overlay.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, err := Duration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 0); err != nil {
		return err
	}
	if _, err := ParseChatTarget(cfg.Telegram.DestinationChat); err != nil {
		return fmt.Errorf("telegram.destination_chat: %w", err)
	}
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			return fmt.Errorf("telegram.group_log: must be a numeric chat id")
		}
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if !logx.ValidLevel(cfg.Logging.Telegram.MinLevel) {
		return fmt.Errorf("logging.telegram.min_level: unknown level %q", cfg.Logging.Telegram.MinLevel)
	}

	switch cfg.Ledger.TimeFormat {
	case TimeFormat12h, TimeFormat24h:
	default:
		return fmt.Errorf("ledger.time_format: want %q or %q, got %q", TimeFormat12h, TimeFormat24h, cfg.Ledger.TimeFormat)
	}
	switch cfg.Ledger.MissingDestination {
	case MissingDestinationConfirm, MissingDestinationSilent:
	default:
		return fmt.Errorf("ledger.missing_destination: want %q or %q, got %q",
			MissingDestinationConfirm, MissingDestinationSilent, cfg.Ledger.MissingDestination)
	}
	if _, err := cfg.Location(); err != nil {
		return fmt.Errorf("ledger.timezone: %w", err)
	}
	if spec := strings.TrimSpace(cfg.Ledger.MonthlyReport); spec != "" {
		if _, err := CronParser.Parse(spec); err != nil {
			return fmt.Errorf("ledger.monthly_report: %w", err)
		}
	}
	if NormalizePath(cfg.Ledger.Path) == NormalizePath(cfg.Inventory.Path) {
		return errors.New("ledger.path and inventory.path must differ")
	}

	if n := cfg.Notifier; n != nil {
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 {
			return errors.New("notifier: workers, queue_size and rate_per_sec must be >= 0")
		}
	}
	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				return errors.New("storage.path is required")
			}
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := Duration("storage.busy_timeout", s.BusyTimeout, 0); err != nil {
			return err
		}
	}
	// last, so offline callers can tolerate it and still get the checks above
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return ErrMissingToken
	}
	return nil
}

// Location resolves ledger.timezone. Empty means the host zone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Ledger.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

// ClockLayout returns the Go time layout for ledger.time_format.
func (c *Config) ClockLayout() string {
	if c.Ledger.TimeFormat == TimeFormat12h {
		return "03:04:05 PM"
	}
	return "15:04:05"
}

// PollTimeout returns telegram.poll_timeout or the default.
func (c *Config) PollTimeout() time.Duration {
	d, err := Duration("telegram.poll_timeout", c.Telegram.PollTimeout, DefaultPollTimeout)
	if err != nil {
		return DefaultPollTimeout
	}
	return d
}

// GroupLogID returns telegram.group_log as a chat id, 0 when unset.
func (c *Config) GroupLogID() int64 {
	id, _ := strconv.ParseInt(strings.TrimSpace(c.Telegram.GroupLog), 10, 64)
	return id
}

// ParseChatTarget parses "-100123" or "@channel". Empty input yields the
// zero target and no error.
func ParseChatTarget(s string) (kit.ChatTarget, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return kit.ChatTarget{}, nil
	}
	if strings.HasPrefix(s, "@") {
		if len(s) < 2 || strings.ContainsAny(s, " \t/") {
			return kit.ChatTarget{}, fmt.Errorf("invalid channel handle %q", s)
		}
		return kit.ChatTarget{Username: s}, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return kit.ChatTarget{}, fmt.Errorf("want a numeric chat id or @channel, got %q", s)
	}
	return kit.ChatTarget{ChatID: id}, nil
}

// Destination returns the parsed telegram.destination_chat.
func (c *Config) Destination() kit.ChatTarget {
	t, _ := ParseChatTarget(c.Telegram.DestinationChat)
	return t
}
