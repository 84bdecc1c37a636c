package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables read on every load. They win over the config file.
const (
	EnvToken              = "BOT_TOKEN"
	EnvDestination        = "DESTINATION_CHAT_ID"
	EnvLedgerFile         = "DB_FILE"
	EnvAccountsFile       = "ACCOUNTS_FILE"
	EnvAdminIDs           = "ADMIN_IDS"
	EnvLogLevel           = "LOG_LEVEL"
	EnvTimezone           = "TIMEZONE"
	EnvTimeFormat         = "TIME_FORMAT"
	EnvMissingDestination = "MISSING_DESTINATION"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays environment values on cfg using lookup (os.LookupEnv in
// production). Only variables that are set and non-empty are applied.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvDestination); ok {
		cfg.Telegram.DestinationChat = v
	}
	if v, ok := get(EnvLedgerFile); ok {
		cfg.Ledger.Path = v
	}
	if v, ok := get(EnvAccountsFile); ok {
		cfg.Inventory.Path = v
	}
	if v, ok := get(EnvAdminIDs); ok {
		ids, err := parseIDList(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAdminIDs, err)
		}
		cfg.Telegram.AdminIDs = ids
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
	if v, ok := get(EnvTimezone); ok {
		cfg.Ledger.Timezone = v
	}
	if v, ok := get(EnvTimeFormat); ok {
		cfg.Ledger.TimeFormat = v
	}
	if v, ok := get(EnvMissingDestination); ok {
		cfg.Ledger.MissingDestination = v
	}
	return nil
}

// parseIDList accepts ids separated by commas, semicolons or spaces.
func parseIDList(s string) ([]int64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})
	out := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q", f)
		}
		out = append(out, id)
	}
	return out, nil
}
