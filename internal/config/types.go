package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Ledger    LedgerConfig    `json:"ledger"`
	Inventory InventoryConfig `json:"inventory"`

	Notifier *NotifierConfig            `json:"notifier,omitempty"`
	Storage  *StorageConfig             `json:"storage,omitempty"`
	Plugins  map[string]PluginConfigRaw `json:"plugins,omitempty"`
}

type TelegramConfig struct {
	Token    string  `json:"token"`
	AdminIDs []int64 `json:"admin_ids"`
	// DestinationChat is where /refe forwards photos: a numeric chat id
	// ("-100123...") or a public channel handle ("@mychannel"). Empty
	// disables forwarding.
	DestinationChat string `json:"destination_chat"`
	// GroupLog is the chat that receives log lines when logging.telegram is on.
	GroupLog string `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "1m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// Time formats for the forwarded caption.
const (
	TimeFormat24h = "24h"
	TimeFormat12h = "12h"
)

// What /refe answers when no destination chat is configured.
const (
	MissingDestinationConfirm = "confirm-locally"
	MissingDestinationSilent  = "silent"
)

type LedgerConfig struct {
	Path               string `json:"path"`
	Timezone           string `json:"timezone,omitempty"`
	TimeFormat         string `json:"time_format,omitempty"`
	MissingDestination string `json:"missing_destination,omitempty"`
	TopSize            int    `json:"top_size,omitempty"`
	InfoURL            string `json:"info_url,omitempty"`
	OwnerURL           string `json:"owner_url,omitempty"`
	// MonthlyReport is a cron spec (5 or 6 fields) for posting last month's
	// leaderboard to the destination chat. Empty disables it.
	MonthlyReport string `json:"monthly_report,omitempty"`
}

type InventoryConfig struct {
	Path string `json:"path"`
}

// NotifierConfig controls the async notification pipeline. When the section
// is omitted the notifier runs with defaults.
type NotifierConfig struct {
	Enabled    bool `json:"enabled"`
	Workers    int  `json:"workers"`
	QueueSize  int  `json:"queue_size"`
	RatePerSec int  `json:"rate_per_sec"`
}

// StorageConfig controls the audit trail.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/audit.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// PluginConfigRaw toggles a plugin. Plugins missing from the map are enabled.
type PluginConfigRaw struct {
	Enabled bool `json:"enabled"`
}

// UnmarshalJSON disallows unknown fields so typos surface on reload.
func (p *PluginConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled bool `json:"enabled"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PluginConfigRaw{Enabled: t.Enabled}
	return nil
}

// PluginEnabled reports whether name is enabled. Absent means enabled.
func (c *Config) PluginEnabled(name string) bool {
	if c == nil || c.Plugins == nil {
		return true
	}
	p, ok := c.Plugins[name]
	if !ok {
		return true
	}
	return p.Enabled
}

// IsAdmin reports whether id is in telegram.admin_ids.
func (c *Config) IsAdmin(id int64) bool {
	if c == nil {
		return false
	}
	for _, a := range c.Telegram.AdminIDs {
		if a == id {
			return true
		}
	}
	return false
}
