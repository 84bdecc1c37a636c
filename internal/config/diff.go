package config

import (
	"reflect"
	"sort"
	"strings"

	logx "refebot/pkg/logx"
)

// RestartRequired lists sections whose changes only apply after a restart.
var RestartRequired = map[string]bool{
	"ledger.path":    true,
	"inventory.path": true,
	"storage":        true,
	"telegram.token": true,
}

// SummarizeConfigChange returns the changed sections (sorted) and safe
// structured fields for logging. Secrets such as the token are never
// included; only whether they changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)
	o, n := oldCfg.Telegram, newCfg.Telegram

	if o.Token != n.Token {
		changed = append(changed, "telegram.token")
	}
	if !reflect.DeepEqual(o.AdminIDs, n.AdminIDs) ||
		strings.TrimSpace(o.DestinationChat) != strings.TrimSpace(n.DestinationChat) ||
		strings.TrimSpace(o.GroupLog) != strings.TrimSpace(n.GroupLog) ||
		strings.TrimSpace(o.PollTimeout) != strings.TrimSpace(n.PollTimeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.admin_count", len(n.AdminIDs)),
			logx.Bool("telegram.destination_set", strings.TrimSpace(n.DestinationChat) != ""),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(n.GroupLog) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	ol, nl := oldCfg.Ledger, newCfg.Ledger
	if NormalizePath(ol.Path) != NormalizePath(nl.Path) {
		changed = append(changed, "ledger.path")
	}
	ol.Path, nl.Path = "", ""
	if ol != nl {
		changed = append(changed, "ledger")
		attrs = append(attrs,
			logx.String("ledger.timezone", nl.Timezone),
			logx.String("ledger.time_format", nl.TimeFormat),
			logx.String("ledger.missing_destination", nl.MissingDestination),
			logx.Int("ledger.top_size", nl.TopSize),
			logx.String("ledger.monthly_report", nl.MonthlyReport),
		)
	}
	if NormalizePath(oldCfg.Inventory.Path) != NormalizePath(newCfg.Inventory.Path) {
		changed = append(changed, "inventory.path")
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		if nn := newCfg.Notifier; nn != nil {
			attrs = append(attrs,
				logx.Bool("notifier.enabled", nn.Enabled),
				logx.Int("notifier.workers", nn.Workers),
				logx.Int("notifier.rate_per_sec", nn.RatePerSec),
			)
		}
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if s := newCfg.Storage; s != nil {
			attrs = append(attrs, logx.String("storage.driver", s.Driver), logx.Bool("storage.path_set", s.Path != ""))
		}
	}
	if !reflect.DeepEqual(oldCfg.Plugins, newCfg.Plugins) {
		changed = append(changed, "plugins")
	}

	sort.Strings(changed)
	return changed, attrs
}

// NeedsRestart filters changed sections down to those in RestartRequired.
func NeedsRestart(changed []string) []string {
	var out []string
	for _, c := range changed {
		if RestartRequired[c] {
			out = append(out, c)
		}
	}
	return out
}
