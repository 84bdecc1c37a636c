package config

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "refebot/pkg/logx"
)

// ConfigManager loads the config file, overlays the environment and
// republishes the result when the file changes on disk.
type ConfigManager struct {
	path    string
	lookup  func(string) (string, bool)
	offline bool

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error

	mu      sync.RWMutex
	current *Config
	digest  uint64

	fanout
}

// NewConfigManager creates a manager for path. An empty path means the
// config comes from the environment and defaults only.
func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, lookup: os.LookupEnv}
}

func (m *ConfigManager) SetLogger(log logx.Logger) {
	m.log = log
	m.fanout.log = log
}

// SetLookup replaces the environment lookup (tests).
func (m *ConfigManager) SetLookup(fn func(string) (string, bool)) { m.lookup = fn }

// SetValidator adds a check that a reloaded config must pass before it is
// committed.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// SetOffline lets Parse succeed without a bot token, for CLI commands that
// only read the local documents.
func (m *ConfigManager) SetOffline(v bool) { m.offline = v }

func (m *ConfigManager) Path() string { return m.path }

// Parse builds a config from the file, the environment and the defaults and
// validates it. Nothing is committed.
func (m *ConfigManager) Parse() (*Config, error) {
	cfg := new(Config)
	if m.path != "" {
		raw, err := os.ReadFile(m.path)
		if err != nil {
			return nil, err
		}
		if err := decodeFile(m.path, raw, cfg); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg, m.lookup); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)

	err := Validate(cfg)
	if m.offline && errors.Is(err, ErrMissingToken) {
		err = nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load parses and commits.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

// Commit makes cfg the current config without notifying subscribers.
func (m *ConfigManager) Commit(cfg *Config) {
	d := digest(cfg)
	m.mu.Lock()
	m.current, m.digest = cfg, d
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *ConfigManager) sameAsCurrent(d uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return d != 0 && d == m.digest
}

// digest fingerprints the effective config so a save that changes nothing
// (or only whitespace) is not republished.
func digest(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}

// NormalizePath makes two spellings of the same file compare equal.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
