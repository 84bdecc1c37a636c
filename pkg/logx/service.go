package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "refebot/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

type TelegramConfig struct {
	Enabled    bool
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

// Service owns the live sinks. Loggers taken from it see Apply changes
// without being rebuilt.
type Service struct {
	mu       sync.Mutex
	cfg      Config
	file     *os.File
	filePath string
	tg       *telegramSink

	root atomic.Pointer[zerolog.Logger]
}

// New builds the service, applies cfg and returns it with its root Logger.
// A nil sender leaves the Telegram sink inert.
func New(cfg Config, sender kit.Adapter) (*Service, Logger) {
	setGlobals()
	s := &Service{tg: newTelegramSink(sender)}
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) zl() zerolog.Logger {
	if l := s.root.Load(); l != nil {
		return *l
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{src: s} }

// SetTelegramTarget picks the chat that receives log lines. chatID 0 turns
// delivery off.
func (s *Service) SetTelegramTarget(chatID int64, threadID int) {
	s.tg.setTarget(chatID, threadID)
}

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file, s.filePath = nil, ""
	s.mu.Unlock()

	s.tg.close()
	if f == nil {
		return nil
	}
	return f.Close()
}

// Apply rebuilds the sinks for cfg. The log file is kept open when its path
// did not change.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg

	rps := max(cfg.Telegram.RatePerSec, 1)
	s.tg.configure(levelOr(cfg.Telegram.MinLevel, LevelWarn), rate.NewLimiter(rate.Limit(rps), rps), cfg.Telegram.ThreadID)

	var out []io.Writer
	if cfg.Console {
		out = append(out, newConsoleWriter(stdout))
	}
	if w := s.fileSinkLocked(cfg.File); w != nil {
		out = append(out, w)
	}
	if cfg.Telegram.Enabled {
		s.tg.start()
		out = append(out, s.tg)
		if !s.tg.hasTarget() {
			fmt.Fprintln(stderr, "logx: telegram logging enabled but telegram.group_log is not set")
		}
	}
	if len(out) == 0 {
		out = append(out, newConsoleWriter(stdout))
	}

	l := zerolog.New(zerolog.MultiLevelWriter(out...)).Level(levelOr(cfg.Level, LevelInfo)).With().Timestamp().Logger()
	s.root.Store(&l)
}

const defaultLogFile = "./refebot.log"

func (s *Service) fileSinkLocked(fc FileConfig) io.Writer {
	path := strings.TrimSpace(fc.Path)
	if path == "" {
		path = defaultLogFile
	}
	if s.file != nil && (!fc.Enabled || path != s.filePath) {
		_ = s.file.Close()
		s.file, s.filePath = nil, ""
	}
	if !fc.Enabled {
		return nil
	}
	if s.file == nil {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(stderr, "logx: cannot open log file %q: %v\n", path, err)
			return nil
		}
		s.file, s.filePath = f, path
	}
	return zerolog.SyncWriter(s.file)
}
