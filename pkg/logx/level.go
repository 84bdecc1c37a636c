package logx

import (
	"strings"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

var levelNames = map[string]Level{
	"TRACE":   LevelTrace,
	"DEBUG":   LevelDebug,
	"INFO":    LevelInfo,
	"WARN":    LevelWarn,
	"WARNING": LevelWarn,
	"ERROR":   LevelError,
}

// ParseLevel accepts the names above, case-insensitively.
func ParseLevel(s string) (Level, bool) {
	lv, ok := levelNames[strings.ToUpper(strings.TrimSpace(s))]
	return lv, ok
}

func levelOr(s string, def Level) Level {
	if lv, ok := ParseLevel(s); ok {
		return lv
	}
	return def
}

// ValidLevel reports whether s is empty (meaning the default) or a known
// level name.
func ValidLevel(s string) bool {
	if strings.TrimSpace(s) == "" {
		return true
	}
	_, ok := ParseLevel(s)
	return ok
}
