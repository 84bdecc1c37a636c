package logx

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Process-wide sinks, swapped in tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// Field adds one key to an event. Later fields override earlier ones with
// the same key.
type Field func(e *zerolog.Event)

func String(k, v string) Field {
	return func(e *zerolog.Event) { e.Str(k, v) }
}

func Int(k string, v int) Field {
	return func(e *zerolog.Event) { e.Int(k, v) }
}

func Int64(k string, v int64) Field {
	return func(e *zerolog.Event) { e.Int64(k, v) }
}

func Uint64(k string, v uint64) Field {
	return func(e *zerolog.Event) { e.Uint64(k, v) }
}

func Bool(k string, v bool) Field {
	return func(e *zerolog.Event) { e.Bool(k, v) }
}

func Time(k string, v time.Time) Field {
	return func(e *zerolog.Event) { e.Time(k, v) }
}

func Duration(k string, d time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, d) }
}

// Any encodes v with encoding/json.
func Any(k string, v any) Field {
	return func(e *zerolog.Event) { e.Interface(k, v) }
}

// Err adds the error under "err". A nil error adds nothing.
func Err(err error) Field {
	if err == nil {
		return nil
	}
	return func(e *zerolog.Event) { e.Err(err) }
}

// source yields the zerolog logger a Logger writes through. Service is one;
// fixed wraps a standalone logger.
type source interface {
	zl() zerolog.Logger
}

type fixed struct{ l zerolog.Logger }

func (f fixed) zl() zerolog.Logger { return f.l }

// Logger is a structured logger value. Loggers obtained from a Service
// follow its Apply calls. The zero value discards everything.
type Logger struct {
	src    source
	fields []Field
}

// Nop never writes.
func Nop() Logger { return Logger{src: fixed{zerolog.Nop()}} }

// NewConsole is a standalone console logger for code that runs before (or
// without) a Service, such as bootstrap and CLI commands.
func NewConsole(level string) Logger {
	setGlobals()
	l := zerolog.New(newConsoleWriter(stdout)).Level(levelOr(level, LevelInfo)).With().Timestamp().Logger()
	return Logger{src: fixed{l}}
}

// NewWith writes JSON lines to w. Mostly for tests.
func NewWith(w io.Writer, level string) Logger {
	l := zerolog.New(w).Level(levelOr(level, LevelInfo)).With().Timestamp().Logger()
	return Logger{src: fixed{l}}
}

func setGlobals() {
	zerolog.TimeFieldFormat = consoleTimeFormat
	zerolog.ErrorFieldName = "err"
}

func (l Logger) IsZero() bool { return l.src == nil && len(l.fields) == 0 }

func (l Logger) target() zerolog.Logger {
	if l.src == nil {
		return zerolog.Nop()
	}
	return l.src.zl()
}

// Enabled reports whether a line at level would be written.
func (l Logger) Enabled(level Level) bool {
	return level >= l.target().GetLevel()
}

// With returns a copy that adds fields to every line.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	l.fields = append(merged, fields...)
	return l
}

func (l Logger) Debug(msg string, fields ...Field) { l.write(LevelDebug, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.write(LevelInfo, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.write(LevelWarn, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.write(LevelError, msg, fields) }

// callerDepth skips write and the exported level method.
const callerDepth = 3

func (l Logger) write(level Level, msg string, fields []Field) {
	zl := l.target()
	ev := zl.WithLevel(level)
	if ev == nil {
		return
	}
	if _, file, line, ok := runtime.Caller(callerDepth); ok {
		ev.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	apply(ev, l.fields)
	apply(ev, fields)
	ev.Msg(msg)
}

func apply(ev *zerolog.Event, fields []Field) {
	for _, f := range fields {
		if f != nil {
			f(ev)
		}
	}
}

func newConsoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   consoleTimeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}
