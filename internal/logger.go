package internal

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/time/rate"
)

type FieldKey string

const (
	FieldError      FieldKey = "error"
	FieldPort       FieldKey = "port"
	FieldAddr       FieldKey = "addr"
	FieldSerial     FieldKey = "serial"
	FieldCmd        FieldKey = "cmd"
	FieldSessionID  FieldKey = "session_id"
	FieldVariant    FieldKey = "variant"
	FieldGateway    FieldKey = "gateway_id"
	FieldSuppressed FieldKey = "suppressed"
	ConfigPath      FieldKey = "config_path"
)

type Fields map[FieldKey]any

type Level = pterm.LogLevel

const (
	LevelTrace Level = pterm.LogLevelTrace
	LevelDebug Level = pterm.LogLevelDebug
	LevelInfo  Level = pterm.LogLevelInfo
	LevelWarn  Level = pterm.LogLevelWarn
	LevelError Level = pterm.LogLevelError
	LevelFatal Level = pterm.LogLevelFatal
)

var (
	levelNames = map[string]Level{
		"trace":   LevelTrace,
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"fatal":   LevelFatal,
	}

	loggerMu = sync.RWMutex{}

	baseLogger = newBaseLogger()

	currentLevel = LevelInfo
)

func newBaseLogger() *pterm.Logger {
	return pterm.DefaultLogger.WithTime(true).
		WithTimeFormat(time.RFC3339).
		WithMaxWidth(140).
		WithCaller(false).
		AppendKeyStyles(map[string]pterm.Style{
			string(FieldError):  *pterm.NewStyle(pterm.FgRed, pterm.Bold),
			string(FieldSerial): *pterm.NewStyle(pterm.FgCyan),
		})
}

// ParseLevel maps a level name to a Level; empty means info.
func ParseLevel(level string) (Level, error) {
	level = strings.TrimSpace(strings.ToLower(level))
	if level == "" {
		return LevelInfo, nil
	}
	lvl, ok := levelNames[level]
	if !ok {
		return LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
	return lvl, nil
}

// ConfigureLogger sets the level by name. Unknown names fall back to info and
// are reported to the caller.
func ConfigureLogger(level string) error {
	lvl, err := ParseLevel(level)
	SetLogLevel(lvl)
	return err
}

func SetLogLevel(level Level) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	currentLevel = level
	baseLogger.Level = level
}

// SetLogOutput redirects log lines, mostly for tests.
func SetLogOutput(w io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	baseLogger = baseLogger.WithWriter(w)
}

func getLevel() Level {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return currentLevel
}

func shouldLog(level Level) bool {
	return level >= getLevel()
}

func log(level Level, msg string, fields Fields) {
	if !shouldLog(level) {
		return
	}

	loggerMu.RLock()
	logger := baseLogger.WithLevel(currentLevel)
	loggerMu.RUnlock()

	args := makeLoggerArgs(fields)

	switch level {
	case LevelTrace:
		logger.Trace(msg, args)
	case LevelDebug:
		logger.Debug(msg, args)
	case LevelWarn:
		logger.Warn(msg, args)
	case LevelError:
		logger.Error(msg, args)
	case LevelFatal:
		logger.Fatal(msg, args)
	default:
		logger.Info(msg, args)
	}
}

func makeLoggerArgs(fields Fields) []pterm.LoggerArgument {
	if len(fields) == 0 {
		return nil
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	args := make([]pterm.LoggerArgument, 0, len(keys))
	for _, key := range keys {
		args = append(args, pterm.LoggerArgument{Key: key, Value: fields[FieldKey(key)]})
	}
	return args
}

func Trace(msg string, fields Fields) { log(LevelTrace, msg, fields) }
func Debug(msg string, fields Fields) { log(LevelDebug, msg, fields) }
func Info(msg string, fields Fields)  { log(LevelInfo, msg, fields) }
func Warn(msg string, fields Fields)  { log(LevelWarn, msg, fields) }
func Error(msg string, fields Fields) { log(LevelError, msg, fields) }

// LimitedLogger drops lines once its token bucket is empty and reports how
// many were dropped on the next line that gets through.
type LimitedLogger struct {
	lim        *rate.Limiter
	mu         sync.Mutex
	suppressed int
}

func NewLimitedLogger(every time.Duration, burst int) *LimitedLogger {
	return &LimitedLogger{lim: rate.NewLimiter(rate.Every(every), burst)}
}

// Warn logs at warn level and reports whether the line was emitted.
func (l *LimitedLogger) Warn(msg string, fields Fields) bool {
	if !l.lim.Allow() {
		l.mu.Lock()
		l.suppressed++
		l.mu.Unlock()
		return false
	}
	l.mu.Lock()
	n := l.suppressed
	l.suppressed = 0
	l.mu.Unlock()

	if n > 0 {
		out := make(Fields, len(fields)+1)
		for k, v := range fields {
			out[k] = v
		}
		out[FieldSuppressed] = n
		fields = out
	}
	Warn(msg, fields)
	return true
}
