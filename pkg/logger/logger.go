package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a case-insensitive level name to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "FATAL":
		return FATAL, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
)

// sink is shared between a logger and the children derived from it so that
// SetOutput/SetLevel on the root are seen everywhere.
type sink struct {
	mu         sync.Mutex
	out        io.Writer
	level      LogLevel
	colorize   bool
	showCaller bool
	showTime   bool
	timeFormat string
}

type Logger struct {
	s      *sink
	prefix string
}

var (
	defaultLogger *Logger
	once          sync.Once
)

type Config struct {
	Level      LogLevel
	Prefix     string
	Colorize   bool
	ShowCaller bool
	ShowTime   bool
	TimeFormat string
	Output     io.Writer
}

func DefaultConfig() Config {
	return Config{
		Level:      INFO,
		Colorize:   true,
		ShowTime:   true,
		TimeFormat: "2006-01-02 15:04:05",
		Output:     os.Stderr,
	}
}

func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = "2006-01-02 15:04:05"
	}

	return &Logger{
		s: &sink{
			out:        cfg.Output,
			level:      cfg.Level,
			colorize:   cfg.Colorize,
			showCaller: cfg.ShowCaller,
			showTime:   cfg.ShowTime,
			timeFormat: cfg.TimeFormat,
		},
		prefix: cfg.Prefix,
	}
}

// GetLogger returns the process-wide default logger. The level is taken from
// RECITE_LOG_LEVEL, falling back to LOG_LEVEL.
func GetLogger() *Logger {
	once.Do(func() {
		cfg := DefaultConfig()
		env := os.Getenv("RECITE_LOG_LEVEL")
		if env == "" {
			env = os.Getenv("LOG_LEVEL")
		}
		if lvl, err := ParseLevel(env); err == nil {
			cfg.Level = lvl
		}
		defaultLogger = New(cfg)
	})
	return defaultLogger
}

// WithPrefix returns a child logger that shares output and level with l and
// tags every line with prefix.
func (l *Logger) WithPrefix(prefix string) *Logger {
	if l.prefix != "" {
		prefix = l.prefix + " " + prefix
	}
	return &Logger{s: l.s, prefix: prefix}
}

func (l *Logger) SetLevel(level LogLevel) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.s.level = level
}

func (l *Logger) Level() LogLevel {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.s.level
}

func (l *Logger) SetOutput(w io.Writer) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.s.out = w
}

func (l *Logger) SetColorize(colorize bool) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.s.colorize = colorize
}

func (l *Logger) SetShowCaller(show bool) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.s.showCaller = show
}

func (l *Logger) formatMessage(level LogLevel, msg string, args ...any) string {
	var parts []string

	if l.s.showTime {
		parts = append(parts, time.Now().Format(l.s.timeFormat))
	}

	levelStr := fmt.Sprintf("[%s]", level.String())
	if l.s.colorize {
		switch level {
		case DEBUG:
			levelStr = colorGray + levelStr + colorReset
		case INFO:
			levelStr = colorBlue + levelStr + colorReset
		case WARN:
			levelStr = colorYellow + levelStr + colorReset
		case ERROR, FATAL:
			levelStr = colorRed + levelStr + colorReset
		}
	}
	parts = append(parts, levelStr)

	if l.s.showCaller {
		if _, file, line, ok := runtime.Caller(3); ok {
			if idx := strings.LastIndex(file, "/"); idx >= 0 {
				file = file[idx+1:]
			}
			parts = append(parts, fmt.Sprintf("%s:%d", file, line))
		}
	}

	if l.prefix != "" {
		parts = append(parts, l.prefix)
	}

	if len(args) > 0 {
		parts = append(parts, fmt.Sprintf(msg, args...))
	} else {
		parts = append(parts, msg)
	}

	return strings.Join(parts, " ")
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	if level < l.s.level {
		return
	}

	fmt.Fprintln(l.s.out, l.formatMessage(level, msg, args...))

	if level == FATAL {
		os.Exit(1)
	}
}

// Debugf logs a formatted message at DEBUG level
func (l *Logger) Debugf(format string, args ...any) {
	l.log(DEBUG, format, args...)
}

// Infof logs a formatted message at INFO level
func (l *Logger) Infof(format string, args ...any) {
	l.log(INFO, format, args...)
}

// Warnf logs a formatted message at WARN level
func (l *Logger) Warnf(format string, args ...any) {
	l.log(WARN, format, args...)
}

// Errorf logs a formatted message at ERROR level
func (l *Logger) Errorf(format string, args ...any) {
	l.log(ERROR, format, args...)
}

// Fatalf logs a formatted message at FATAL level and exits the program
func (l *Logger) Fatalf(format string, args ...any) {
	l.log(FATAL, format, args...)
}

// Package-level convenience functions using the default logger

func Debugf(format string, args ...any) { GetLogger().Debugf(format, args...) }
func Infof(format string, args ...any)  { GetLogger().Infof(format, args...) }
func Warnf(format string, args ...any)  { GetLogger().Warnf(format, args...) }
func Errorf(format string, args ...any) { GetLogger().Errorf(format, args...) }
func Fatalf(format string, args ...any) { GetLogger().Fatalf(format, args...) }

// SetLevel sets the log level for the default logger
func SetLevel(level LogLevel) {
	GetLogger().SetLevel(level)
}

// SetOutput sets the output for the default logger
func SetOutput(w io.Writer) {
	GetLogger().SetOutput(w)
}
