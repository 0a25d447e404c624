package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
)

// New builds a stdout-only logger. Development gets the console writer, anything
// else gets JSON lines.
func New(env, level string) zerolog.Logger {
	return NewWithWriter(env, level, os.Stdout)
}

// FromConfig is New plus an optional rotated JSON log file.
func FromConfig(cfg config.Config) zerolog.Logger {
	if cfg.LogFile.Path == "" {
		return New(cfg.Env, cfg.LogLevel)
	}
	file := &lumberjack.Logger{
		Filename:   cfg.LogFile.Path,
		MaxSize:    cfg.LogFile.MaxSizeMB,
		MaxBackups: cfg.LogFile.MaxBackups,
		MaxAge:     cfg.LogFile.MaxAgeDays,
		Compress:   cfg.LogFile.Compress,
	}
	return build(parseLevel(cfg.LogLevel), zerolog.MultiLevelWriter(stdoutWriter(cfg.Env, os.Stdout), file))
}

func NewWithWriter(env, level string, out io.Writer) zerolog.Logger {
	return build(parseLevel(level), stdoutWriter(env, out))
}

func stdoutWriter(env string, out io.Writer) io.Writer {
	if env == "dev" {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return out
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func build(lvl zerolog.Level, w io.Writer) zerolog.Logger {
	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}
