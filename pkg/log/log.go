// Package log defines the logger interface consumed throughout the runtime
// and a zerolog-backed implementation of it. Components treat a nil Logger
// as "log nothing".
package log

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
)

// Logger is the minimal logging surface the runtime depends on.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

// Level controls the minimum severity an implementation emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type zeroLogger struct {
	l zerolog.Logger
}

// NewZerolog returns a Logger writing structured JSON lines to w at the
// given minimum level.
func NewZerolog(w io.Writer, level Level) Logger {
	return &zeroLogger{
		l: zerolog.New(w).Level(level.zerolog()).With().Timestamp().Logger(),
	}
}

// NewConsole returns a Logger writing human-readable, colorized lines to
// stderr at the given minimum level.
func NewConsole(level Level) Logger {
	cw := zerolog.ConsoleWriter{
		Out:         os.Stderr,
		TimeFormat:  "15:04:05.000",
		FormatLevel: colorLevel,
	}
	return &zeroLogger{
		l: zerolog.New(cw).Level(level.zerolog()).With().Timestamp().Logger(),
	}
}

func colorLevel(i interface{}) string {
	lvl, _ := i.(string)
	switch lvl {
	case "debug":
		return color.New(color.FgMagenta).Sprint("DBG")
	case "info":
		return color.New(color.FgGreen).Sprint("INF")
	case "warn":
		return color.New(color.FgYellow).Sprint("WRN")
	case "error":
		return color.New(color.FgRed).Sprint("ERR")
	default:
		return lvl
	}
}

func (z *zeroLogger) Debug(msg string) { z.l.Debug().Msg(msg) }
func (z *zeroLogger) Info(msg string)  { z.l.Info().Msg(msg) }
func (z *zeroLogger) Warn(msg string)  { z.l.Warn().Msg(msg) }
func (z *zeroLogger) Error(msg string) { z.l.Error().Msg(msg) }
