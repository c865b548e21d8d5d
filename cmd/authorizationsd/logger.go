package main

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/rs/zerolog"
)

// zeroLogger backs glog.Logger with zerolog for the daemon.
type zeroLogger struct {
	base zerolog.Logger
}

func newLogger(level string, format string) glog.Logger {
	var out io.Writer = os.Stderr
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return newLoggerWithOutput(level, out)
}

func newLoggerWithOutput(level string, out io.Writer) glog.Logger {
	base := zerolog.New(out).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()
	return zeroLogger{base: base}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l zeroLogger) Trace(msg string, args ...any) { emit(l.base.Trace(), msg, args) }
func (l zeroLogger) Debug(msg string, args ...any) { emit(l.base.Debug(), msg, args) }
func (l zeroLogger) Info(msg string, args ...any)  { emit(l.base.Info(), msg, args) }
func (l zeroLogger) Warn(msg string, args ...any)  { emit(l.base.Warn(), msg, args) }
func (l zeroLogger) Error(msg string, args ...any) { emit(l.base.Error(), msg, args) }
func (l zeroLogger) Fatal(msg string, args ...any) { emit(l.base.Fatal(), msg, args) }

func (l zeroLogger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		return l
	}
	return zeroLogger{base: l.base.With().Ctx(ctx).Logger()}
}

// emit writes key/value args as fields. A trailing key without a value is
// kept under "arg".
func emit(event *zerolog.Event, msg string, args []any) {
	if event == nil {
		return
	}
	if len(args)%2 == 1 {
		args = append(args[:len(args)-1:len(args)-1], "arg", args[len(args)-1])
	}
	if len(args) > 0 {
		event = event.Fields(args)
	}
	event.Msg(msg)
}
