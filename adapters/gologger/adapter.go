package gologger

import (
	"context"

	"github.com/goliatone/go-authorizations/core"
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// Resolve uses deterministic precedence provider > logger > nop. The
// returned logger and provider redact credential fields.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	resolvedProvider, resolvedLogger := glog.Resolve(name, provider, logger)
	return Redacting(resolvedProvider), RedactingLogger(resolvedLogger)
}

// ToJobProvider maps a glog provider to the go-job logger provider contract.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger maps a glog logger to the go-job logger contract.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves glog logger/provider then returns equivalent go-job adapters.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}

type redactingProvider struct {
	base glog.LoggerProvider
}

func Redacting(provider glog.LoggerProvider) glog.LoggerProvider {
	if provider == nil {
		return nil
	}
	if _, ok := provider.(redactingProvider); ok {
		return provider
	}
	return redactingProvider{base: provider}
}

func (p redactingProvider) GetLogger(name string) glog.Logger {
	return RedactingLogger(p.base.GetLogger(name))
}

type redactingLogger struct {
	base glog.Logger
}

// RedactingLogger masks access and refresh tokens, secrets and similar
// key/value arguments before they reach logger.
func RedactingLogger(logger glog.Logger) glog.Logger {
	logger = glog.Ensure(logger)
	if _, ok := logger.(redactingLogger); ok {
		return logger
	}
	return redactingLogger{base: logger}
}

func (l redactingLogger) Trace(msg string, args ...any) { l.base.Trace(msg, core.RedactLogArgs(args)...) }
func (l redactingLogger) Debug(msg string, args ...any) { l.base.Debug(msg, core.RedactLogArgs(args)...) }
func (l redactingLogger) Info(msg string, args ...any)  { l.base.Info(msg, core.RedactLogArgs(args)...) }
func (l redactingLogger) Warn(msg string, args ...any)  { l.base.Warn(msg, core.RedactLogArgs(args)...) }
func (l redactingLogger) Error(msg string, args ...any) { l.base.Error(msg, core.RedactLogArgs(args)...) }
func (l redactingLogger) Fatal(msg string, args ...any) { l.base.Fatal(msg, core.RedactLogArgs(args)...) }

func (l redactingLogger) WithContext(ctx context.Context) glog.Logger {
	return redactingLogger{base: glog.Ensure(l.base.WithContext(ctx))}
}
