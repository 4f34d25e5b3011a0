package logger

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Entry accumulates metric fields (duration_ms, count, status, ...) for a single
// log line. The context decides which logger, and so which tracing fields, it goes to:
//
//	logger.With(logger.Fields{logger.FieldStatus: "completed"}).
//		WithDuration(ms).WithCount(n).Info(ctx, "Clustering run finished")
type Entry struct {
	fields Fields
}

// With starts an Entry with a copy of fields.
func With(fields Fields) *Entry {
	e := &Entry{fields: make(Fields, len(fields)+2)}
	for k, v := range fields {
		e.fields[k] = v
	}
	return e
}

// WithField returns a copy of the Entry with one more field.
func (e *Entry) WithField(key string, value interface{}) *Entry {
	next := With(e.fields)
	next.fields[key] = value
	return next
}

// WithDuration sets duration_ms.
func (e *Entry) WithDuration(ms int64) *Entry {
	return e.WithField(FieldDurationMs, ms)
}

// WithCount sets count.
func (e *Entry) WithCount(n int) *Entry {
	return e.WithField(FieldCount, n)
}

func (e *Entry) logf(ctx context.Context, level logrus.Level, format string, args ...interface{}) {
	FromContext(ctx).WithFields(e.fields).Logf(level, format, args...)
}

func (e *Entry) Debug(ctx context.Context, format string, args ...interface{}) {
	e.logf(ctx, logrus.DebugLevel, format, args...)
}

func (e *Entry) Info(ctx context.Context, format string, args ...interface{}) {
	e.logf(ctx, logrus.InfoLevel, format, args...)
}

func (e *Entry) Warn(ctx context.Context, format string, args ...interface{}) {
	e.logf(ctx, logrus.WarnLevel, format, args...)
}

func (e *Entry) Error(ctx context.Context, format string, args ...interface{}) {
	e.logf(ctx, logrus.ErrorLevel, format, args...)
}
