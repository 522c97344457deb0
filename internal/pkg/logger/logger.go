package logger

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

type ctxKey struct{}

var root = logrus.New()

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

func init() {
	root.Out = os.Stderr
	root.Formatter = &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: timestampFormat}
}

// Init 设置日志级别和格式（text/json）
func Init(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	root.SetLevel(lvl)

	switch format {
	case "json":
		root.Formatter = &logrus.JSONFormatter{TimestampFormat: timestampFormat}
	default:
		root.Formatter = &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: timestampFormat}
	}
	return nil
}

// Root returns the process-wide logger.
func Root() *logrus.Logger {
	return root
}

// WithContext returns a child context carrying entry.
func WithContext(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, ctxKey{}, entry)
}

// FromContext returns the entry attached by WithContext, or the root logger.
func FromContext(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		if entry, ok := ctx.Value(ctxKey{}).(*logrus.Entry); ok {
			return entry
		}
	}
	return logrus.NewEntry(root)
}

// WithFields is shorthand for FromContext(ctx).WithFields plus a new context.
func WithFields(ctx context.Context, fields logrus.Fields) (context.Context, *logrus.Entry) {
	entry := FromContext(ctx).WithFields(fields)
	return WithContext(ctx, entry), entry
}
