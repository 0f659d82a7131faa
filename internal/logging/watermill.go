package logging

import (
	"context"
	"sort"

	"github.com/ThreeDotsLabs/watermill"
)

// watermillAdapter routes watermill's internal logging into a Logger.
// Trace messages are logged at debug level.
type watermillAdapter struct {
	l Logger
}

// Watermill adapts l to watermill.LoggerAdapter.
func Watermill(l Logger) watermill.LoggerAdapter {
	return watermillAdapter{l: l}
}

func kv(fields watermill.LogFields) []any {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return args
}

func (a watermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.l.Error(context.Background(), msg, append(kv(fields), "error", err)...)
}

func (a watermillAdapter) Info(msg string, fields watermill.LogFields) {
	a.l.Info(context.Background(), msg, kv(fields)...)
}

func (a watermillAdapter) Debug(msg string, fields watermill.LogFields) {
	a.l.Debug(context.Background(), msg, kv(fields)...)
}

func (a watermillAdapter) Trace(msg string, fields watermill.LogFields) {
	a.l.Debug(context.Background(), msg, kv(fields)...)
}

func (a watermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillAdapter{l: a.l.With(kv(fields)...)}
}
