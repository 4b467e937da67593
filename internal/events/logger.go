package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/charmbracelet/log"
)

// LoggerAdapter routes watermill logs to a charm logger.
type LoggerAdapter struct {
	logger *log.Logger
	fields watermill.LogFields
}

// NewLoggerAdapter creates a new LoggerAdapter.
func NewLoggerAdapter(logger *log.Logger) *LoggerAdapter {
	return &LoggerAdapter{logger: logger}
}

func (a *LoggerAdapter) keyvals(fields watermill.LogFields) []any {
	merged := a.fields.Add(fields)
	kv := make([]any, 0, len(merged)*2)
	for k, v := range merged {
		kv = append(kv, k, v)
	}
	return kv
}

func (a *LoggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error(msg, append(a.keyvals(fields), "error", err)...)
}

// Info logs at debug level; watermill reports every subscribe and close at info.
func (a *LoggerAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, a.keyvals(fields)...)
}

func (a *LoggerAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, a.keyvals(fields)...)
}

// Trace logs at debug level; charm log has no trace level.
func (a *LoggerAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, a.keyvals(fields)...)
}

func (a *LoggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &LoggerAdapter{logger: a.logger, fields: a.fields.Add(fields)}
}
