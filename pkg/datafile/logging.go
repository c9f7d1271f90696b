package datafile

import "github.com/McKenzieNeuro/spyking-circus/internal/logger"

// Logger receives resolution diagnostics from the data-access layer.
// The default implementation forwards to internal/logger; tests substitute
// recording loggers.
type Logger interface {
	Debug(format string, v ...any)
	Info(format string, v ...any)
	Warn(format string, v ...any)
	Error(format string, v ...any)
}

type defaultLogger struct{}

func (defaultLogger) Debug(format string, v ...any) { logger.Debug(format, v...) }
func (defaultLogger) Info(format string, v ...any)  { logger.Info(format, v...) }
func (defaultLogger) Warn(format string, v ...any)  { logger.Warn(format, v...) }
func (defaultLogger) Error(format string, v ...any) { logger.Error(format, v...) }
