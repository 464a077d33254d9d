package tracker

import "log/slog"

// trackerLogger wraps slog.Logger to prepend "[Regard]" to all messages
type trackerLogger struct {
	logger *slog.Logger
}

func newTrackerLogger(logger *slog.Logger) *trackerLogger {
	return &trackerLogger{logger: logger}
}

func (tl *trackerLogger) Debug(msg string, args ...any) {
	tl.logger.Debug("[Regard] "+msg, args...)
}

func (tl *trackerLogger) Info(msg string, args ...any) {
	tl.logger.Info("[Regard] "+msg, args...)
}

func (tl *trackerLogger) Warn(msg string, args ...any) {
	tl.logger.Warn("[Regard] "+msg, args...)
}

func (tl *trackerLogger) Error(msg string, args ...any) {
	tl.logger.Error("[Regard] "+msg, args...)
}
