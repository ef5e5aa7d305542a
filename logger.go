package tracker

import "log"

// Logger is the logging seam recoverable conditions flow through: a torn
// tail, a bad checksum, an I/O failure, or a startup gap too large to
// close. The StdLogger returned by NewStdLogger satisfies it by wrapping
// the stdlib log package.
type Logger interface {
	Warnf(format string, args ...any)
	Infof(format string, args ...any)
}

// StdLogger adapts the stdlib *log.Logger to the Logger interface.
type StdLogger struct {
	*log.Logger
}

// NewStdLogger returns a Logger writing through the stdlib default
// logger.
func NewStdLogger() StdLogger {
	return StdLogger{Logger: log.Default()}
}

// Warnf implements Logger.
func (l StdLogger) Warnf(format string, args ...any) {
	l.Printf("WARN "+format, args...)
}

// Infof implements Logger.
func (l StdLogger) Infof(format string, args ...any) {
	l.Printf("INFO "+format, args...)
}

// nopLogger discards everything; used when the caller supplies no Logger.
type nopLogger struct{}

func (nopLogger) Warnf(string, ...any) {}
func (nopLogger) Infof(string, ...any) {}
