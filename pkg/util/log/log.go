package log

import (
	"io"
	"os"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	dslog "github.com/grafana/dskit/log"
)

// Logger is a shared go-kit logger. It discards everything until InitLogger
// is called, so library packages can log unconditionally.
var Logger = kitlog.NewNopLogger()

// InitLogger initialises the global gokit logger writing to stderr and
// returns that logger.
func InitLogger(logFormat string, logLevel dslog.Level) kitlog.Logger {
	return InitLoggerWithWriter(os.Stderr, logFormat, logLevel)
}

// InitLoggerWithWriter is InitLogger with an explicit destination.
func InitLoggerWithWriter(w io.Writer, logFormat string, logLevel dslog.Level) kitlog.Logger {
	logger := dslog.NewGoKitWithWriter(logFormat, kitlog.NewSyncWriter(w))

	// use UTC timestamps and skip 5 stack frames.
	logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC, "caller", kitlog.Caller(5))

	// Must put the level filter last for efficiency.
	logger = level.NewFilter(logger, logLevel.Option)

	Logger = logger
	return logger
}

// ParseLevel turns a level name such as "debug" or "warn" into a dskit level.
func ParseLevel(s string) (dslog.Level, error) {
	var lvl dslog.Level
	err := lvl.Set(s)
	return lvl, err
}

// With returns the global logger annotated with a component name.
func With(component string) kitlog.Logger {
	return kitlog.With(Logger, "component", component)
}
