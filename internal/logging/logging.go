package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus logger behind the small key-value interface the rest
// of the application depends on.
type Logger struct {
	l *logrus.Logger
}

// NewLogger creates a new Logger writing text to stdout at info level.
func NewLogger() *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{l: l}
}

// SetJSON switches the output to JSON lines, for deployments that ship logs.
func (l *Logger) SetJSON() {
	l.l.SetFormatter(&logrus.JSONFormatter{})
}

// SetDebug enables debug-level output.
func (l *Logger) SetDebug() {
	l.l.SetLevel(logrus.DebugLevel)
}

// Debug logs a debug message with alternating key/value args.
func (l *Logger) Debug(msg string, args ...any) {
	l.l.WithFields(fields(args)).Debug(msg)
}

// Info logs an informational message with alternating key/value args.
func (l *Logger) Info(msg string, args ...any) {
	l.l.WithFields(fields(args)).Info(msg)
}

// Warn logs a warning with alternating key/value args.
func (l *Logger) Warn(msg string, args ...any) {
	l.l.WithFields(fields(args)).Warn(msg)
}

// Error logs an error message with alternating key/value args.
func (l *Logger) Error(msg string, args ...any) {
	l.l.WithFields(fields(args)).Error(msg)
}

func fields(args []any) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		f[key] = args[i+1]
	}
	return f
}
