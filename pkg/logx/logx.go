package logx

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger provides structured key/value logging for all components
type Logger struct {
	log       *logrus.Logger
	component string
}

// NewLogger creates a new logger with the given level and component name
func NewLogger(level, component string) *Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	log.SetLevel(parseLevel(level))

	return &Logger{
		log:       log,
		component: component,
	}
}

// SetOutput redirects log output (e.g. to a log file)
func (l *Logger) SetOutput(w io.Writer) {
	l.log.SetOutput(w)
}

// WithComponent returns a logger that tags entries with a different component
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		log:       l.log,
		component: component,
	}
}

// Debug logs a debug message with optional key/value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.entry(keysAndValues).Debug(msg)
}

// Info logs an info message with optional key/value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.entry(keysAndValues).Info(msg)
}

// Warn logs a warning message with optional key/value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.entry(keysAndValues).Warn(msg)
}

// Error logs an error message with optional key/value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.entry(keysAndValues).Error(msg)
}

// LogDebugVerbose logs a debug event with an explicit field map
func (l *Logger) LogDebugVerbose(event string, fields map[string]interface{}) {
	f := logrus.Fields{"component": l.component}
	for k, v := range fields {
		f[k] = v
	}
	l.log.WithFields(f).Debug(event)
}

func (l *Logger) entry(keysAndValues []interface{}) *logrus.Entry {
	fields := logrus.Fields{}
	if l.component != "" {
		fields["component"] = l.component
	}

	// Pairs are folded into fields; a trailing odd value is kept under "extra"
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields[key] = keysAndValues[i+1]
	}
	if len(keysAndValues)%2 != 0 {
		fields["extra"] = keysAndValues[len(keysAndValues)-1]
	}

	return l.log.WithFields(fields)
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
