// logger.go - Levelled logging with a separate audit trail.
//
// Console output is human readable, the optional log file receives JSON
// lines, and the audit file receives explicit Audit events plus every record
// at WARN or above. Never pass bid secrets or unrevealed amounts to a logger.

package telemetry

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog logger together with the files it owns.
type Logger struct {
	zl        zerolog.Logger
	audit     *zerolog.Logger
	file      *os.File
	auditFile *os.File
}

// ParseLevel maps a config string to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a logger writing to stdout and, when set, to logFile and
// auditFile.
func NewLogger(level string, logFile string, auditFile string) (*Logger, error) {
	return newLogger(os.Stdout, level, logFile, auditFile)
}

func newLogger(console io.Writer, level string, logFile string, auditFile string) (*Logger, error) {
	l := &Logger{}
	writers := []io.Writer{
		zerolog.ConsoleWriter{Out: console, TimeFormat: "2006-01-02 15:04:05"},
	}

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = file
		writers = append(writers, file)
	}

	if auditFile != "" {
		file, err := os.OpenFile(auditFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		l.auditFile = file
		audit := zerolog.New(file).With().Timestamp().Logger()
		l.audit = &audit
		writers = append(writers, warnAndAbove{w: file})
	}

	l.zl = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(level)).
		With().Timestamp().Logger()
	return l, nil
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Close closes the log and audit files.
func (l *Logger) Close() error {
	var firstErr error
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			firstErr = err
		}
		l.file = nil
	}
	if l.auditFile != nil {
		if err := l.auditFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		l.auditFile = nil
	}
	return firstErr
}

// With returns a child logger tagged with a component name. The child shares
// the parent's files; only the parent should be closed.
func (l *Logger) With(component string) *Logger {
	child := *l
	child.zl = l.zl.With().Str("component", component).Logger()
	child.file, child.auditFile = nil, nil
	return &child
}

// Z exposes the underlying zerolog logger for structured fields.
func (l *Logger) Z() *zerolog.Logger {
	return &l.zl
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
}

// Fatal logs and exits the process.
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.zl.WithLevel(zerolog.FatalLevel).Msgf(format, args...)
	l.Close()
	os.Exit(1)
}

// Audit records a security-relevant event in the audit log and at info level.
func (l *Logger) Audit(event string, details map[string]interface{}) {
	if l.audit != nil {
		l.audit.Log().Str("audit", event).Fields(details).Send()
	}
	l.zl.Info().Str("audit", event).Fields(details).Send()
}

// warnAndAbove forwards only WARN or higher records.
type warnAndAbove struct {
	w io.Writer
}

func (a warnAndAbove) Write(p []byte) (int, error) {
	return a.w.Write(p)
}

func (a warnAndAbove) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.WarnLevel {
		return len(p), nil
	}
	return a.w.Write(p)
}
