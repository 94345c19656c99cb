// Package utils holds small collaborators shared across the connection
// core: the structured logger interface and the RTT estimator.
package utils

import (
	"github.com/sirupsen/logrus"

	"github.com/nitishtalasu/msquic/internal/protocol"
)

// LogLevel mirrors the teacher's Logger.SetLogLevel contract.
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelInfo
	LogLevelDebug
)

// Logger is the connection core's logging contract. Shape kept from the
// teacher's dummyLogger/realLogger pair; the production implementation
// is backed by logrus instead of log.Printf.
type Logger interface {
	DropPacket(ptype protocol.PacketType, pn protocol.PacketNumber, reason string)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
	WithPrefix(prefix string) Logger
	Debug() bool
	SetLogLevel(level LogLevel)
}

// logrusLogger is the production Logger, one *logrus.Entry per prefix
// chain so WithPrefix composes structured fields instead of string
// concatenation.
type logrusLogger struct {
	entry *logrus.Entry
	level LogLevel
}

// NewLogger builds a production Logger rooted at the given logrus
// instance, tagged with a "component" field.
func NewLogger(base *logrus.Logger, component string) Logger {
	if base == nil {
		base = logrus.StandardLogger()
	}
	return &logrusLogger{entry: base.WithField("component", component), level: LogLevelInfo}
}

func (l *logrusLogger) DropPacket(ptype protocol.PacketType, pn protocol.PacketNumber, reason string) {
	l.entry.WithFields(logrus.Fields{
		"packet_type":   ptype.String(),
		"packet_number": int64(pn),
		"reason":        reason,
	}).Debug("dropped packet")
}

func (l *logrusLogger) Debugf(format string, args ...any) {
	if l.level >= LogLevelDebug {
		l.entry.Debugf(format, args...)
	}
}

func (l *logrusLogger) Infof(format string, args ...any) {
	if l.level >= LogLevelInfo {
		l.entry.Infof(format, args...)
	}
}

func (l *logrusLogger) Errorf(format string, args ...any) {
	l.entry.Errorf(format, args...)
}

func (l *logrusLogger) WithPrefix(prefix string) Logger {
	return &logrusLogger{entry: l.entry.WithField("prefix", prefix), level: l.level}
}

func (l *logrusLogger) Debug() bool { return l.level >= LogLevelDebug }

func (l *logrusLogger) SetLogLevel(level LogLevel) { l.level = level }

// NopLogger discards everything; used as the zero-value default and in
// tests that don't care about log output.
type NopLogger struct{}

func (NopLogger) DropPacket(protocol.PacketType, protocol.PacketNumber, string) {}
func (NopLogger) Debugf(string, ...any)                                        {}
func (NopLogger) Infof(string, ...any)                                         {}
func (NopLogger) Errorf(string, ...any)                                        {}
func (NopLogger) WithPrefix(string) Logger                                     { return NopLogger{} }
func (NopLogger) Debug() bool                                                  { return false }
func (NopLogger) SetLogLevel(LogLevel)                                         {}
