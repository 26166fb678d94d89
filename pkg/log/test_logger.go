package log

import (
	"io"
	"sync"
)

// unit tests helper to check log messages
type TestLogger struct {
	Logger   *DefaultLogger
	Messages map[string][]string
	Level    LogLevel
	mu       sync.Mutex
}

func NewTestLogger() *TestLogger {
	l := NewDefaultLogger()
	l.SetOutput(io.Discard)
	return &TestLogger{
		Logger:   l,
		Messages: make(map[string][]string),
		Level:    InfoLevel,
	}
}

func (m *TestLogger) record(level, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages[level] = append(m.Messages[level], msg)
}

// Count returns how many messages were recorded at level.
func (m *TestLogger) Count(level string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Messages[level])
}

func (m *TestLogger) Panic(msg string, fields Fields) {
	m.record("panic", msg)
	m.Logger.Panic(msg, fields)
}

func (m *TestLogger) Fatal(msg string, fields Fields) {
	m.record("fatal", msg)
	m.Logger.Fatal(msg, fields)
}

func (m *TestLogger) Error(msg string, fields Fields) {
	m.Logger.Error(msg, fields)
	m.record("error", msg)
}

func (m *TestLogger) Warn(msg string, fields Fields) {
	m.Logger.Warn(msg, fields)
	m.record("warn", msg)
}

func (m *TestLogger) Info(msg string, fields Fields) {
	m.Logger.Info(msg, fields)
	m.record("info", msg)
}

func (m *TestLogger) Debug(msg string, fields Fields) {
	m.Logger.Debug(msg, fields)
	m.record("debug", msg)
}

func (m *TestLogger) SetLevel(level LogLevel) {
	m.Logger.SetLevel(level)
	m.Level = level
}

func (m *TestLogger) GetLevel() LogLevel {
	return m.Level
}
