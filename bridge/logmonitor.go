package bridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// LogLevel controls which severities a LogMonitor forwards.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogMonitor is a small structured-logging facade kept at the teacher's
// call-site shape (Infof/Warnf/Errorf/Debugf, SetLogLevel,
// SetLogTimeFormat, NewLogMonitorWriter) but backed internally by
// log/slog rather than a hand-rolled writer chain. It also implements
// io.Writer so it can be chained the way the teacher chains muxLogger ->
// upstreamLogger/proxyLogger.
type LogMonitor struct {
	mu         sync.Mutex
	level      LogLevel
	timeFormat string
	logger     *slog.Logger
	out        io.Writer
	component  string
}

// NewLogMonitorWriter builds a LogMonitor that writes through to out. Pass
// io.Discard for loggers the caller wants to silence entirely, or another
// *LogMonitor to fan one logger's output into another's sink, matching the
// teacher's muxLogger/upstreamLogger/proxyLogger chaining.
func NewLogMonitorWriter(out io.Writer) *LogMonitor {
	if out == nil {
		out = io.Discard
	}
	m := &LogMonitor{
		level:      LevelInfo,
		timeFormat: time.Kitchen,
		out:        out,
	}
	m.rebuild()
	return m
}

// Named returns a copy of m that tags every record with component, useful
// for distinguishing "router", "parser", "upstream" in shared output.
func (m *LogMonitor) Named(component string) *LogMonitor {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := &LogMonitor{level: m.level, timeFormat: m.timeFormat, out: m.out, component: component}
	n.rebuild()
	return n
}

func (m *LogMonitor) rebuild() {
	h := slog.NewTextHandler(m.out, &slog.HandlerOptions{Level: m.level.slogLevel()})
	logger := slog.New(h)
	if m.component != "" {
		logger = logger.With(slog.String("component", m.component))
	}
	m.logger = logger
}

// SetLogLevel changes the minimum severity forwarded to the sink.
func (m *LogMonitor) SetLogLevel(level LogLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = level
	m.rebuild()
}

// SetLogTimeFormat is kept for API parity with the teacher's LogMonitor;
// slog's text handler stamps its own time, so this only affects Write's
// raw passthrough framing.
func (m *LogMonitor) SetLogTimeFormat(format string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeFormat = format
}

func (m *LogMonitor) Debugf(format string, args ...any) { m.logf(LevelDebug, format, args...) }
func (m *LogMonitor) Infof(format string, args ...any)  { m.logf(LevelInfo, format, args...) }
func (m *LogMonitor) Warnf(format string, args ...any)  { m.logf(LevelWarn, format, args...) }
func (m *LogMonitor) Errorf(format string, args ...any) { m.logf(LevelError, format, args...) }

func (m *LogMonitor) Debug(msg string) { m.logf(LevelDebug, "%s", msg) }
func (m *LogMonitor) Info(msg string)  { m.logf(LevelInfo, "%s", msg) }
func (m *LogMonitor) Warn(msg string)  { m.logf(LevelWarn, "%s", msg) }
func (m *LogMonitor) Error(msg string) { m.logf(LevelError, "%s", msg) }

func (m *LogMonitor) logf(level LogLevel, format string, args ...any) {
	m.mu.Lock()
	logger := m.logger
	m.mu.Unlock()
	logger.Log(context.Background(), level.slogLevel(), fmt.Sprintf(format, args...))
}

// Write implements io.Writer so a LogMonitor can sit in the middle of a
// chain (e.g. upstreamLogger writing into muxLogger's own sink) without
// going through slog's structured formatting for passthrough bytes.
func (m *LogMonitor) Write(p []byte) (int, error) {
	m.mu.Lock()
	out := m.out
	m.mu.Unlock()
	return out.Write(bytes.TrimRight(p, "\n"))
}
