package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Logger is the structured logger every package takes.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// With returns a child logger that adds fields to every line.
	With(fields ...Field) Logger
	SetLevel(level Level)
	GetLevel() Level
}

// Entry is one line of JSONLogger output. The run and node are lifted out of
// Fields so lines from parallel node workers can be filtered directly.
type Entry struct {
	Time    string         `json:"time"`
	Level   string         `json:"level"`
	RunID   string         `json:"run_id,omitempty"`
	Node    string         `json:"node,omitempty"`
	Message string         `json:"msg"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// JSONLogger writes one Entry per line. Children created by With share the
// parent's write lock, so node loggers running in parallel never interleave
// partial lines.
type JSONLogger struct {
	writer  io.Writer
	writeMu *sync.Mutex

	mu     sync.Mutex
	level  Level
	fields []Field
}

func NewJSONLogger(writer io.Writer, level Level) *JSONLogger {
	return &JSONLogger{writer: writer, writeMu: &sync.Mutex{}, level: level}
}

func (l *JSONLogger) entry(level Level, msg string, fields []Field) Entry {
	l.mu.Lock()
	preset := l.fields
	l.mu.Unlock()

	e := Entry{
		Time:    time.Now().Format(time.RFC3339Nano),
		Level:   level.String(),
		Message: msg,
	}
	m := make(map[string]any, len(preset)+len(fields))
	for _, set := range [][]Field{preset, fields} {
		for _, f := range set {
			m[f.Key] = f.Value
		}
	}
	if v, ok := m[runIDKey].(string); ok {
		e.RunID = v
		delete(m, runIDKey)
	}
	if v, ok := m[nodeKey].(string); ok {
		e.Node = v
		delete(m, nodeKey)
	}
	if len(m) > 0 {
		e.Fields = m
	}
	return e
}

func (l *JSONLogger) log(level Level, msg string, fields ...Field) {
	if level < l.GetLevel() {
		return
	}
	data, err := json.Marshal(l.entry(level, msg, fields))

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err != nil {
		fmt.Fprintf(l.writer, "[ERROR] marshalling log entry %q: %v\n", msg, err)
		return
	}
	l.writer.Write(append(data, '\n'))
}

func (l *JSONLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields...) }
func (l *JSONLogger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields...) }
func (l *JSONLogger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields...) }
func (l *JSONLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields...) }

func (l *JSONLogger) With(fields ...Field) Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &JSONLogger{
		writer:  l.writer,
		writeMu: l.writeMu,
		level:   l.level,
		fields:  append(append(make([]Field, 0, len(l.fields)+len(fields)), l.fields...), fields...),
	}
}

func (l *JSONLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *JSONLogger) GetLevel() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// NopLogger discards everything; tests use it.
type NopLogger struct{}

func NewNopLogger() Logger { return NopLogger{} }

func (NopLogger) Debug(string, ...Field) {}
func (NopLogger) Info(string, ...Field)  {}
func (NopLogger) Warn(string, ...Field)  {}
func (NopLogger) Error(string, ...Field) {}
func (n NopLogger) With(...Field) Logger { return n }
func (NopLogger) SetLevel(Level)         {}
func (NopLogger) GetLevel() Level        { return InfoLevel }

// TimedOperation logs one line with the latency of the operation it wraps.
type TimedOperation struct {
	logger Logger
	msg    string
	start  time.Time
	fields []Field
}

func StartTimer(logger Logger, msg string, fields ...Field) *TimedOperation {
	return &TimedOperation{logger: logger, msg: msg, start: time.Now(), fields: fields}
}

func (t *TimedOperation) End() {
	t.logger.Info(t.msg, append(t.fields, Latency(time.Since(t.start)))...)
}

// EndError logs at error level with err attached.
func (t *TimedOperation) EndError(err error) {
	t.logger.Error(t.msg, append(t.fields, Latency(time.Since(t.start)), Error(err))...)
}
