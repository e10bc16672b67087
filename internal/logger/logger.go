// Package logger provides leveled, structured logging with file rotation.
// Entries go to stdout, a rotating file or both, and are mirrored into an
// in-memory stream for the diagnostics API.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/strazto/jellyfin/internal/config"
)

// LogLevel represents the severity level of a log message
type LogLevel int32

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value interface{}
}

const dateLayout = "2006-01-02"

// Logger is the main logger structure
type Logger struct {
	mu          sync.Mutex
	level       atomic.Int32
	formatJSON  bool
	stdout      io.Writer
	file        *os.File
	logDir      string
	component   string
	maxSize     int64 // bytes, 0 = no size rotation
	maxAge      int   // days
	currentSize int64
	currentDate string
	stream      *LogStream
	done        chan struct{}
	closeOnce   sync.Once
}

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
)

// InitLogger initializes the global logger with the given configuration.
// component names the log files: netmanager-{component}-{date}.log
func InitLogger(cfg *config.LogConfig, component string) error {
	l, err := NewLogger(cfg, component)
	if err != nil {
		return err
	}
	l.stream = GetLogStream()

	defaultMu.Lock()
	previous := defaultLogger
	defaultLogger = l
	defaultMu.Unlock()

	if previous != nil {
		previous.Close()
	}
	return nil
}

// NewLogger creates a new logger instance
func NewLogger(cfg *config.LogConfig, component string) (*Logger, error) {
	l := &Logger{
		formatJSON:  strings.EqualFold(cfg.Format, "json"),
		logDir:      cfg.Directory,
		component:   component,
		maxSize:     int64(cfg.MaxSize) * 1024 * 1024,
		maxAge:      cfg.MaxAge,
		currentDate: time.Now().Format(dateLayout),
		done:        make(chan struct{}),
	}
	l.level.Store(int32(parseLevel(cfg.Level)))

	switch strings.ToLower(cfg.Output) {
	case "file":
		if err := l.openFile(); err != nil {
			return nil, err
		}
	case "both":
		l.stdout = os.Stdout
		if err := l.openFile(); err != nil {
			return nil, err
		}
	default:
		l.stdout = os.Stdout
	}

	if l.file != nil {
		go l.rotationChecker()
	}
	return l, nil
}

// NewLoggerWithWriter creates a logger writing only to w
func NewLoggerWithWriter(w io.Writer, level string, formatJSON bool) *Logger {
	l := &Logger{
		formatJSON:  formatJSON,
		stdout:      w,
		currentDate: time.Now().Format(dateLayout),
		done:        make(chan struct{}),
	}
	l.level.Store(int32(parseLevel(level)))
	return l
}

// SetLevel changes the minimum level at runtime
func (l *Logger) SetLevel(level string) {
	l.level.Store(int32(parseLevel(level)))
}

// Level returns the current minimum level
func (l *Logger) Level() LogLevel {
	return LogLevel(l.level.Load())
}

func (l *Logger) fileName() string {
	return fmt.Sprintf("netmanager-%s-%s.log", l.component, l.currentDate)
}

// openFile opens today's log file (caller holds l.mu or is constructing)
func (l *Logger) openFile() error {
	if l.logDir == "" {
		return fmt.Errorf("log directory not configured")
	}
	if err := os.MkdirAll(l.logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(l.logDir, l.fileName())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	if info, err := f.Stat(); err == nil {
		l.currentSize = info.Size()
	}
	l.file = f
	return nil
}

// rotationChecker periodically checks if log rotation is needed
func (l *Logger) rotationChecker() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.checkRotation(time.Now())
		}
	}
}

func (l *Logger) checkRotation(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return
	}

	// A new day starts a new file; yesterday's keeps its name
	if today := now.Format(dateLayout); today != l.currentDate {
		l.file.Close()
		l.currentDate = today
		if err := l.openFile(); err != nil {
			fmt.Fprintf(os.Stderr, "[ERROR] log rotation failed: %v\n", err)
		}
		l.cleanOldFiles(now)
		return
	}

	if l.maxSize > 0 && l.currentSize >= l.maxSize {
		l.rotateBySize(now)
	}
}

// rotateBySize renames the current file with a timestamp suffix and reopens
func (l *Logger) rotateBySize(now time.Time) {
	l.file.Close()

	current := filepath.Join(l.logDir, l.fileName())
	backup := filepath.Join(l.logDir, fmt.Sprintf("netmanager-%s-%s-%s.log",
		l.component, l.currentDate, now.Format("150405")))
	if err := os.Rename(current, backup); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] log rotation rename failed: %v\n", err)
	}

	if err := l.openFile(); err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] log rotation failed: %v\n", err)
	}
	l.cleanOldFiles(now)
}

// cleanOldFiles removes this component's files older than maxAge days
func (l *Logger) cleanOldFiles(now time.Time) {
	if l.maxAge <= 0 {
		return
	}
	entries, err := os.ReadDir(l.logDir)
	if err != nil {
		return
	}

	prefix := fmt.Sprintf("netmanager-%s-", l.component)
	cutoff := now.AddDate(0, 0, -l.maxAge)
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		if len(rest) < len(dateLayout) {
			continue
		}
		day, err := time.Parse(dateLayout, rest[:len(dateLayout)])
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			os.Remove(filepath.Join(l.logDir, name))
		}
	}
}

// parseLevel converts string level to LogLevel
func parseLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLoggerWithWriter(os.Stdout, "info", false)
		defaultLogger.stream = GetLogStream()
	}
	return defaultLogger
}

// SetLogger replaces the global logger and returns the previous one
func SetLogger(l *Logger) *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	previous := defaultLogger
	defaultLogger = l
	return previous
}

func (l *Logger) format(ts time.Time, level LogLevel, msg string, fields []Field) []byte {
	if l.formatJSON {
		record := make(map[string]interface{}, len(fields)+3)
		for _, f := range fields {
			record[f.Key] = fieldValue(f.Value)
		}
		record["time"] = ts.Format(time.RFC3339)
		record["level"] = level.String()
		record["msg"] = msg
		data, err := json.Marshal(record)
		if err != nil {
			data = []byte(fmt.Sprintf(`{"time":%q,"level":%q,"msg":%q}`, ts.Format(time.RFC3339), level, msg))
		}
		return append(data, '\n')
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s", ts.Format("2006-01-02 15:04:05"), level, msg)
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// fieldValue keeps JSON output readable for values without a JSON form
func fieldValue(v interface{}) interface{} {
	switch val := v.(type) {
	case error:
		return val.Error()
	case fmt.Stringer:
		return val.String()
	default:
		return v
	}
}

// log is the internal logging method
func (l *Logger) log(level LogLevel, msg string, fields []Field) {
	if level < l.Level() {
		return
	}

	now := time.Now()
	line := l.format(now, level, msg, fields)

	l.mu.Lock()
	if l.stdout != nil {
		if _, err := l.stdout.Write(line); err != nil {
			fmt.Fprintf(os.Stderr, "[ERROR] failed to write log: %v\n", err)
		}
	}
	if l.file != nil {
		n, err := l.file.Write(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[ERROR] failed to write log file: %v\n", err)
		}
		l.currentSize += int64(n)
	}
	stream := l.stream
	l.mu.Unlock()

	if stream != nil {
		var fieldMap map[string]interface{}
		if len(fields) > 0 {
			fieldMap = make(map[string]interface{}, len(fields))
			for _, f := range fields {
				fieldMap[f.Key] = fieldValue(f.Value)
			}
		}
		stream.Add(StreamLogEntry{
			Timestamp: now,
			Level:     level.String(),
			Message:   msg,
			Fields:    fieldMap,
		})
	}
}

// WithField creates a log entry with a single field
func (l *Logger) WithField(key string, value interface{}) *LogEntry {
	return &LogEntry{logger: l, fields: []Field{{Key: key, Value: value}}}
}

// WithFields creates a log entry with multiple fields
func (l *Logger) WithFields(fields map[string]interface{}) *LogEntry {
	return (&LogEntry{logger: l}).WithFields(fields)
}

// WithError creates a log entry with an error field
func (l *Logger) WithError(err error) *LogEntry {
	return (&LogEntry{logger: l}).WithError(err)
}

// LogEntry represents a log entry with fields
type LogEntry struct {
	logger *Logger
	fields []Field
}

func (e *LogEntry) with(extra ...Field) *LogEntry {
	fields := make([]Field, 0, len(e.fields)+len(extra))
	fields = append(fields, e.fields...)
	fields = append(fields, extra...)
	return &LogEntry{logger: e.logger, fields: fields}
}

// WithField adds a field to the log entry
func (e *LogEntry) WithField(key string, value interface{}) *LogEntry {
	return e.with(Field{Key: key, Value: value})
}

// WithFields adds multiple fields to the log entry, sorted by key
func (e *LogEntry) WithFields(fields map[string]interface{}) *LogEntry {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	extra := make([]Field, 0, len(keys))
	for _, k := range keys {
		extra = append(extra, Field{Key: k, Value: fields[k]})
	}
	return e.with(extra...)
}

// WithError adds an error field to the log entry
func (e *LogEntry) WithError(err error) *LogEntry {
	if err == nil {
		return e.with(Field{Key: "error", Value: "<nil>"})
	}
	return e.with(Field{Key: "error", Value: err.Error()})
}

// Debug logs at debug level
func (e *LogEntry) Debug(args ...interface{}) { e.logger.log(DEBUG, fmt.Sprint(args...), e.fields) }

// Debugf logs a formatted message at debug level
func (e *LogEntry) Debugf(format string, args ...interface{}) {
	e.logger.log(DEBUG, fmt.Sprintf(format, args...), e.fields)
}

// Info logs at info level
func (e *LogEntry) Info(args ...interface{}) { e.logger.log(INFO, fmt.Sprint(args...), e.fields) }

// Infof logs a formatted message at info level
func (e *LogEntry) Infof(format string, args ...interface{}) {
	e.logger.log(INFO, fmt.Sprintf(format, args...), e.fields)
}

// Warn logs at warning level
func (e *LogEntry) Warn(args ...interface{}) { e.logger.log(WARN, fmt.Sprint(args...), e.fields) }

// Warnf logs a formatted message at warning level
func (e *LogEntry) Warnf(format string, args ...interface{}) {
	e.logger.log(WARN, fmt.Sprintf(format, args...), e.fields)
}

// Error logs at error level
func (e *LogEntry) Error(args ...interface{}) { e.logger.log(ERROR, fmt.Sprint(args...), e.fields) }

// Errorf logs a formatted message at error level
func (e *LogEntry) Errorf(format string, args ...interface{}) {
	e.logger.log(ERROR, fmt.Sprintf(format, args...), e.fields)
}

// Fatal logs at fatal level and exits
func (e *LogEntry) Fatal(args ...interface{}) {
	e.logger.log(FATAL, fmt.Sprint(args...), e.fields)
	os.Exit(1)
}

// Global convenience functions

// WithField creates a logger entry with a single field
func WithField(key string, value interface{}) *LogEntry {
	return GetLogger().WithField(key, value)
}

// WithFields creates a logger entry with multiple fields
func WithFields(fields map[string]interface{}) *LogEntry {
	return GetLogger().WithFields(fields)
}

// WithError creates a logger entry with an error field
func WithError(err error) *LogEntry {
	return GetLogger().WithError(err)
}

// Debugf logs a formatted message at debug level
func Debugf(format string, args ...interface{}) {
	GetLogger().log(DEBUG, fmt.Sprintf(format, args...), nil)
}

// Info logs a message at info level
func Info(args ...interface{}) {
	GetLogger().log(INFO, fmt.Sprint(args...), nil)
}

// Infof logs a formatted message at info level
func Infof(format string, args ...interface{}) {
	GetLogger().log(INFO, fmt.Sprintf(format, args...), nil)
}

// Warnf logs a formatted message at warning level
func Warnf(format string, args ...interface{}) {
	GetLogger().log(WARN, fmt.Sprintf(format, args...), nil)
}

// Error logs a message at error level
func Error(args ...interface{}) {
	GetLogger().log(ERROR, fmt.Sprint(args...), nil)
}

// Errorf logs a formatted message at error level
func Errorf(format string, args ...interface{}) {
	GetLogger().log(ERROR, fmt.Sprintf(format, args...), nil)
}

// Fatalf logs a formatted message at fatal level and exits
func Fatalf(format string, args ...interface{}) {
	GetLogger().log(FATAL, fmt.Sprintf(format, args...), nil)
	os.Exit(1)
}

// Close stops rotation and closes the log file
func (l *Logger) Close() error {
	l.closeOnce.Do(func() { close(l.done) })

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Infof logs a formatted message at info level
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(INFO, fmt.Sprintf(format, args...), nil)
}

// Warnf logs a formatted message at warning level
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WARN, fmt.Sprintf(format, args...), nil)
}

// Errorf logs a formatted message at error level
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ERROR, fmt.Sprintf(format, args...), nil)
}

// Debugf logs a formatted message at debug level
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DEBUG, fmt.Sprintf(format, args...), nil)
}
