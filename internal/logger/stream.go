package logger

import (
	"strings"
	"sync"
	"time"
)

// StreamLogEntry represents a single log entry for streaming
type StreamLogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogStream keeps the most recent entries in a ring buffer and fans new
// entries out to subscribers
type LogStream struct {
	mu          sync.RWMutex
	entries     []StreamLogEntry
	next        int
	full        bool
	subscribers map[chan StreamLogEntry]struct{}
	closed      bool
}

// NewLogStream creates a new log stream holding up to maxSize entries
func NewLogStream(maxSize int) *LogStream {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &LogStream{
		entries:     make([]StreamLogEntry, maxSize),
		subscribers: make(map[chan StreamLogEntry]struct{}),
	}
}

// Add adds a log entry to the stream
func (ls *LogStream) Add(entry StreamLogEntry) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.closed {
		return
	}

	ls.entries[ls.next] = entry
	ls.next = (ls.next + 1) % len(ls.entries)
	if ls.next == 0 {
		ls.full = true
	}

	for ch := range ls.subscribers {
		select {
		case ch <- entry:
		default:
			// slow subscriber, drop
		}
	}
}

// Subscribe returns a channel receiving every new entry
func (ls *LogStream) Subscribe() chan StreamLogEntry {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ch := make(chan StreamLogEntry, 100)
	if ls.closed {
		close(ch)
		return ch
	}
	ls.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a subscription channel
func (ls *LogStream) Unsubscribe(ch chan StreamLogEntry) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if _, ok := ls.subscribers[ch]; ok {
		delete(ls.subscribers, ch)
		close(ch)
	}
}

// GetEntries returns up to limit of the most recent entries, oldest first,
// optionally restricted to a minimum level
func (ls *LogStream) GetEntries(limit int, minLevel string) []StreamLogEntry {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	var ordered []StreamLogEntry
	if ls.full {
		ordered = append(ordered, ls.entries[ls.next:]...)
	}
	ordered = append(ordered, ls.entries[:ls.next]...)

	if minLevel != "" {
		threshold := parseLevel(minLevel)
		filtered := ordered[:0:0]
		for _, e := range ordered {
			if parseLevel(e.Level) >= threshold {
				filtered = append(filtered, e)
			}
		}
		ordered = filtered
	}

	if limit > 0 && limit < len(ordered) {
		ordered = ordered[len(ordered)-limit:]
	}
	result := make([]StreamLogEntry, len(ordered))
	copy(result, ordered)
	return result
}

// Close closes the log stream
func (ls *LogStream) Close() {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.closed = true
	for ch := range ls.subscribers {
		close(ch)
	}
	ls.subscribers = make(map[chan StreamLogEntry]struct{})
}

var (
	globalLogStream *LogStream
	onceStream      sync.Once
)

// InitLogStream initializes the global log stream
func InitLogStream(maxSize int) {
	onceStream.Do(func() {
		globalLogStream = NewLogStream(maxSize)
	})
}

// GetLogStream returns the global log stream
func GetLogStream() *LogStream {
	InitLogStream(1000)
	return globalLogStream
}

// ValidLevel reports whether level names a known log level
func ValidLevel(level string) bool {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "FATAL":
		return true
	}
	return false
}
