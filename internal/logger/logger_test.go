package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strazto/jellyfin/internal/config"
)

func todayFile(dir, component string) string {
	return filepath.Join(dir, "netmanager-"+component+"-"+time.Now().Format(dateLayout)+".log")
}

func TestNewLogger(t *testing.T) {
	t.Run("Initialize with stdout output", func(t *testing.T) {
		cfg := &config.LogConfig{Level: "debug", Format: "json", Output: "stdout"}

		logger, err := NewLogger(cfg, "test")
		require.NoError(t, err)
		assert.Equal(t, DEBUG, logger.Level())
		assert.Nil(t, logger.file)
	})

	t.Run("Initialize with file output", func(t *testing.T) {
		tmpDir := t.TempDir()
		cfg := &config.LogConfig{Level: "info", Format: "text", Output: "file", Directory: tmpDir, MaxSize: 1, MaxAge: 1}

		logger, err := NewLogger(cfg, "test")
		require.NoError(t, err)

		logger.log(INFO, "test message", nil)
		require.NoError(t, logger.Close())

		content, err := os.ReadFile(todayFile(tmpDir, "test"))
		require.NoError(t, err)
		assert.Contains(t, string(content), "test message")
	})

	t.Run("File output needs a directory", func(t *testing.T) {
		_, err := NewLogger(&config.LogConfig{Output: "file"}, "test")
		assert.Error(t, err)
	})

	t.Run("Invalid log level defaults to info", func(t *testing.T) {
		logger, err := NewLogger(&config.LogConfig{Level: "invalid", Output: "stdout"}, "test")
		require.NoError(t, err)
		assert.Equal(t, INFO, logger.Level())
	})
}

func TestLogFormats(t *testing.T) {
	t.Run("JSON format", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLoggerWithWriter(&buf, "info", true)

		logger.WithField("adapter", "eth0").WithField("index", 2).Info("adapter scanned")

		var record map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, "INFO", record["level"])
		assert.Equal(t, "adapter scanned", record["msg"])
		assert.Equal(t, "eth0", record["adapter"])
		assert.Equal(t, float64(2), record["index"])
	})

	t.Run("JSON escapes quotes", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLoggerWithWriter(&buf, "info", true)

		logger.Infof(`bad entry "%s"`, "x=y=z")

		var record map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, `bad entry "x=y=z"`, record["msg"])
	})

	t.Run("Text format", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLoggerWithWriter(&buf, "info", false)

		logger.WithField("key", "value").Warn("text message")

		line := buf.String()
		assert.Contains(t, line, "WARN text message")
		assert.Contains(t, line, "key=value")
	})
}

func TestLogWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "info", false)

	logger.WithError(errors.New("boom")).Error("operation failed")

	assert.Contains(t, buf.String(), "operation failed")
	assert.Contains(t, buf.String(), "error=boom")
}

func TestLogEntryChainingDoesNotShareFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "info", false)

	base := logger.WithField("component", "network")
	base.WithField("a", 1).Info("first")
	base.WithField("b", 2).Info("second")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[1], "a=1")
	assert.Contains(t, lines[1], "b=2")
}

func TestWithFieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "info", false)

	logger.WithFields(map[string]interface{}{"zeta": 1, "alpha": 2}).Info("sorted")
	assert.Less(t, strings.Index(buf.String(), "alpha"), strings.Index(buf.String(), "zeta"))
}

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "warn", false)

	logger.Debugf("debug %d", 1)
	logger.Infof("info %d", 2)
	logger.Warnf("warn %d", 3)
	logger.Errorf("error %d", 4)

	out := buf.String()
	assert.NotContains(t, out, "debug 1")
	assert.NotContains(t, out, "info 2")
	assert.Contains(t, out, "warn 3")
	assert.Contains(t, out, "error 4")

	logger.SetLevel("debug")
	logger.Debugf("debug %d", 5)
	assert.Contains(t, buf.String(), "debug 5")
}

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{FATAL, "FATAL"},
		{LogLevel(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.String())
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, parseLevel("debug"))
	assert.Equal(t, WARN, parseLevel("WARNING"))
	assert.Equal(t, ERROR, parseLevel(" error "))
	assert.Equal(t, INFO, parseLevel(""))
	assert.True(t, ValidLevel("warn"))
	assert.False(t, ValidLevel("loud"))
}

func TestLogRotationBySize(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &config.LogConfig{Level: "info", Output: "file", Directory: tmpDir, MaxSize: 1, MaxAge: 7}

	logger, err := NewLogger(cfg, "rot")
	require.NoError(t, err)
	defer logger.Close()

	logger.log(INFO, strings.Repeat("x", 1024), nil)
	logger.mu.Lock()
	logger.currentSize = logger.maxSize
	logger.mu.Unlock()

	logger.checkRotation(time.Now())

	matches, err := filepath.Glob(filepath.Join(tmpDir, "netmanager-rot-*.log"))
	require.NoError(t, err)
	assert.Len(t, matches, 2, "rotated file plus a fresh current file")

	logger.mu.Lock()
	assert.Equal(t, int64(0), logger.currentSize)
	logger.mu.Unlock()
}

func TestCleanOldFiles(t *testing.T) {
	tmpDir := t.TempDir()
	old := filepath.Join(tmpDir, "netmanager-svc-2020-01-01.log")
	other := filepath.Join(tmpDir, "netmanager-other-2020-01-01.log")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(other, []byte("x"), 0644))

	logger := &Logger{logDir: tmpDir, component: "svc", maxAge: 3}
	logger.cleanOldFiles(time.Now())

	_, err := os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(other)
	assert.NoError(t, err)
}

func TestLogStream(t *testing.T) {
	stream := NewLogStream(3)
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "debug", false)
	logger.stream = stream

	ch := stream.Subscribe()
	for i := 0; i < 5; i++ {
		logger.Infof("entry %d", i)
	}
	logger.Debugf("quiet")

	entries := stream.GetEntries(0, "")
	require.Len(t, entries, 3)
	assert.Equal(t, "entry 3", entries[0].Message)
	assert.Equal(t, "quiet", entries[2].Message)

	infoOnly := stream.GetEntries(0, "info")
	require.Len(t, infoOnly, 2)
	assert.Equal(t, "entry 4", infoOnly[1].Message)

	first := <-ch
	assert.Equal(t, "entry 0", first.Message)

	stream.Unsubscribe(ch)
	stream.Close()
	stream.Add(StreamLogEntry{Message: "after close"})
	assert.Len(t, stream.GetEntries(10, ""), 3)
}

func TestConcurrency(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "info", false)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				logger.WithField("goroutine", id).Infof("message %d", j)
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 200)
}

func TestGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	previous := SetLogger(NewLoggerWithWriter(&buf, "info", false))
	defer SetLogger(previous)

	WithField("k", "v").Info("global entry")
	Infof("formatted %s", "global")

	assert.Contains(t, buf.String(), "global entry")
	assert.Contains(t, buf.String(), "formatted global")
}
