package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestNew(t *testing.T) {
	t.Run("writes JSON to rotating file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "daemon.log")

		logger, err := New(Options{Level: LevelDebug, File: path})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		logger.Info("daemon started", "pid", 42)
		if err := logger.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read log file: %v", err)
		}
		entries := decodeLines(t, data)
		if len(entries) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(entries))
		}
		if entries[0]["msg"] != "daemon started" {
			t.Errorf("msg = %v, want daemon started", entries[0]["msg"])
		}
	})

	t.Run("console output goes to writer", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Options{Level: LevelInfo, Console: true, ConsoleWriter: &buf})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer func() { _ = logger.Close() }()

		logger.Warn("lock lost", "project_id", "studio/song")
		if !strings.Contains(buf.String(), "lock lost") {
			t.Errorf("console output %q missing message", buf.String())
		}
		if strings.Contains(buf.String(), "\x1b[") {
			t.Error("console output to a buffer must not be colored")
		}
	})

	t.Run("file and console together", func(t *testing.T) {
		var buf bytes.Buffer
		path := filepath.Join(t.TempDir(), "both.log")
		logger, err := New(Options{File: path, Console: true, ConsoleWriter: &buf})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		logger.Error("commit failed")
		_ = logger.Close()

		data, _ := os.ReadFile(path)
		if !strings.Contains(string(data), "commit failed") {
			t.Error("file handler missed record")
		}
		if !strings.Contains(buf.String(), "commit failed") {
			t.Error("console handler missed record")
		}
	})
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		level     string
		wantCount int
	}{
		{LevelDebug, 4},
		{LevelInfo, 3},
		{LevelWarn, 2},
		{LevelError, 1},
		{"bogus", 3},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWithWriter(&buf, tt.level)
			logger.Debug("d")
			logger.Info("i")
			logger.Warn("w")
			logger.Error("e")

			if got := len(decodeLines(t, buf.Bytes())); got != tt.wantCount {
				t.Errorf("level %s logged %d entries, want %d", tt.level, got, tt.wantCount)
			}
		})
	}
}

func TestContextPropagation(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(&buf, LevelDebug)

	child := base.WithProject("studio/song").WithComponent("orchestrator").WithOperation("commit")
	child.With("attempt", 2).Info("retrying")
	base.Info("plain")

	entries := decodeLines(t, buf.Bytes())
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	first := entries[0]
	if first["project_id"] != "studio/song" || first["component"] != "orchestrator" || first["operation"] != "commit" {
		t.Errorf("missing propagated attrs: %v", first)
	}
	if first["attempt"] != float64(2) {
		t.Errorf("attempt = %v, want 2", first["attempt"])
	}
	if _, ok := entries[1]["project_id"]; ok {
		t.Error("parent logger must not inherit child attrs")
	}
}

func TestWith_IgnoresNonStringKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, LevelInfo).With(42, "x", "ok", true)
	logger.Info("m")

	entries := decodeLines(t, buf.Bytes())
	if entries[0]["ok"] != true {
		t.Errorf("expected ok=true, got %v", entries[0])
	}
}

func TestConcurrentLogging(t *testing.T) {
	var mu sync.Mutex
	var buf bytes.Buffer
	logger := NewWithWriter(&lockedWriter{mu: &mu, w: &buf}, LevelInfo)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.WithProject("p").Info("event", "n", n)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if got := len(decodeLines(t, buf.Bytes())); got != 20 {
		t.Errorf("got %d entries, want 20", got)
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	logger.Info("discarded")
	if err := logger.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("warn") != LevelWarn {
		t.Error("ParseLevel should be case-insensitive")
	}
	if ParseLevel("nope") != LevelInfo {
		t.Error("unknown levels default to INFO")
	}
	if len(ValidLevels()) != 4 {
		t.Error("expected four levels")
	}
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
